// Package agent implements the step-bounded LLM-plus-tools run loop:
// alternate LLM calls and tool invocations until the model stops
// requesting tools, the step budget runs out, or the run is aborted.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/emachat/ema/internal/llm"
	"github.com/emachat/ema/internal/retry"
	"github.com/emachat/ema/internal/tools"
	"github.com/emachat/ema/pkg/models"
)

// ErrAlreadyRunning is returned by Run when a run is still in flight.
var ErrAlreadyRunning = errors.New("agent: run already in progress")

// abortedMsg is the terminal message for cooperative cancellation.
const abortedMsg = "Aborted"

// State is the material of one run: the system prompt, the history so
// far, and the tool set. A run owns its State exclusively; the caller
// may cache it across preemption and hand it to a later run to resume.
type State struct {
	SystemPrompt string
	Messages     []models.Message
	Tools        *tools.Registry
}

// Config bounds a run.
type Config struct {
	// MaxSteps caps loop iterations per run.
	MaxSteps int

	// TokenLimit triggers history summarisation; zero disables it.
	TokenLimit int

	// MaxTokens caps the completion size per LLM call; zero uses the
	// adapter default.
	MaxTokens int

	Logger *slog.Logger
}

// DefaultConfig returns the standard run bounds.
func DefaultConfig() Config {
	return Config{
		MaxSteps:   50,
		TokenLimit: 80000,
	}
}

func (c Config) sanitized() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultConfig().MaxSteps
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Agent drives one cancellable run at a time against a State. All
// operational errors inside a run surface as events; a run terminates
// with exactly one runFinished.
type Agent struct {
	llm    llm.Client
	config Config
	logger *slog.Logger
	events *Emitter

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	aborted atomic.Bool
}

// New creates an agent bound to an LLM client.
func New(client llm.Client, config Config) *Agent {
	config = config.sanitized()
	return &Agent{
		llm:    client,
		config: config,
		logger: config.Logger,
		events: NewEmitter(config.Logger),
	}
}

// Events returns the agent's event emitter.
func (a *Agent) Events() *Emitter {
	return a.events
}

// Running reports whether a run is in flight.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Abort requests cooperative cancellation of the active run.
// Idempotent; returns once the request is delivered, which may be
// before the run observes it. The in-flight LLM call is cancelled;
// a tool execution in progress is allowed to finish.
func (a *Agent) Abort() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	a.aborted.Store(true)
	if cancel != nil {
		cancel()
	}
}

// Run executes the main loop over the given state. It blocks until the
// run terminates and returns an error only on caller misuse; run
// outcomes are reported through the runFinished event. On return,
// state.Messages reflects the history including any partial progress,
// so the caller can resume it.
func (a *Agent) Run(ctx context.Context, state *State) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.running = true
	a.cancel = cancel
	a.aborted.Store(false)
	a.mu.Unlock()

	defer func() {
		cancel()
		a.mu.Lock()
		a.running = false
		a.cancel = nil
		a.mu.Unlock()
	}()

	runID := uuid.NewString()
	cm := NewContextManager(a.llm, a.config.TokenLimit, state.Messages, a.events, a.logger)
	defer func() {
		state.Messages = cm.History()
	}()

	registry := state.Tools
	if registry == nil {
		registry, _ = tools.NewRegistry()
	}
	schemas := registry.Schemas()

	// Tools run to completion even when the run is aborted mid-turn.
	toolCtx := context.WithoutCancel(runCtx)

	for step := 1; step <= a.config.MaxSteps; step++ {
		if a.stopRequested(runCtx) {
			a.finishAborted(runID, step)
			return nil
		}

		a.events.Emit(models.AgentEvent{Type: models.AgentEventStepStarted, RunID: runID, Step: step})

		cm.Summarize(runCtx)

		resp, err := a.llm.Generate(runCtx, &llm.Request{
			System:    state.SystemPrompt,
			Messages:  cm.History(),
			Tools:     schemas,
			MaxTokens: a.config.MaxTokens,
		})
		if err != nil {
			a.finishCallError(runID, step, err)
			return nil
		}

		if a.stopRequested(runCtx) {
			// The aborted turn's model message is discarded.
			a.finishAborted(runID, step)
			return nil
		}

		cm.AddModel(resp)
		a.events.Emit(models.AgentEvent{
			Type:     models.AgentEventLLMResponse,
			RunID:    runID,
			Step:     step,
			Response: resp,
		})

		if len(resp.Message.ToolCalls) == 0 {
			a.events.Emit(models.AgentEvent{
				Type:  models.AgentEventRunFinished,
				RunID: runID,
				Step:  step,
				Run:   &models.RunFinishedPayload{OK: true, Msg: resp.FinishReason},
			})
			return nil
		}

		for _, call := range resp.Message.ToolCalls {
			if a.stopRequested(runCtx) {
				a.finishAborted(runID, step)
				return nil
			}

			a.events.Emit(models.AgentEvent{
				Type:  models.AgentEventToolCallStarted,
				RunID: runID,
				Step:  step,
				Tool:  &models.ToolEventPayload{CallID: call.ID, Name: call.Name},
			})

			result := registry.Dispatch(toolCtx, call)
			if !result.Success {
				a.logger.Warn("tool call failed",
					"tool", call.Name,
					"call_id", call.ID,
					"error", result.Error,
				)
			}

			a.events.Emit(models.AgentEvent{
				Type:  models.AgentEventToolCallFinished,
				RunID: runID,
				Step:  step,
				Tool:  &models.ToolEventPayload{CallID: call.ID, Name: call.Name, Result: &result},
			})

			if call.Name == tools.EmaReplyName && result.Success {
				reply, err := models.ParseEmaReply([]byte(result.Content))
				if err != nil {
					a.logger.Warn("reply tool produced an unparsable payload", "error", err)
				} else {
					a.events.Emit(models.AgentEvent{
						Type:  models.AgentEventEmaReply,
						RunID: runID,
						Step:  step,
						Reply: reply,
					})
					// The payload reached subscribers; history keeps
					// only the fact that the call succeeded.
					result.Content = ""
				}
			}

			cm.AddTool(result, call.Name, call.ID)
		}
	}

	msg := fmt.Sprintf("Task couldn't be completed after %d steps.", a.config.MaxSteps)
	a.logger.Warn("run exhausted step budget", "run_id", runID, "max_steps", a.config.MaxSteps)
	a.events.Emit(models.AgentEvent{
		Type:  models.AgentEventRunFinished,
		RunID: runID,
		Run:   &models.RunFinishedPayload{OK: false, Msg: msg, Error: msg},
	})
	return nil
}

func (a *Agent) stopRequested(ctx context.Context) bool {
	return a.aborted.Load() || ctx.Err() != nil
}

func (a *Agent) finishAborted(runID string, step int) {
	a.logger.Info("run aborted", "run_id", runID, "step", step)
	a.events.Emit(models.AgentEvent{
		Type:  models.AgentEventRunFinished,
		RunID: runID,
		Step:  step,
		Run:   &models.RunFinishedPayload{OK: false, Msg: abortedMsg, Error: abortedMsg},
	})
}

func (a *Agent) finishCallError(runID string, step int, err error) {
	payload := &models.RunFinishedPayload{OK: false}

	var exhausted *retry.ExhaustedError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		payload.Msg = abortedMsg
		payload.Error = abortedMsg
		a.logger.Info("run aborted during llm call", "run_id", runID, "step", step)
	case errors.As(err, &exhausted):
		payload.Msg = "RetryExhausted"
		payload.Error = err.Error()
		a.logger.Error("llm retries exhausted",
			"run_id", runID,
			"step", step,
			"attempts", exhausted.Attempts,
			"error", exhausted.LastErr,
		)
	default:
		payload.Msg = "Error"
		payload.Error = err.Error()
		a.logger.Error("llm call failed", "run_id", runID, "step", step, "error", err)
	}

	a.events.Emit(models.AgentEvent{
		Type:  models.AgentEventRunFinished,
		RunID: runID,
		Step:  step,
		Run:   payload,
	})
}
