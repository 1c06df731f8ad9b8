package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/emachat/ema/internal/llm"
	"github.com/emachat/ema/pkg/models"
)

// perMessageOverhead approximates the framing tokens each message adds
// on the wire.
const perMessageOverhead = 4

const summarySystemPrompt = "You are an assistant skilled at summarizing Agent execution processes."

const summaryPromptFormat = `Please provide a concise summary of the following Agent execution process:

%s

Requirements:
1. Focus on what tasks were completed and which tools were called
2. Keep key execution results and important findings
3. Be concise and clear, within 1000 words
4. Use English
5. Do not include "user" related content, only summarize the Agent's execution process`

// summaryPrefix marks synthetic rounds injected in place of summarised
// execution history.
const summaryPrefix = "[Assistant Execution Summary]"

// ContextManager holds the mutable conversation history for one run
// and defends the context window: when either the local token estimate
// or the adapter-reported cumulative count exceeds the limit, the
// execution rounds between user messages are replaced with LLM-written
// summaries. User messages are never dropped.
//
// ContextManager is safe for concurrent use, though a run drives it
// from a single goroutine.
type ContextManager struct {
	mu             sync.Mutex
	messages       []models.Message
	llm            llm.Client
	tokenLimit     int
	estimator      TokenEstimator
	emitter        *Emitter
	logger         *slog.Logger
	apiTotalTokens int
	skipOnce       bool
	fallbackWarned bool
}

// NewContextManager seeds a manager with existing history. The llm
// client is used only for summarisation calls. A zero tokenLimit
// disables summarisation.
func NewContextManager(client llm.Client, tokenLimit int, history []models.Message, emitter *Emitter, logger *slog.Logger) *ContextManager {
	if logger == nil {
		logger = slog.Default()
	}
	messages := make([]models.Message, len(history))
	copy(messages, history)
	return &ContextManager{
		messages:   messages,
		llm:        client,
		tokenLimit: tokenLimit,
		estimator:  HeuristicTokens,
		emitter:    emitter,
		logger:     logger,
	}
}

// SetEstimator replaces the token estimator. Intended for tests and
// for callers with a real tokeniser.
func (cm *ContextManager) SetEstimator(estimator TokenEstimator) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if estimator != nil {
		cm.estimator = estimator
	}
}

// AddUser appends a user message.
func (cm *ContextManager) AddUser(contents ...models.Content) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = append(cm.messages, models.NewUserMessage(contents...))
}

// AddModel appends the model message from a response and records the
// adapter-reported cumulative token count.
func (cm *ContextManager) AddModel(resp *models.LLMResponse) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = append(cm.messages, resp.Message)
	if resp.TotalTokens > 0 {
		cm.apiTotalTokens = resp.TotalTokens
	}
}

// AddTool appends a tool result message bound to its originating call.
func (cm *ContextManager) AddTool(result models.ToolResult, name, callID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = append(cm.messages, models.NewToolMessage(result, name, callID))
}

// History returns a shallow copy of the current history.
func (cm *ContextManager) History() []models.Message {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make([]models.Message, len(cm.messages))
	copy(out, cm.messages)
	return out
}

// EstimateTokens approximates the token footprint of the history:
// text parts plus JSON-serialised tool calls and results, with a small
// per-message overhead.
func (cm *ContextManager) EstimateTokens() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.estimateLocked()
}

func (cm *ContextManager) estimateLocked() int {
	total := 0
	for _, msg := range cm.messages {
		total += cm.countText(msg.Text())
		for _, call := range msg.ToolCalls {
			total += cm.countText(call.Name)
			total += cm.countText(call.ArgsJSON())
		}
		if msg.Result != nil {
			total += cm.countText(msg.Result.JSON())
		}
		total += perMessageOverhead
	}
	return total
}

func (cm *ContextManager) countText(text string) int {
	if text == "" {
		return 0
	}
	n, err := cm.estimator(text)
	if err != nil {
		if !cm.fallbackWarned {
			cm.fallbackWarned = true
			cm.logger.Warn("token estimator failed, falling back to character ratio", "error", err)
			if cm.emitter != nil {
				cm.emitter.Emit(models.AgentEvent{Type: models.AgentEventTokenFallback})
			}
		}
		return fallbackTokens(text)
	}
	return n
}

// Summarize compacts the history when the token limit is exceeded.
// No-op while under the limit, when no user message exists yet, or on
// the first call after a previous pass (the adapter count refreshes
// only on the next LLM call). A failed summary call degrades to the
// raw textual join of the round; history is never dropped silently.
func (cm *ContextManager) Summarize(ctx context.Context) {
	cm.mu.Lock()
	if cm.tokenLimit <= 0 {
		cm.mu.Unlock()
		return
	}
	if cm.skipOnce {
		cm.skipOnce = false
		cm.mu.Unlock()
		return
	}

	before := cm.estimateLocked()
	if before <= cm.tokenLimit && cm.apiTotalTokens <= cm.tokenLimit {
		cm.mu.Unlock()
		return
	}

	var userIndices []int
	for i, msg := range cm.messages {
		if msg.Role == models.RoleUser {
			userIndices = append(userIndices, i)
		}
	}
	if len(userIndices) == 0 {
		cm.mu.Unlock()
		return
	}

	// Snapshot so the summary LLM calls run without holding the lock.
	history := make([]models.Message, len(cm.messages))
	copy(history, cm.messages)
	cm.mu.Unlock()

	if cm.emitter != nil {
		cm.emitter.Emit(models.AgentEvent{
			Type:      models.AgentEventSummarizeStarted,
			Summarize: &models.SummarizePayload{Before: before},
		})
	}

	newHistory := make([]models.Message, 0, 2*len(userIndices))
	rounds := 0
	for i, userIdx := range userIndices {
		newHistory = append(newHistory, history[userIdx])

		end := len(history)
		if i < len(userIndices)-1 {
			end = userIndices[i+1]
		}
		round := history[userIdx+1 : end]
		if len(round) == 0 {
			continue
		}

		rounds++
		summary := cm.summarizeRound(ctx, round, rounds)
		newHistory = append(newHistory, models.NewUserTextMessage(summaryPrefix+"\n\n"+summary))
	}

	cm.mu.Lock()
	cm.messages = newHistory
	cm.skipOnce = true
	after := cm.estimateLocked()
	cm.mu.Unlock()

	cm.logger.Info("summarised message history",
		"tokens_before", before,
		"tokens_after", after,
		"rounds", rounds,
	)
	if cm.emitter != nil {
		cm.emitter.Emit(models.AgentEvent{
			Type:      models.AgentEventSummarizeFinished,
			Summarize: &models.SummarizePayload{Before: before, After: after, Rounds: rounds},
		})
	}
}

// summarizeRound asks the LLM for a concise summary of one execution
// round, degrading to the raw textual join on failure.
func (cm *ContextManager) summarizeRound(ctx context.Context, round []models.Message, roundNum int) string {
	raw := renderRound(round, roundNum)

	resp, err := cm.llm.Generate(ctx, &llm.Request{
		System: summarySystemPrompt,
		Messages: []models.Message{
			models.NewUserTextMessage(fmt.Sprintf(summaryPromptFormat, raw)),
		},
	})
	if err != nil {
		cm.logger.Warn("round summary failed, keeping raw join",
			"round", roundNum,
			"error", err,
		)
		return raw
	}

	text := resp.Message.Text()
	if strings.TrimSpace(text) == "" {
		return raw
	}
	return text
}

func renderRound(round []models.Message, roundNum int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d execution process:\n\n", roundNum)
	for _, msg := range round {
		switch msg.Role {
		case models.RoleModel:
			fmt.Fprintf(&b, "Assistant: %s\n", msg.Text())
			if len(msg.ToolCalls) > 0 {
				names := make([]string, 0, len(msg.ToolCalls))
				for _, call := range msg.ToolCalls {
					names = append(names, call.Name)
				}
				fmt.Fprintf(&b, "  Called tools: %s\n", strings.Join(names, ", "))
			}
		case models.RoleTool:
			if msg.Result != nil {
				fmt.Fprintf(&b, "  Tool returned: %s\n", msg.Result.JSON())
			}
		case models.RoleUser:
			// Synthetic summaries are user-role; keep their text.
			fmt.Fprintf(&b, "%s\n", msg.Text())
		}
	}
	return b.String()
}
