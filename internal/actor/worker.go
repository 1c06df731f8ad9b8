// Package actor implements the per-actor worker: a serial facade that
// turns queued user inputs into agent runs, persists the transcript
// buffer, and fans lifecycle events out to subscribers.
package actor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emachat/ema/internal/agent"
	"github.com/emachat/ema/internal/llm"
	"github.com/emachat/ema/internal/memory"
	"github.com/emachat/ema/internal/observability"
	"github.com/emachat/ema/internal/tools"
	"github.com/emachat/ema/pkg/models"
)

var (
	// ErrEmptyInput is returned by Work for an empty input batch.
	ErrEmptyInput = errors.New("actor: inputs must not be empty")

	// ErrNonTextInput is returned by Work when a batch carries
	// anything but non-blank text content.
	ErrNonTextInput = errors.New("actor: only text inputs are supported")

	// ErrUnimplemented marks actor state storage operations that are
	// declared but not yet built.
	ErrUnimplemented = errors.New("actor: not implemented")

	// ErrClosed is returned by Work after Close.
	ErrClosed = errors.New("actor: worker is closed")
)

// memoryBufferPlaceholder is expanded in the system prompt with the
// recent transcript window before each fresh run.
const memoryBufferPlaceholder = "{MEMORY_BUFFER}"

// bufferWindow caps the transcript entries injected into the prompt.
const bufferWindow = 10

const bufferQueueSize = 1024

// Config describes one actor.
type Config struct {
	Identity models.Identity

	// Name labels the actor's own buffer entries.
	Name string

	// UserName labels the user's buffer entries.
	UserName string

	// SystemPrompt may contain {MEMORY_BUFFER} placeholders.
	SystemPrompt string

	// ExtraTools extends the built-in tool set (structured reply and
	// memory search) for this actor's runs.
	ExtraTools []tools.Tool

	// Agent bounds each run.
	Agent agent.Config

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// ReplyContent is the wire shape of an emaReplyReceived actor event.
type ReplyContent struct {
	Reply *models.EmaReply `json:"reply"`
}

type subscriberEntry struct {
	id      uint64
	fn      func(models.ActorSnapshot)
	sentIdx int
}

// Worker serialises everything for one actor identity: at most one
// agent run is in flight, queued input batches are processed FIFO, and
// buffer writes land in arrival order through a dedicated writer
// goroutine. New input during a run preempts it; the interrupted state
// is resumed only if the run has not yet produced a structured reply.
//
// Subscriber callbacks are invoked synchronously and must not call
// back into the Worker.
type Worker struct {
	config  Config
	llm     llm.Client
	store   memory.Store
	logger  *slog.Logger
	metrics *observability.Metrics

	mu               sync.Mutex
	status           models.ActorStatus
	queue            [][]models.Content
	processing       bool
	resume           bool
	hasEmaReplyInRun bool
	current          *agent.Agent
	cachedState      *agent.State
	events           []models.ActorEvent
	subs             []*subscriberEntry
	nextSubID        uint64
	closed           bool

	bufferCh   chan models.BufferMessage
	bufferWG   sync.WaitGroup
	bufferDone chan struct{}
}

// NewWorker creates a worker for one actor identity and starts its
// buffer writer. Call Close to release it.
func NewWorker(client llm.Client, store memory.Store, config Config) *Worker {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	w := &Worker{
		config:     config,
		llm:        client,
		store:      store,
		logger:     config.Logger.With("actor_id", config.Identity.ActorID, "user_id", config.Identity.UserID),
		metrics:    config.Metrics,
		status:     models.ActorStatusIdle,
		bufferCh:   make(chan models.BufferMessage, bufferQueueSize),
		bufferDone: make(chan struct{}),
	}
	go w.bufferWriter()
	return w
}

// Close stops the worker's buffer writer after draining pending
// writes. It does not abort an active run.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.bufferCh)
	<-w.bufferDone
}

// Status returns the worker's current status.
func (w *Worker) Status() models.ActorStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Work enqueues one batch of user inputs. It validates that the batch
// is non-empty, text-only; persists the user's buffer entry; and
// either kicks the queue processor or preempts the active run. The
// preempted run's state is resumed by the next pickup unless a
// structured reply has already been delivered.
func (w *Worker) Work(inputs []models.Content) error {
	if len(inputs) == 0 {
		return ErrEmptyInput
	}
	texts := make([]string, 0, len(inputs))
	for _, c := range inputs {
		if c.Type != models.ContentTypeText || strings.TrimSpace(c.Text) == "" {
			return ErrNonTextInput
		}
		texts = append(texts, c.Text)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}

	w.bufferWG.Add(1)
	w.bufferCh <- models.BufferMessage{
		Name: w.config.UserName,
		Time: time.Now().UnixMilli(),
		Role: models.BufferRoleUser,
		Text: strings.Join(texts, "\n"),
	}

	w.queue = append(w.queue, inputs)
	w.metrics.QueueDepthAdd(1)

	if w.processing {
		if !w.hasEmaReplyInRun {
			w.resume = true
		}
		active := w.current
		w.mu.Unlock()
		if active != nil {
			active.Abort()
		}
		return nil
	}

	w.processing = true
	w.mu.Unlock()
	go w.processQueue()
	return nil
}

// Subscribe registers a snapshot callback. The subscriber immediately
// receives a replay of all past events with the current status, then
// one snapshot per broadcast containing only the new events.
func (w *Worker) Subscribe(fn func(models.ActorSnapshot)) uint64 {
	w.mu.Lock()
	w.nextSubID++
	entry := &subscriberEntry{id: w.nextSubID, fn: fn, sentIdx: len(w.events)}
	w.subs = append(w.subs, entry)

	replay := make([]models.ActorEvent, len(w.events))
	copy(replay, w.events)
	// Delivered under the lock so no broadcast can slip in ahead of
	// the replay.
	w.deliver(entry, models.ActorSnapshot{Status: w.status, Events: replay})
	w.mu.Unlock()

	return entry.id
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
func (w *Worker) Unsubscribe(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, entry := range w.subs {
		if entry.id == id {
			w.subs = append(w.subs[:i], w.subs[i+1:]...)
			return
		}
	}
}

// Search queries the actor's long-term memory.
func (w *Worker) Search(ctx context.Context, keywords []string) ([]models.LongTermMemory, error) {
	return w.store.SearchLongTerm(ctx, w.config.Identity.ActorID, keywords)
}

// AddShortTermMemory persists a short-term memory for this actor.
func (w *Worker) AddShortTermMemory(ctx context.Context, content string) error {
	return w.store.AddShortTerm(ctx, &models.ShortTermMemory{
		ActorID: w.config.Identity.ActorID,
		Content: content,
	})
}

// AddLongTermMemory persists a long-term memory for this actor.
func (w *Worker) AddLongTermMemory(ctx context.Context, content string, keywords []string) error {
	return w.store.AddLongTerm(ctx, &models.LongTermMemory{
		ActorID:  w.config.Identity.ActorID,
		Content:  content,
		Keywords: keywords,
	})
}

// GetState is reserved for actor state storage.
func (w *Worker) GetState(ctx context.Context) (map[string]any, error) {
	return nil, ErrUnimplemented
}

// UpdateState is reserved for actor state storage.
func (w *Worker) UpdateState(ctx context.Context, state map[string]any) error {
	return ErrUnimplemented
}

func (w *Worker) bufferWriter() {
	defer close(w.bufferDone)
	for msg := range w.bufferCh {
		err := w.store.AppendBuffer(context.Background(), w.config.Identity.ActorID, &msg)
		w.metrics.BufferWrite(err)
		if err != nil {
			// Logged only: a failed write must not stall the queue.
			w.logger.Error("buffer write failed", "role", msg.Role, "error", err)
		}
		w.bufferWG.Done()
	}
}

func (w *Worker) processQueue() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.processing = false
			w.setStatusLocked(models.ActorStatusIdle)
			w.mu.Unlock()
			return
		}

		batches := w.queue
		w.queue = nil
		w.metrics.QueueDepthAdd(-float64(len(batches)))
		w.setStatusLocked(models.ActorStatusPreparing)

		resume := w.resume && w.cachedState != nil
		w.resume = false
		cached := w.cachedState
		w.mu.Unlock()

		state := w.buildState(resume, cached, batches)

		a := agent.New(w.llm, w.agentConfig())
		sub := a.Events().Subscribe(w.onAgentEvent)

		w.mu.Lock()
		w.current = a
		w.hasEmaReplyInRun = false
		w.cachedState = state
		w.setStatusLocked(models.ActorStatusRunning)
		w.mu.Unlock()

		start := time.Now()
		if err := a.Run(context.Background(), state); err != nil {
			w.logger.Error("agent run refused", "error", err)
		}
		w.metrics.RunFinished(runOutcome(a.Events().Events()), time.Since(start).Seconds())

		a.Events().Unsubscribe(sub)
		w.mu.Lock()
		w.current = nil
		w.mu.Unlock()
	}
}

func (w *Worker) agentConfig() agent.Config {
	cfg := w.config.Agent
	if cfg.Logger == nil {
		cfg.Logger = w.logger
	}
	return cfg
}

// buildState resumes the cached state or constructs a fresh one with
// the expanded system prompt. Each queued batch becomes one user
// message, in arrival order.
func (w *Worker) buildState(resume bool, cached *agent.State, batches [][]models.Content) *agent.State {
	var state *agent.State
	if resume && cached != nil {
		state = cached
	} else {
		registry, err := tools.NewRegistry(w.toolSet()...)
		if err != nil {
			// Only possible with colliding ExtraTools names.
			w.logger.Error("tool registration failed, continuing with reply tool only", "error", err)
			registry, _ = tools.NewRegistry(tools.NewEmaReplyTool())
		}
		state = &agent.State{
			SystemPrompt: w.expandSystemPrompt(),
			Tools:        registry,
		}
	}
	for _, batch := range batches {
		state.Messages = append(state.Messages, models.NewUserMessage(batch...))
	}
	return state
}

func (w *Worker) toolSet() []tools.Tool {
	set := []tools.Tool{
		tools.NewEmaReplyTool(),
		tools.NewMemorySearchTool(workerSearcher{w}),
	}
	return append(set, w.config.ExtraTools...)
}

// workerSearcher binds the memory search tool to this actor identity.
type workerSearcher struct {
	w *Worker
}

func (s workerSearcher) Search(ctx context.Context, keywords []string) ([]models.LongTermMemory, error) {
	return s.w.Search(ctx, keywords)
}

func (w *Worker) expandSystemPrompt() string {
	prompt := w.config.SystemPrompt
	if !strings.Contains(prompt, memoryBufferPlaceholder) {
		return prompt
	}

	// Pending writes land first so the window covers the input that
	// triggered this run.
	w.bufferWG.Wait()

	window := "None."
	entries, err := w.store.RecentBuffer(context.Background(), w.config.Identity.ActorID, bufferWindow)
	if err != nil {
		w.logger.Warn("buffer window unavailable for prompt injection", "error", err)
	} else if len(entries) > 0 {
		lines := make([]string, 0, len(entries))
		for _, entry := range entries {
			lines = append(lines, entry.PromptLine())
		}
		window = strings.Join(lines, "\n")
	}
	return strings.ReplaceAll(prompt, memoryBufferPlaceholder, window)
}

// onAgentEvent translates agent events into the actor event stream and
// broadcasts each one. Runs on the processQueue goroutine.
func (w *Worker) onAgentEvent(ev models.AgentEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch ev.Type {
	case models.AgentEventEmaReply:
		w.hasEmaReplyInRun = true
		if !w.closed {
			w.bufferWG.Add(1)
			w.bufferCh <- models.BufferMessage{
				Name:  w.config.Name,
				Time:  time.Now().UnixMilli(),
				Role:  models.BufferRoleEma,
				Reply: ev.Reply,
			}
		}
		w.appendEventLocked(models.ActorEvent{Type: string(ev.Type), Content: ReplyContent{Reply: ev.Reply}})

	case models.AgentEventRunFinished:
		w.appendEventLocked(models.ActorEvent{Type: string(ev.Type), Content: ev.Run})

	case models.AgentEventLLMResponse:
		if ev.Response != nil {
			if text := ev.Response.Message.Text(); text != "" && len(ev.Response.Message.ToolCalls) == 0 {
				w.appendEventLocked(models.ActorEvent{Type: string(models.ActorEventMessage), Content: text})
			}
		}
		w.appendEventLocked(models.ActorEvent{Type: string(ev.Type), Content: ev.Response})

	case models.AgentEventToolCallFinished:
		if ev.Tool != nil && ev.Tool.Result != nil {
			w.metrics.ToolCall(ev.Tool.Name, ev.Tool.Result.Success)
		}
		w.appendEventLocked(models.ActorEvent{Type: string(ev.Type), Content: ev.Tool})

	case models.AgentEventToolCallStarted:
		w.appendEventLocked(models.ActorEvent{Type: string(ev.Type), Content: ev.Tool})

	case models.AgentEventSummarizeStarted, models.AgentEventSummarizeFinished:
		if ev.Type == models.AgentEventSummarizeFinished {
			w.metrics.Summarize()
		}
		w.appendEventLocked(models.ActorEvent{Type: string(ev.Type), Content: ev.Summarize})

	case models.AgentEventStepStarted:
		w.appendEventLocked(models.ActorEvent{Type: string(ev.Type), Content: ev.Step})

	default:
		w.appendEventLocked(models.ActorEvent{Type: string(ev.Type), Content: nil})
	}
}

// setStatusLocked changes the status and broadcasts immediately, even
// with no new events.
func (w *Worker) setStatusLocked(status models.ActorStatus) {
	w.status = status
	w.broadcastLocked()
}

func (w *Worker) appendEventLocked(event models.ActorEvent) {
	w.events = append(w.events, event)
	w.broadcastLocked()
}

func (w *Worker) broadcastLocked() {
	for _, entry := range w.subs {
		delta := make([]models.ActorEvent, len(w.events)-entry.sentIdx)
		copy(delta, w.events[entry.sentIdx:])
		entry.sentIdx = len(w.events)
		w.deliver(entry, models.ActorSnapshot{Status: w.status, Events: delta})
	}
}

// deliver invokes one subscriber, isolating its panics so a faulty
// subscriber can neither crash the worker nor starve the others.
func (w *Worker) deliver(entry *subscriberEntry, snapshot models.ActorSnapshot) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("snapshot subscriber panicked",
				"subscriber", entry.id,
				"panic", rec,
			)
		}
	}()
	entry.fn(snapshot)
}

func runOutcome(events []models.AgentEvent) string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == models.AgentEventRunFinished && events[i].Run != nil {
			switch {
			case events[i].Run.OK:
				return "ok"
			case events[i].Run.Msg == "Aborted":
				return "aborted"
			default:
				return "error"
			}
		}
	}
	return "unknown"
}
