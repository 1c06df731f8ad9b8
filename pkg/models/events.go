package models

import "time"

// AgentEventType tags events emitted by the agent loop.
type AgentEventType string

const (
	// AgentEventRunFinished is the single terminal event of a run.
	AgentEventRunFinished AgentEventType = "runFinished"

	// AgentEventEmaReply carries a structured reply intercepted from
	// the privileged reply tool.
	AgentEventEmaReply AgentEventType = "emaReplyReceived"

	// Diagnostic events.
	AgentEventStepStarted         AgentEventType = "stepStarted"
	AgentEventLLMResponse         AgentEventType = "llmResponseReceived"
	AgentEventToolCallStarted     AgentEventType = "toolCallStarted"
	AgentEventToolCallFinished    AgentEventType = "toolCallFinished"
	AgentEventSummarizeStarted    AgentEventType = "summarizeMessagesStarted"
	AgentEventSummarizeFinished   AgentEventType = "summarizeMessagesFinished"
	AgentEventTokenFallback       AgentEventType = "tokenEstimationFallbacked"
)

// RunFinishedPayload describes how a run terminated. Exactly one is
// emitted per run.
type RunFinishedPayload struct {
	OK    bool   `json:"ok"`
	Msg   string `json:"msg"`
	Error string `json:"error,omitempty"`
}

// ToolEventPayload describes one tool invocation for the diagnostic
// tool events.
type ToolEventPayload struct {
	CallID string      `json:"call_id"`
	Name   string      `json:"name"`
	Result *ToolResult `json:"result,omitempty"`
}

// SummarizePayload carries the token counts around a summarisation
// pass.
type SummarizePayload struct {
	Before int `json:"before"`
	After  int `json:"after"`
	Rounds int `json:"rounds"`
}

// AgentEvent is a single typed event emitted by an agent run.
// Sequence is monotonic within one emitter.
type AgentEvent struct {
	Type     AgentEventType `json:"type"`
	Time     time.Time      `json:"time"`
	Sequence uint64         `json:"sequence"`
	RunID    string         `json:"run_id,omitempty"`
	Step     int            `json:"step,omitempty"`

	Run       *RunFinishedPayload `json:"run,omitempty"`
	Reply     *EmaReply           `json:"reply,omitempty"`
	Tool      *ToolEventPayload   `json:"tool,omitempty"`
	Summarize *SummarizePayload   `json:"summarize,omitempty"`
	Response  *LLMResponse        `json:"response,omitempty"`
}

// ActorStatus is the externally visible state of an actor worker.
type ActorStatus string

const (
	ActorStatusIdle      ActorStatus = "idle"
	ActorStatusPreparing ActorStatus = "preparing"
	ActorStatusRunning   ActorStatus = "running"
)

// ActorEventType tags actor-side events. Agent event tags are
// re-exported unchanged.
type ActorEventType string

const (
	ActorEventMessage ActorEventType = "message"
)

// ActorEvent is one entry in an actor's event stream. Content is a
// string for message events and a typed payload otherwise.
type ActorEvent struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
}

// ActorSnapshot is what a subscriber receives on each broadcast: the
// current status plus the events accumulated since the previous
// broadcast (or all past events at subscribe time).
type ActorSnapshot struct {
	Status ActorStatus  `json:"status"`
	Events []ActorEvent `json:"events"`
}
