package models

import (
	"fmt"
	"time"
)

// BufferRole tags who authored a buffer entry.
type BufferRole string

const (
	// BufferRoleUser marks entries written on user input arrival.
	BufferRoleUser BufferRole = "user"

	// BufferRoleEma marks entries written on structured-reply emission.
	BufferRoleEma BufferRole = "ema"
)

// BufferMessage is one persisted transcript entry. The buffer is
// append-only per actor and doubles as prompt context: recent entries
// are injected into the system prompt.
type BufferMessage struct {
	ID   int64      `json:"id"`
	Name string     `json:"name"`
	Time int64      `json:"time"` // unix milliseconds
	Role BufferRole `json:"role"`
	Text string     `json:"text,omitempty"`
	// Reply holds the structured reply for ema entries.
	Reply *EmaReply `json:"reply,omitempty"`
}

// PromptLine renders the entry in the fixed format used for system
// prompt injection.
func (m BufferMessage) PromptLine() string {
	ts := time.UnixMilli(m.Time).Format("2006-01-02 15:04:05")
	text := m.Text
	if m.Role == BufferRoleEma && m.Reply != nil {
		text = m.Reply.Response
	}
	return fmt.Sprintf("- [%s][role:%s][id:%d][name:%s] %s", ts, m.Role, m.ID, m.Name, text)
}

// Identity names one actor: all runs for an identity are serialised by
// a single worker.
type Identity struct {
	UserID  int64 `json:"user_id"`
	ActorID int64 `json:"actor_id"`
}

// Key returns a stable string form usable as a map key.
func (id Identity) Key() string {
	return fmt.Sprintf("%d/%d", id.UserID, id.ActorID)
}

// ShortTermMemory is a transient per-actor memory record.
type ShortTermMemory struct {
	ID        int64     `json:"id"`
	ActorID   int64     `json:"actor_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// LongTermMemory is a durable per-actor memory record retrievable by
// keyword search.
type LongTermMemory struct {
	ID        int64     `json:"id"`
	ActorID   int64     `json:"actor_id"`
	Content   string    `json:"content"`
	Keywords  []string  `json:"keywords"`
	CreatedAt time.Time `json:"created_at"`
}
