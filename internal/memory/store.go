// Package memory persists per-actor state: the append-only message
// buffer, short-term scratch memory, and keyword-searchable long-term
// memory.
package memory

import (
	"context"

	"github.com/emachat/ema/pkg/models"
)

// Store is the persistence contract for actor memory. Buffer entries
// are append-only and ordered; long-term memories are retrievable by
// keyword.
type Store interface {
	// AppendBuffer persists one transcript entry for the actor,
	// assigning msg.ID (sequential per actor) and msg.Time when unset.
	AppendBuffer(ctx context.Context, actorID int64, msg *models.BufferMessage) error

	// RecentBuffer returns up to limit most recent entries in append
	// order (oldest of the window first).
	RecentBuffer(ctx context.Context, actorID int64, limit int) ([]models.BufferMessage, error)

	// AddShortTerm persists a short-term memory, assigning mem.ID.
	AddShortTerm(ctx context.Context, mem *models.ShortTermMemory) error

	// RecentShortTerm returns up to limit most recent short-term
	// memories, newest first.
	RecentShortTerm(ctx context.Context, actorID int64, limit int) ([]models.ShortTermMemory, error)

	// AddLongTerm persists a long-term memory, assigning mem.ID.
	AddLongTerm(ctx context.Context, mem *models.LongTermMemory) error

	// SearchLongTerm returns long-term memories matching any of the
	// keywords (in keyword list or content), newest first.
	SearchLongTerm(ctx context.Context, actorID int64, keywords []string) ([]models.LongTermMemory, error)

	// Close releases underlying resources.
	Close() error
}
