package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/emachat/ema/pkg/models"
)

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	buffers   map[int64][]models.BufferMessage
	shortTerm map[int64][]models.ShortTermMemory
	longTerm  map[int64][]models.LongTermMemory
	nextShort int64
	nextLong  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buffers:   map[int64][]models.BufferMessage{},
		shortTerm: map[int64][]models.ShortTermMemory{},
		longTerm:  map[int64][]models.LongTermMemory{},
	}
}

func (m *MemoryStore) AppendBuffer(ctx context.Context, actorID int64, msg *models.BufferMessage) error {
	if msg == nil {
		return errors.New("memory: buffer message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	msg.ID = int64(len(m.buffers[actorID]) + 1)
	if msg.Time == 0 {
		msg.Time = time.Now().UnixMilli()
	}
	m.buffers[actorID] = append(m.buffers[actorID], *msg)
	return nil
}

func (m *MemoryStore) RecentBuffer(ctx context.Context, actorID int64, limit int) ([]models.BufferMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.buffers[actorID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]models.BufferMessage, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *MemoryStore) AddShortTerm(ctx context.Context, mem *models.ShortTermMemory) error {
	if mem == nil {
		return errors.New("memory: short-term memory is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextShort++
	mem.ID = m.nextShort
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now()
	}
	m.shortTerm[mem.ActorID] = append(m.shortTerm[mem.ActorID], *mem)
	return nil
}

func (m *MemoryStore) RecentShortTerm(ctx context.Context, actorID int64, limit int) ([]models.ShortTermMemory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.shortTerm[actorID]
	out := make([]models.ShortTermMemory, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) AddLongTerm(ctx context.Context, mem *models.LongTermMemory) error {
	if mem == nil {
		return errors.New("memory: long-term memory is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextLong++
	mem.ID = m.nextLong
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now()
	}
	m.longTerm[mem.ActorID] = append(m.longTerm[mem.ActorID], *mem)
	return nil
}

func (m *MemoryStore) SearchLongTerm(ctx context.Context, actorID int64, keywords []string) ([]models.LongTermMemory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.longTerm[actorID]
	var out []models.LongTermMemory
	for i := len(entries) - 1; i >= 0; i-- {
		if matchesKeywords(entries[i], keywords) {
			out = append(out, entries[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func matchesKeywords(mem models.LongTermMemory, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(strings.ToLower(mem.Content), kw) {
			return true
		}
		for _, tag := range mem.Keywords {
			if strings.ToLower(tag) == kw {
				return true
			}
		}
	}
	return false
}
