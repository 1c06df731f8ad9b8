package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/emachat/ema/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS buffer_messages (
	actor_id INTEGER NOT NULL,
	seq      INTEGER NOT NULL,
	name     TEXT NOT NULL,
	time_ms  INTEGER NOT NULL,
	role     TEXT NOT NULL,
	text     TEXT NOT NULL DEFAULT '',
	reply    TEXT,
	PRIMARY KEY (actor_id, seq)
);

CREATE TABLE IF NOT EXISTS short_term_memories (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_id   INTEGER NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_short_term_actor ON short_term_memories(actor_id, created_at);

CREATE TABLE IF NOT EXISTS long_term_memories (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_id   INTEGER NOT NULL,
	content    TEXT NOT NULL,
	keywords   TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_long_term_actor ON long_term_memories(actor_id, created_at);
`

// SQLiteStore is the durable Store backed by SQLite. One database file
// serves all actors; buffer sequence numbers are per actor.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database at path
// and applies the schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite: %w", err)
	}
	// SQLite serialises writers; a single connection avoids
	// SQLITE_BUSY churn under concurrent actors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AppendBuffer(ctx context.Context, actorID int64, msg *models.BufferMessage) error {
	if msg == nil {
		return fmt.Errorf("memory: buffer message is required")
	}
	if msg.Time == 0 {
		msg.Time = time.Now().UnixMilli()
	}

	var replyJSON sql.NullString
	if msg.Reply != nil {
		raw, err := json.Marshal(msg.Reply)
		if err != nil {
			return fmt.Errorf("memory: encode reply: %w", err)
		}
		replyJSON = sql.NullString{String: string(raw), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: begin: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM buffer_messages WHERE actor_id = ?`,
		actorID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("memory: next buffer seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO buffer_messages (actor_id, seq, name, time_ms, role, text, reply)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		actorID, seq, msg.Name, msg.Time, string(msg.Role), msg.Text, replyJSON,
	); err != nil {
		return fmt.Errorf("memory: append buffer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("memory: commit: %w", err)
	}
	msg.ID = seq
	return nil
}

func (s *SQLiteStore) RecentBuffer(ctx context.Context, actorID int64, limit int) ([]models.BufferMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, name, time_ms, role, text, reply
		 FROM (
			SELECT * FROM buffer_messages WHERE actor_id = ? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`,
		actorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: query buffer: %w", err)
	}
	defer rows.Close()

	var out []models.BufferMessage
	for rows.Next() {
		var msg models.BufferMessage
		var role string
		var replyJSON sql.NullString
		if err := rows.Scan(&msg.ID, &msg.Name, &msg.Time, &role, &msg.Text, &replyJSON); err != nil {
			return nil, fmt.Errorf("memory: scan buffer: %w", err)
		}
		msg.Role = models.BufferRole(role)
		if replyJSON.Valid {
			var reply models.EmaReply
			if err := json.Unmarshal([]byte(replyJSON.String), &reply); err != nil {
				return nil, fmt.Errorf("memory: decode reply: %w", err)
			}
			msg.Reply = &reply
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddShortTerm(ctx context.Context, mem *models.ShortTermMemory) error {
	if mem == nil {
		return fmt.Errorf("memory: short-term memory is required")
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO short_term_memories (actor_id, content, created_at) VALUES (?, ?, ?)`,
		mem.ActorID, mem.Content, mem.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("memory: add short-term: %w", err)
	}
	mem.ID, _ = result.LastInsertId()
	return nil
}

func (s *SQLiteStore) RecentShortTerm(ctx context.Context, actorID int64, limit int) ([]models.ShortTermMemory, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, created_at FROM short_term_memories
		 WHERE actor_id = ? ORDER BY id DESC LIMIT ?`,
		actorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: query short-term: %w", err)
	}
	defer rows.Close()

	var out []models.ShortTermMemory
	for rows.Next() {
		mem := models.ShortTermMemory{ActorID: actorID}
		if err := rows.Scan(&mem.ID, &mem.Content, &mem.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan short-term: %w", err)
		}
		out = append(out, mem)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddLongTerm(ctx context.Context, mem *models.LongTermMemory) error {
	if mem == nil {
		return fmt.Errorf("memory: long-term memory is required")
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now()
	}
	keywords, err := json.Marshal(mem.Keywords)
	if err != nil {
		return fmt.Errorf("memory: encode keywords: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO long_term_memories (actor_id, content, keywords, created_at) VALUES (?, ?, ?, ?)`,
		mem.ActorID, mem.Content, string(keywords), mem.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("memory: add long-term: %w", err)
	}
	mem.ID, _ = result.LastInsertId()
	return nil
}

func (s *SQLiteStore) SearchLongTerm(ctx context.Context, actorID int64, keywords []string) ([]models.LongTermMemory, error) {
	// Keyword matching happens in Go: the keyword column is a JSON
	// array, and the candidate set per actor stays small.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, keywords, created_at FROM long_term_memories
		 WHERE actor_id = ? ORDER BY id DESC`,
		actorID,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: query long-term: %w", err)
	}
	defer rows.Close()

	var out []models.LongTermMemory
	for rows.Next() {
		mem := models.LongTermMemory{ActorID: actorID}
		var keywordJSON string
		if err := rows.Scan(&mem.ID, &mem.Content, &keywordJSON, &mem.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan long-term: %w", err)
		}
		if err := json.Unmarshal([]byte(keywordJSON), &mem.Keywords); err != nil {
			return nil, fmt.Errorf("memory: decode keywords: %w", err)
		}
		if matchesKeywords(mem, keywords) {
			out = append(out, mem)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*MemoryStore)(nil)
