package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/chattr/internal/llm"
	"github.com/nugget/chattr/internal/transcript"
)

// SQLiteStore is a SQLite-backed thread store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// migrate creates the database schema.
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		tool_name TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq);

	-- Transcript records
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		media TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_thread ON records(thread_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get loads a thread with its messages and transcript in order.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Thread, error) {
	th := &Thread{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, created_at, updated_at FROM threads WHERE id = ?`, id,
	).Scan(&th.UserID, &th.CreatedAt, &th.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}

	if th.Messages, err = s.messages(ctx, id); err != nil {
		return nil, err
	}
	if th.Transcript, err = s.records(ctx, id); err != nil {
		return nil, err
	}
	return th, nil
}

func (s *SQLiteStore) messages(ctx context.Context, threadID string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, tool_calls, tool_call_id, tool_name
		FROM messages WHERE thread_id = ? ORDER BY seq
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []llm.Message
	for rows.Next() {
		var (
			m                             llm.Message
			toolCalls, toolCallID, toolNm sql.NullString
		)
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &toolCallID, &toolNm); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		m.ToolCallID = toolCallID.String
		m.ToolName = toolNm.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) records(ctx context.Context, threadID string) ([]transcript.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, metadata, media
		FROM records WHERE thread_id = ? ORDER BY seq
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []transcript.Record
	for rows.Next() {
		var (
			r               transcript.Record
			metadata, media sql.NullString
		)
		if err := rows.Scan(&r.Role, &r.Content, &metadata, &media); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			r.Metadata = &transcript.Metadata{}
			if err := json.Unmarshal([]byte(metadata.String), r.Metadata); err != nil {
				return nil, fmt.Errorf("decode record metadata: %w", err)
			}
		}
		if media.Valid && media.String != "" {
			r.Media = &transcript.Media{}
			if err := json.Unmarshal([]byte(media.String), r.Media); err != nil {
				return nil, fmt.Errorf("decode record media: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Append writes messages and records in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, id, userID string, msgs []llm.Message, records []transcript.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO threads (id, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, id, userID, now, now); err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`, now, id,
	); err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE thread_id = ?`, id,
	).Scan(&seq); err != nil {
		return fmt.Errorf("message seq: %w", err)
	}
	for _, m := range msgs {
		seq++
		var toolCalls sql.NullString
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			toolCalls = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, thread_id, seq, role, content, tool_calls, tool_call_id, tool_name, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, uuid.Must(uuid.NewV7()).String(), id, seq, m.Role, m.Content, toolCalls,
			nullString(m.ToolCallID), nullString(m.ToolName), now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM records WHERE thread_id = ?`, id,
	).Scan(&seq); err != nil {
		return fmt.Errorf("record seq: %w", err)
	}
	for _, r := range records {
		seq++
		metadata, err := nullJSON(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode record metadata: %w", err)
		}
		media, err := nullJSON(r.Media)
		if err != nil {
			return fmt.Errorf("encode record media: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO records (id, thread_id, seq, role, content, metadata, media, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, uuid.Must(uuid.NewV7()).String(), id, seq, r.Role, r.Content, metadata, media, now); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}

	return tx.Commit()
}

// List returns thread summaries, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.user_id, t.created_at, t.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.thread_id = t.id),
			(SELECT COUNT(*) FROM records r WHERE r.thread_id = t.id)
		FROM threads t
		ORDER BY t.updated_at DESC, t.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.UserID, &sm.CreatedAt, &sm.UpdatedAt, &sm.Messages, &sm.Records); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullJSON encodes v, treating a nil pointer as NULL.
func nullJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
