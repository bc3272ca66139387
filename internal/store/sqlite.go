// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Single-writer message log with a unique index enforcing idempotency

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alphahub/hub/internal/protocol"
)

// SQLiteStore implements the Store interface using SQLite.
//
// Writes are serialized by writeMu so the idempotency check and the
// insert form one atomic step; the partial unique index on
// (conversation_id, client_request_id) backs that up at the schema
// level. Reads run concurrently.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps readers unblocked while a write is in flight
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content_text TEXT NOT NULL,
			created_at TEXT NOT NULL,
			client_request_id TEXT,
			attachments_json TEXT NOT NULL DEFAULT '[]',

			CHECK (role IN ('system', 'user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_idempotent
			ON messages(conversation_id, client_request_id)
			WHERE client_request_id IS NOT NULL;
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const timeLayout = time.RFC3339

// CreateMessage appends a message, returning the existing row when the
// (conversation_id, client_request_id) pair was already written.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) (*Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if msg.ClientRequestID != "" {
		existing, err := s.queryMessage(ctx,
			`SELECT id, conversation_id, role, content_text, created_at, client_request_id, attachments_json
			 FROM messages WHERE conversation_id = ? AND client_request_id = ?`,
			msg.ConversationID, msg.ClientRequestID)
		if err == nil {
			return existing, nil
		}
		if err != ErrNotFound {
			return nil, fmt.Errorf("checking idempotency key: %w", err)
		}
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC().Truncate(time.Second)

	attachments := msg.Attachments
	if attachments == nil {
		attachments = []protocol.AttachmentRef{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("encoding attachments: %w", err)
	}

	var clientRequestID sql.NullString
	if msg.ClientRequestID != "" {
		clientRequestID = sql.NullString{String: msg.ClientRequestID, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content_text, created_at, client_request_id, attachments_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.ContentText,
		createdAt.Format(timeLayout), clientRequestID, string(attachmentsJSON))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	stored := *msg
	stored.CreatedAt = createdAt
	stored.Attachments = attachments
	return &stored, nil
}

// GetMessage returns the message with the given id, or ErrNotFound.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	return s.queryMessage(ctx,
		`SELECT id, conversation_id, role, content_text, created_at, client_request_id, attachments_json
		 FROM messages WHERE id = ?`, id)
}

// ListMessages returns messages of a conversation oldest first. With a
// limit it selects the most recent N rows (strictly before opts.Before
// when set) and reverses them into ascending order. The id is the
// secondary sort key so rows created within the same second keep a
// stable order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, opts ListOptions) ([]*Message, error) {
	query := `SELECT id, conversation_id, role, content_text, created_at, client_request_id, attachments_json
		 FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}

	if !opts.Before.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, opts.Before.UTC().Format(timeLayout))
	}

	if opts.Limit > 0 {
		query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
		args = append(args, opts.Limit)
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	if opts.Limit > 0 {
		// newest-first page back into ascending order
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

// queryMessage runs a single-row message query.
func (s *SQLiteStore) queryMessage(ctx context.Context, query string, args ...any) (*Message, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (*Message, error) {
	var (
		msg             Message
		createdAt       string
		clientRequestID sql.NullString
		attachmentsJSON string
	)
	err := r.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.ContentText,
		&createdAt, &clientRequestID, &attachmentsJSON)
	if err != nil {
		return nil, err
	}

	msg.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}
	if clientRequestID.Valid {
		msg.ClientRequestID = clientRequestID.String
	}

	msg.Attachments = []protocol.AttachmentRef{}
	if attachmentsJSON != "" {
		if err := json.Unmarshal([]byte(attachmentsJSON), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decoding attachments: %w", err)
		}
	}
	return &msg, nil
}
