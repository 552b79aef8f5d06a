package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteStore is a Store backed by a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	window int
}

// OpenSQLite opens (creating if needed) the database at path, enables WAL and
// runs migrations. window <= 0 uses DefaultHistoryWindow.
func OpenSQLite(path string, window int) (*SQLiteStore, error) {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("conversation: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("conversation: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("conversation: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, window: window}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("conversation: migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_key TEXT    NOT NULL,
			message_id       TEXT    NOT NULL DEFAULT '',
			role             TEXT    NOT NULL DEFAULT 'user',
			text             TEXT    NOT NULL,
			author_id        TEXT    NOT NULL DEFAULT '',
			author_name      TEXT    NOT NULL DEFAULT '',
			channel_id       TEXT    NOT NULL,
			channel_name     TEXT    NOT NULL DEFAULT '',
			thread_id        TEXT    NOT NULL DEFAULT '',
			is_direct        INTEGER NOT NULL DEFAULT 0,
			is_mention       INTEGER NOT NULL DEFAULT 0,
			sent_at          TEXT    NOT NULL,
			created_at       TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_key ON messages(conversation_key, id);

		CREATE TABLE IF NOT EXISTS summaries (
			conversation_key TEXT PRIMARY KEY,
			text             TEXT NOT NULL,
			through          TEXT NOT NULL DEFAULT '',
			updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`)
	if err != nil {
		return err
	}

	// Databases created before summaries tracked their newest message.
	var n int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('summaries') WHERE name = 'through'`).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		_, err = s.db.Exec(`ALTER TABLE summaries ADD COLUMN through TEXT NOT NULL DEFAULT ''`)
	}
	return err
}

// Append implements HistoryStore. The insert and the window trim share one transaction.
func (s *SQLiteStore) Append(ctx context.Context, key Key, msgs ...Message) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conversation: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, m := range msgs {
		role := m.Role
		if role == "" {
			role = RoleUser
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (conversation_key, message_id, role, text, author_id, author_name,
				channel_id, channel_name, thread_id, is_direct, is_mention, sent_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(key), m.ID, string(role), m.Text, m.AuthorID, m.AuthorName,
			m.ChannelID, m.ChannelName, m.ThreadID, boolInt(m.IsDirect), boolInt(m.IsMention),
			m.Timestamp.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("conversation: insert message: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE conversation_key = ?
		  AND id NOT IN (
			SELECT id FROM messages WHERE conversation_key = ? ORDER BY id DESC LIMIT ?
		  )`, string(key), string(key), s.window)
	if err != nil {
		return fmt.Errorf("conversation: trim history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conversation: commit: %w", err)
	}
	return nil
}

// Read implements HistoryStore.
func (s *SQLiteStore) Read(ctx context.Context, key Key, limit int) ([]Message, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.window {
		limit = s.window
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, role, text, author_id, author_name, channel_id, channel_name,
		       thread_id, is_direct, is_mention, sent_at
		FROM (
			SELECT * FROM messages WHERE conversation_key = ? ORDER BY id DESC LIMIT ?
		)
		ORDER BY id ASC`, string(key), limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: read history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m                 Message
			role, sentAt      string
			direct, mentioned int
		)
		if err := rows.Scan(&m.ID, &role, &m.Text, &m.AuthorID, &m.AuthorName, &m.ChannelID,
			&m.ChannelName, &m.ThreadID, &direct, &mentioned, &sentAt); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		m.Role = Role(role)
		m.IsDirect = direct != 0
		m.IsMention = mentioned != 0
		if ts, err := time.Parse(time.RFC3339Nano, sentAt); err == nil {
			m.Timestamp = ts
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Get implements SummaryStore.
func (s *SQLiteStore) Get(ctx context.Context, key Key) (Summary, bool, error) {
	if err := key.Validate(); err != nil {
		return Summary{}, false, err
	}

	var sum Summary
	var through string
	err := s.db.QueryRowContext(ctx,
		`SELECT text, through FROM summaries WHERE conversation_key = ?`, string(key)).Scan(&sum.Text, &through)
	if err == sql.ErrNoRows {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, fmt.Errorf("conversation: get summary: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, through); err == nil {
		sum.Through = ts
	}
	return sum, true, nil
}

// Set implements SummaryStore.
func (s *SQLiteStore) Set(ctx context.Context, key Key, summary Summary) error {
	if err := key.Validate(); err != nil {
		return err
	}

	var through string
	if !summary.Through.IsZero() {
		through = summary.Through.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (conversation_key, text, through, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(conversation_key) DO UPDATE SET
			text = excluded.text,
			through = excluded.through,
			updated_at = excluded.updated_at`, string(key), summary.Text, through)
	if err != nil {
		return fmt.Errorf("conversation: set summary: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
