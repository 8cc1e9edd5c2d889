// ABOUTME: SQLite journal of executed commands using modernc.org/sqlite
// ABOUTME: Keeps a local record of every recognized command and the reply it produced

package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one executed command and its outcome.
type Entry struct {
	ID         string
	Identity   string
	Sender     string
	Body       string
	Kind       string
	Level      int
	Reply      string
	Stop       bool
	ReceivedAt int64 // channel timestamp, milliseconds
	ExecutedAt time.Time
}

// Journal persists command entries to a local SQLite database. Recording
// is best effort from the caller's point of view: the dispatch loop logs
// journal errors and carries on.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the journal database at path. Parent directories
// are created if needed and the schema is applied on open.
func Open(path string) (*Journal, error) {
	logger := slog.Default().With("component", "journal")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	// WAL keeps the reporter and dispatch loop from blocking each other.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	j := &Journal{db: db, logger: logger}
	if err := j.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("journal opened", "path", path)
	return j, nil
}

// createSchema creates the commands table if it doesn't exist.
func (j *Journal) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS commands (
			id          TEXT PRIMARY KEY,
			identity    TEXT NOT NULL,
			sender      TEXT NOT NULL,
			body        TEXT NOT NULL,
			kind        TEXT NOT NULL,
			level       INTEGER NOT NULL DEFAULT 0,
			reply       TEXT NOT NULL,
			stop        INTEGER NOT NULL DEFAULT 0,
			received_at INTEGER NOT NULL,
			executed_at TEXT NOT NULL,

			CHECK (kind IN ('terminate', 'ping', 'poweroff', 'reboot'))
		);

		CREATE INDEX IF NOT EXISTS idx_commands_executed ON commands(executed_at DESC);
		CREATE INDEX IF NOT EXISTS idx_commands_sender ON commands(sender);
	`

	_, err := j.db.Exec(schema)
	return err
}

// Record appends an entry. The entry ID and execution time are assigned
// here when unset.
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO commands (id, identity, sender, body, kind, level, reply, stop, received_at, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := j.db.ExecContext(ctx, query,
		e.ID,
		e.Identity,
		e.Sender,
		e.Body,
		e.Kind,
		e.Level,
		e.Reply,
		e.Stop,
		e.ReceivedAt,
		e.ExecutedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}

	j.logger.Debug("recorded command", "id", e.ID, "kind", e.Kind, "sender", e.Sender)
	return nil
}

// Recent returns the newest entries, most recent first.
// If limit is 0 or negative, a default limit of 100 is used.
func (j *Journal) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	// rowid breaks ties between entries sharing a second.
	query := `
		SELECT id, identity, sender, body, kind, level, reply, stop, received_at, executed_at
		FROM commands
		ORDER BY executed_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var executedAtStr string

		if err := rows.Scan(
			&e.ID,
			&e.Identity,
			&e.Sender,
			&e.Body,
			&e.Kind,
			&e.Level,
			&e.Reply,
			&e.Stop,
			&e.ReceivedAt,
			&executedAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}

		e.ExecutedAt, err = time.Parse(time.RFC3339, executedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing executed_at: %w", err)
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal rows: %w", err)
	}

	return entries, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	j.logger.Info("closing journal")
	return j.db.Close()
}
