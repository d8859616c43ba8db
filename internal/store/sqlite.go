package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/Philanthropists/imapfeed/internal/events"
)

// SQLiteStore is an event sink backed by a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs any
// pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Emit stores event. Storing the same event id twice keeps the first copy.
func (s *SQLiteStore) Emit(ctx context.Context, event events.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	data, err := event.DataJSON()
	if err != nil {
		return err
	}

	const query = `
		INSERT OR IGNORE INTO events (id, source, type, ts, message, data)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.Source, event.Type,
		event.TS.UTC().Format(time.RFC3339Nano),
		event.Payload.Message, data,
	)
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", event.ID, err)
	}

	return nil
}

type eventRow struct {
	ID      string `db:"id"`
	Source  string `db:"source"`
	Type    string `db:"type"`
	TS      string `db:"ts"`
	Message string `db:"message"`
	Data    string `db:"data"`
}

// ListEvents returns stored events of eventType, oldest first. An empty
// eventType matches every type.
func (s *SQLiteStore) ListEvents(ctx context.Context, eventType string, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT id, source, type, ts, message, data
		FROM events
		WHERE (? = '' OR type = ?)
		ORDER BY ts, rowid
		LIMIT ?`

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, eventType, eventType, limit); err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	result := make([]events.Event, 0, len(rows))
	for _, row := range rows {
		ts, err := time.Parse(time.RFC3339Nano, row.TS)
		if err != nil {
			return nil, fmt.Errorf("parsing ts of event %s: %w", row.ID, err)
		}

		event := events.Event{
			ID:      row.ID,
			Source:  row.Source,
			Type:    row.Type,
			TS:      ts,
			Payload: events.Payload{Message: row.Message},
		}
		if err := event.SetDataJSON(row.Data); err != nil {
			return nil, err
		}
		result = append(result, event)
	}

	return result, nil
}

func (s *SQLiteStore) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM events"); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}
