package artifact

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed artifact Store. Save runs in a
// transaction so the version assignment and the insert commit together.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	session_id TEXT NOT NULL,
	version    INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, version)
);
`

// NewSQLiteStore opens (creating if needed) an artifact store at path.
// Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, rec Record) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM artifacts WHERE session_id = ?`,
		rec.SessionID,
	).Scan(&version)
	if err != nil {
		return Record{}, fmt.Errorf("read latest version: %w", err)
	}

	rec.ID = uuid.NewString()
	rec.Version = version + 1
	rec.CreatedAt = time.Now().UTC()

	payload, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshal artifact: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (session_id, version, payload, created_at)
		VALUES (?, ?, ?, ?)`,
		rec.SessionID, rec.Version, string(payload), rec.CreatedAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert artifact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit save: %w", err)
	}
	return rec, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM artifacts
		WHERE session_id = ?
		ORDER BY version DESC LIMIT 1`,
		sessionID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("query artifact: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return rec, nil
}
