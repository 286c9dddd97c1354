package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store.
//
// Suited to single-process deployments and local development: one file,
// zero setup, WAL mode for concurrent readers. Each session's chain lives
// in the checkpoints table keyed on (session_id, namespace, checkpoint_id);
// state payloads are stored as JSON.
//
// Type parameter S is the state type to persist.
type SQLiteStore[S any] struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id    TEXT NOT NULL,
	namespace     TEXT NOT NULL,
	checkpoint_id INTEGER NOT NULL,
	parent_id     INTEGER NOT NULL,
	payload       TEXT NOT NULL,
	node_name     TEXT NOT NULL,
	progress      REAL NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, namespace, checkpoint_id)
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints (session_id);
`

// NewSQLiteStore opens (creating if needed) a SQLite checkpoint store at
// path. Use ":memory:" for an ephemeral database in tests.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
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

	return &SQLiteStore[S]{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore[S]) Close() error {
	return s.db.Close()
}

// Put implements Store. INSERT OR IGNORE makes retries with the same
// checkpoint id idempotent.
func (s *SQLiteStore[S]) Put(ctx context.Context, rec Record[S]) error {
	payload, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO checkpoints
			(session_id, namespace, checkpoint_id, parent_id, payload, node_name, progress, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Namespace, rec.CheckpointID, rec.ParentID,
		string(payload), rec.Meta.NodeName, rec.Meta.Progress, rec.Meta.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Latest implements Store.
func (s *SQLiteStore[S]) Latest(ctx context.Context, sessionID, namespace string) (Record[S], error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT checkpoint_id, parent_id, payload, node_name, progress, created_at
		FROM checkpoints
		WHERE session_id = ? AND namespace = ?
		ORDER BY checkpoint_id DESC LIMIT 1`,
		sessionID, namespace,
	)
	return s.scanRecord(row, sessionID, namespace)
}

// Chain implements Store.
func (s *SQLiteStore[S]) Chain(ctx context.Context, sessionID, namespace string, limit int) ([]Record[S], error) {
	query := `
		SELECT checkpoint_id, parent_id, payload, node_name, progress, created_at
		FROM checkpoints
		WHERE session_id = ? AND namespace = ?
		ORDER BY checkpoint_id ASC`
	args := []any{sessionID, namespace}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record[S]
	for rows.Next() {
		var (
			rec     Record[S]
			payload string
			created time.Time
		)
		rec.SessionID = sessionID
		rec.Namespace = namespace
		if err := rows.Scan(&rec.CheckpointID, &rec.ParentID, &payload,
			&rec.Meta.NodeName, &rec.Meta.Progress, &created); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		rec.Meta.CreatedAt = created
		if err := json.Unmarshal([]byte(payload), &rec.State); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Compact implements Store. Keeps the first record and the newest keep
// records; interior rows are deleted in one statement.
func (s *SQLiteStore[S]) Compact(ctx context.Context, sessionID, namespace string, keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE session_id = ? AND namespace = ?
		  AND checkpoint_id > (
			SELECT MIN(checkpoint_id) FROM checkpoints WHERE session_id = ? AND namespace = ?)
		  AND checkpoint_id NOT IN (
			SELECT checkpoint_id FROM checkpoints
			WHERE session_id = ? AND namespace = ?
			ORDER BY checkpoint_id DESC LIMIT ?)`,
		sessionID, namespace, sessionID, namespace, sessionID, namespace, keep,
	)
	if err != nil {
		return fmt.Errorf("compact chain: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore[S]) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete chains: %w", err)
	}
	return nil
}

func (s *SQLiteStore[S]) scanRecord(row *sql.Row, sessionID, namespace string) (Record[S], error) {
	var (
		rec     Record[S]
		payload string
		created time.Time
	)
	rec.SessionID = sessionID
	rec.Namespace = namespace
	err := row.Scan(&rec.CheckpointID, &rec.ParentID, &payload,
		&rec.Meta.NodeName, &rec.Meta.Progress, &created)
	if errors.Is(err, sql.ErrNoRows) {
		var zero Record[S]
		return zero, ErrNotFound
	}
	if err != nil {
		var zero Record[S]
		return zero, fmt.Errorf("scan checkpoint: %w", err)
	}
	rec.Meta.CreatedAt = created
	if err := json.Unmarshal([]byte(payload), &rec.State); err != nil {
		var zero Record[S]
		return zero, fmt.Errorf("unmarshal state: %w", err)
	}
	return rec, nil
}
