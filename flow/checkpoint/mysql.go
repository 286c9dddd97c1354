package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed Store for production deployments:
// multiple workers, long-running sessions surviving process restarts, and
// audit trails via Chain.
//
// The DSN format is the go-sql-driver format, e.g.
// "user:pass@tcp(localhost:3306)/specflow?parseTime=true". Credentials
// should come from the environment, never from source.
//
// Type parameter S is the state type to persist.
type MySQLStore[S any] struct {
	db *sql.DB
}

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id    VARCHAR(64)  NOT NULL,
	namespace     VARCHAR(64)  NOT NULL,
	checkpoint_id BIGINT       NOT NULL,
	parent_id     BIGINT       NOT NULL,
	payload       LONGTEXT     NOT NULL,
	node_name     VARCHAR(128) NOT NULL,
	progress      DOUBLE       NOT NULL,
	created_at    TIMESTAMP(6) NOT NULL,
	PRIMARY KEY (session_id, namespace, checkpoint_id),
	INDEX idx_checkpoints_session (session_id)
) ENGINE=InnoDB`

// NewMySQLStore opens a MySQL checkpoint store and creates the schema if
// needed.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if _, err := db.ExecContext(ctx, mysqlSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &MySQLStore[S]{db: db}, nil
}

// Close releases the connection pool.
func (s *MySQLStore[S]) Close() error {
	return s.db.Close()
}

// Put implements Store. INSERT IGNORE makes retries with the same
// checkpoint id idempotent.
func (s *MySQLStore[S]) Put(ctx context.Context, rec Record[S]) error {
	payload, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT IGNORE INTO checkpoints
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
func (s *MySQLStore[S]) Latest(ctx context.Context, sessionID, namespace string) (Record[S], error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT checkpoint_id, parent_id, payload, node_name, progress, created_at
		FROM checkpoints
		WHERE session_id = ? AND namespace = ?
		ORDER BY checkpoint_id DESC LIMIT 1`,
		sessionID, namespace,
	)

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

// Chain implements Store.
func (s *MySQLStore[S]) Chain(ctx context.Context, sessionID, namespace string, limit int) ([]Record[S], error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT checkpoint_id, parent_id, payload, node_name, progress, created_at
		FROM checkpoints
		WHERE session_id = ? AND namespace = ?
		ORDER BY checkpoint_id ASC`,
		sessionID, namespace,
	)
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

// Compact implements Store.
func (s *MySQLStore[S]) Compact(ctx context.Context, sessionID, namespace string, keep int) error {
	if keep < 1 {
		keep = 1
	}
	// MySQL cannot reference the target table in a subquery of a DELETE;
	// derived tables work around that.
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE session_id = ? AND namespace = ?
		  AND checkpoint_id > (
			SELECT min_id FROM (
				SELECT MIN(checkpoint_id) AS min_id FROM checkpoints
				WHERE session_id = ? AND namespace = ?) AS oldest)
		  AND checkpoint_id NOT IN (
			SELECT checkpoint_id FROM (
				SELECT checkpoint_id FROM checkpoints
				WHERE session_id = ? AND namespace = ?
				ORDER BY checkpoint_id DESC LIMIT ?) AS newest)`,
		sessionID, namespace, sessionID, namespace, sessionID, namespace, keep,
	)
	if err != nil {
		return fmt.Errorf("compact chain: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *MySQLStore[S]) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete chains: %w", err)
	}
	return nil
}
