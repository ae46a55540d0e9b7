package dlq

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists failed dispatches to SQLite, surviving process
// restarts. It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	cfg    Config
	closed bool
}

// NewSQLiteStore creates a SQLite failure store.
// The path should be a file path (e.g., "./failures.db") or ":memory:" for testing.
func NewSQLiteStore(path string, cfg Config) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS failed_dispatches (
			event_id TEXT PRIMARY KEY,
			next_retry_at TEXT NOT NULL,
			attempt_count INTEGER NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS parked_dispatches (
			event_id TEXT PRIMARY KEY,
			parked_at TEXT NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_failed_next_retry
		ON failed_dispatches(next_retry_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db, cfg: cfg.withDefaults()}, nil
}

// Enqueue implements Store. A dispatch already queued under the same event
// ID is replaced; the last failure wins.
func (s *SQLiteStore) Enqueue(ctx context.Context, failed *FailedDispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if s.cfg.NoRetries || failed.AttemptCount >= s.cfg.MaxRetries {
		return s.parkLocked(ctx, failed, "max retries exceeded")
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM failed_dispatches`).Scan(&count); err != nil {
		return fmt.Errorf("count queue: %w", err)
	}
	if count >= s.cfg.MaxSize {
		return ErrQueueFull
	}

	if failed.NextRetryAt.IsZero() {
		failed.NextRetryAt = time.Now().Add(s.cfg.RetryDelay)
	}
	if err := s.upsertLocked(ctx, failed); err != nil {
		return err
	}

	if s.cfg.OnEnqueue != nil {
		s.cfg.OnEnqueue(failed)
	}
	return nil
}

func (s *SQLiteStore) upsertLocked(ctx context.Context, failed *FailedDispatch) error {
	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("encode dispatch: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO failed_dispatches (event_id, next_retry_at, attempt_count, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			next_retry_at = excluded.next_retry_at,
			attempt_count = excluded.attempt_count,
			data = excluded.data
	`, failed.EventID, failed.NextRetryAt.UTC().Format(time.RFC3339Nano), failed.AttemptCount, data)
	if err != nil {
		return fmt.Errorf("save dispatch: %w", err)
	}
	return nil
}

// Dequeue implements Store.
func (s *SQLiteStore) Dequeue(ctx context.Context, limit int) ([]*FailedDispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, data FROM failed_dispatches
		WHERE next_retry_at <= ?
		ORDER BY next_retry_at
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var ready []*FailedDispatch
	var ids []string
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		var fd FailedDispatch
		if err := json.Unmarshal(data, &fd); err != nil {
			return nil, fmt.Errorf("decode dispatch: %w", err)
		}
		ready = append(ready, &fd)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM failed_dispatches WHERE event_id = ?`, id); err != nil {
			return nil, fmt.Errorf("dequeue dispatch: %w", err)
		}
	}
	return ready, nil
}

// Acknowledge implements Store.
func (s *SQLiteStore) Acknowledge(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM failed_dispatches WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("acknowledge dispatch: %w", err)
	}
	return nil
}

// RecordRetryFailure implements Store.
func (s *SQLiteStore) RecordRetryFailure(ctx context.Context, failed *FailedDispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	failed.AttemptCount++
	failed.LastFailedAt = time.Now()

	if failed.AttemptCount >= s.cfg.MaxRetries {
		return s.parkLocked(ctx, failed, "max retries exceeded")
	}

	failed.NextRetryAt = time.Now().Add(s.cfg.backoff(failed.AttemptCount))
	return s.upsertLocked(ctx, failed)
}

// parkLocked moves a dispatch to the parked table (must hold lock).
func (s *SQLiteStore) parkLocked(ctx context.Context, failed *FailedDispatch, reason string) error {
	parked := &ParkedDispatch{
		FailedDispatch: *failed,
		ParkReason:     reason,
		ParkedAt:       time.Now(),
	}
	data, err := json.Marshal(parked)
	if err != nil {
		return fmt.Errorf("encode parked dispatch: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO parked_dispatches (event_id, parked_at, data)
		VALUES (?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			parked_at = excluded.parked_at,
			data = excluded.data
	`, parked.EventID, parked.ParkedAt.UTC().Format(time.RFC3339Nano), data); err != nil {
		return fmt.Errorf("park dispatch: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM failed_dispatches WHERE event_id = ?`, parked.EventID); err != nil {
		return fmt.Errorf("park dispatch: %w", err)
	}

	if s.cfg.OnPark != nil {
		s.cfg.OnPark(parked)
	}
	return nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM failed_dispatches`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return count, nil
}

// ListParked implements Store.
func (s *SQLiteStore) ListParked(ctx context.Context, limit int) ([]*ParkedDispatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM parked_dispatches
		ORDER BY parked_at
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list parked: %w", err)
	}
	defer rows.Close()

	var result []*ParkedDispatch
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan parked dispatch: %w", err)
		}
		var pd ParkedDispatch
		if err := json.Unmarshal(data, &pd); err != nil {
			return nil, fmt.Errorf("decode parked dispatch: %w", err)
		}
		result = append(result, &pd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parked: %w", err)
	}
	return result, nil
}

// RecoverParked implements Store.
func (s *SQLiteStore) RecoverParked(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM parked_dispatches WHERE event_id = ?`, eventID).Scan(&data)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load parked dispatch: %w", err)
	}

	var pd ParkedDispatch
	if err := json.Unmarshal(data, &pd); err != nil {
		return fmt.Errorf("decode parked dispatch: %w", err)
	}

	failed := pd.FailedDispatch
	failed.AttemptCount = 0
	failed.NextRetryAt = time.Now()
	if err := s.upsertLocked(ctx, &failed); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM parked_dispatches WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("recover parked dispatch: %w", err)
	}
	return nil
}

// DeleteParked implements Store.
func (s *SQLiteStore) DeleteParked(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM parked_dispatches WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("delete parked dispatch: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
