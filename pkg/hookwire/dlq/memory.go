package dlq

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store.
// Suitable for testing and single-instance deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	queue  map[string]*FailedDispatch // keyed by event ID
	parked map[string]*ParkedDispatch // keyed by event ID
	cfg    Config
	closed bool

	// Counters
	enqueued  int64
	retried   int64
	parkCount int64
	recovered int64
}

// NewMemoryStore creates an in-memory failure store.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		queue:  make(map[string]*FailedDispatch),
		parked: make(map[string]*ParkedDispatch),
		cfg:    cfg.withDefaults(),
	}
}

// Enqueue implements Store. A dispatch already queued under the same event
// ID is replaced; the last failure wins.
func (s *MemoryStore) Enqueue(ctx context.Context, failed *FailedDispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.queue[failed.EventID]; !exists && len(s.queue) >= s.cfg.MaxSize {
		return ErrQueueFull
	}

	if s.cfg.NoRetries || failed.AttemptCount >= s.cfg.MaxRetries {
		s.parkLocked(failed, "max retries exceeded")
		return nil
	}

	if failed.NextRetryAt.IsZero() {
		failed.NextRetryAt = time.Now().Add(s.cfg.RetryDelay)
	}

	s.queue[failed.EventID] = failed
	s.enqueued++

	if s.cfg.OnEnqueue != nil {
		s.cfg.OnEnqueue(failed)
	}
	return nil
}

// Dequeue implements Store. Ready dispatches come out oldest retry time
// first, the same order the sqlite store produces.
func (s *MemoryStore) Dequeue(ctx context.Context, limit int) ([]*FailedDispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit < 0 {
		limit = 0
	}

	now := time.Now()
	ready := make([]*FailedDispatch, 0, limit)
	for _, fd := range s.queue {
		if !fd.NextRetryAt.After(now) {
			ready = append(ready, fd)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].NextRetryAt.Before(ready[j].NextRetryAt)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}
	for _, fd := range ready {
		delete(s.queue, fd.EventID)
	}
	return ready, nil
}

// Acknowledge implements Store.
func (s *MemoryStore) Acknowledge(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.queue, eventID)
	s.recovered++
	return nil
}

// RecordRetryFailure implements Store.
func (s *MemoryStore) RecordRetryFailure(ctx context.Context, failed *FailedDispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	failed.AttemptCount++
	failed.LastFailedAt = time.Now()

	if failed.AttemptCount >= s.cfg.MaxRetries {
		s.parkLocked(failed, "max retries exceeded")
		return nil
	}

	failed.NextRetryAt = time.Now().Add(s.cfg.backoff(failed.AttemptCount))
	s.queue[failed.EventID] = failed
	s.retried++
	return nil
}

// parkLocked moves a dispatch to the parked set (must hold lock).
func (s *MemoryStore) parkLocked(failed *FailedDispatch, reason string) {
	parked := &ParkedDispatch{
		FailedDispatch: *failed,
		ParkReason:     reason,
		ParkedAt:       time.Now(),
	}
	s.parked[failed.EventID] = parked
	s.parkCount++

	if s.cfg.OnPark != nil {
		s.cfg.OnPark(parked)
	}
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return len(s.queue), nil
}

// ListParked implements Store.
func (s *MemoryStore) ListParked(ctx context.Context, limit int) ([]*ParkedDispatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 || limit > len(s.parked) {
		limit = len(s.parked)
	}

	result := make([]*ParkedDispatch, 0, limit)
	for _, pd := range s.parked {
		if len(result) >= limit {
			break
		}
		result = append(result, pd)
	}
	return result, nil
}

// RecoverParked implements Store.
func (s *MemoryStore) RecoverParked(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	parked, ok := s.parked[eventID]
	if !ok {
		return ErrNotFound
	}

	failed := parked.FailedDispatch
	failed.AttemptCount = 0
	failed.NextRetryAt = time.Now()

	s.queue[eventID] = &failed
	delete(s.parked, eventID)
	s.recovered++
	return nil
}

// DeleteParked implements Store.
func (s *MemoryStore) DeleteParked(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.parked[eventID]; !ok {
		return ErrNotFound
	}
	delete(s.parked, eventID)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Stats provides store counters.
type Stats struct {
	QueueSize  int   // Current queue size
	ParkedSize int   // Current parked size
	Enqueued   int64 // Total dispatches enqueued
	Retried    int64 // Total retry attempts
	Parked     int64 // Total dispatches parked
	Recovered  int64 // Total dispatches recovered
}

// Stats returns store counters.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		QueueSize:  len(s.queue),
		ParkedSize: len(s.parked),
		Enqueued:   s.enqueued,
		Retried:    s.retried,
		Parked:     s.parkCount,
		Recovered:  s.recovered,
	}
}
