// Package dlq provides failure capture and redelivery for event dispatches.
//
// A Store holds dispatches whose handlers failed, tracks retry attempts with
// exponential backoff, and parks dispatches that exhaust their retries. The
// Redeliverer drains a store back through a bus on an interval.
//
// Wire capture through the bus's failure hook:
//
//	store := dlq.NewMemoryStore(dlq.Config{})
//	cfg := hookwire.BusConfig{
//	    OnHandlerFailure: dlq.CaptureHook(store),
//	}
package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/hookwire/hookwire/pkg/hookwire"
)

// Sentinel errors returned by stores.
var (
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("dlq: store is closed")

	// ErrNotFound is returned when a dispatch is not in the store.
	ErrNotFound = errors.New("dlq: dispatch not found")

	// ErrQueueFull is returned when the store is at capacity.
	ErrQueueFull = errors.New("dlq: queue is full")
)

// FailedDispatch records one handler failure for later redelivery.
type FailedDispatch struct {
	// EventID identifies the originating dispatch.
	EventID string `json:"event_id"`

	// Handler names the handler that failed.
	Handler string `json:"handler"`

	Pattern  string `json:"pattern,omitempty"`
	Activity string `json:"activity"`

	// Payload is the raw payload the dispatch carried, replayed as-is.
	Payload map[string]any    `json:"payload"`
	Headers map[string]string `json:"headers,omitempty"`

	ErrorMessage string `json:"error_message"`

	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
	AttemptCount  int       `json:"attempt_count"`
	NextRetryAt   time.Time `json:"next_retry_at"`
}

// ParkedDispatch is a failed dispatch that exhausted its retries.
type ParkedDispatch struct {
	FailedDispatch

	ParkReason string    `json:"park_reason"`
	ParkedAt   time.Time `json:"parked_at"`
}

// Store persists failed dispatches.
// Implementations must be safe for concurrent use.
type Store interface {
	// Enqueue adds a failed dispatch. Dispatches already at the retry limit
	// are parked immediately.
	Enqueue(ctx context.Context, failed *FailedDispatch) error

	// Dequeue removes and returns up to limit dispatches whose retry time
	// has arrived.
	Dequeue(ctx context.Context, limit int) ([]*FailedDispatch, error)

	// Acknowledge drops a dispatch after successful redelivery.
	Acknowledge(ctx context.Context, eventID string) error

	// RecordRetryFailure re-enqueues a dispatch after a failed redelivery,
	// backing off exponentially, parking it once retries are exhausted.
	RecordRetryFailure(ctx context.Context, failed *FailedDispatch) error

	// Count returns the number of queued dispatches.
	Count(ctx context.Context) (int, error)

	// ListParked returns up to limit parked dispatches.
	ListParked(ctx context.Context, limit int) ([]*ParkedDispatch, error)

	// RecoverParked moves a parked dispatch back into the queue with its
	// attempt count reset.
	RecoverParked(ctx context.Context, eventID string) error

	// DeleteParked permanently drops a parked dispatch.
	DeleteParked(ctx context.Context, eventID string) error

	// Close releases the store's resources.
	Close() error
}

// Config configures store retry behavior.
type Config struct {
	// MaxSize limits the number of queued dispatches.
	// Default: 10000
	MaxSize int

	// MaxRetries before a dispatch is parked.
	// Default: 5. Use NoRetries=true to disable retries.
	MaxRetries int

	// NoRetries parks dispatches immediately on enqueue.
	// When true, MaxRetries is ignored.
	NoRetries bool

	// RetryDelay before the first redelivery attempt.
	// Default: 1 minute
	RetryDelay time.Duration

	// OnEnqueue is called when a dispatch is queued.
	OnEnqueue func(*FailedDispatch)

	// OnPark is called when a dispatch is parked.
	OnPark func(*ParkedDispatch)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	MaxSize:    10000,
	MaxRetries: 5,
	RetryDelay: 1 * time.Minute,
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultConfig.MaxSize
	}
	if c.MaxRetries <= 0 && !c.NoRetries {
		c.MaxRetries = DefaultConfig.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultConfig.RetryDelay
	}
	return c
}

// backoff returns the delay before attempt n+1.
func (c Config) backoff(attempts int) time.Duration {
	return c.RetryDelay * time.Duration(1<<uint(attempts))
}

// Capture builds a FailedDispatch from a handler failure.
func Capture(evt *hookwire.Event, handler string, err error) *FailedDispatch {
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &FailedDispatch{
		EventID:       evt.ID,
		Handler:       handler,
		Pattern:       evt.Pattern(),
		Activity:      evt.Activity,
		Payload:       evt.Raw,
		Headers:       evt.Headers,
		ErrorMessage:  msg,
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
}

// CaptureHook returns a bus failure hook that enqueues every handler
// failure into the store. Enqueue errors are dropped; failure capture must
// never disturb the dispatch path.
func CaptureHook(store Store) func(ctx context.Context, evt *hookwire.Event, handler string, err error) {
	return func(ctx context.Context, evt *hookwire.Event, handler string, err error) {
		_ = store.Enqueue(ctx, Capture(evt, handler, err))
	}
}
