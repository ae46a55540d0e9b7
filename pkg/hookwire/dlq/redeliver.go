package dlq

import (
	"context"
	"sync"
	"time"

	"github.com/hookwire/hookwire/pkg/hookwire"
)

// Dispatcher replays a captured payload. *hookwire.Bus satisfies this.
type Dispatcher interface {
	DispatchRaw(ctx context.Context, raw map[string]any, headers map[string]string, sourceInfo any) (*hookwire.DispatchResult, error)
}

// RedeliverConfig configures the redeliverer.
type RedeliverConfig struct {
	// BatchSize is the number of dispatches to replay at once.
	// Default: 10
	BatchSize int

	// PollInterval is how often to check the store.
	// Default: 10 seconds
	PollInterval time.Duration

	// OnRetry is called before replaying a dispatch.
	OnRetry func(*FailedDispatch)

	// OnSuccess is called after a successful replay.
	OnSuccess func(*FailedDispatch)

	// OnFailure is called after a failed replay.
	OnFailure func(*FailedDispatch, error)
}

// DefaultRedeliverConfig provides reasonable defaults.
var DefaultRedeliverConfig = RedeliverConfig{
	BatchSize:    10,
	PollInterval: 10 * time.Second,
}

// Redeliverer drains a failure store back through a dispatcher on an
// interval.
type Redeliverer struct {
	store      Store
	dispatcher Dispatcher
	cfg        RedeliverConfig
	stopCh     chan struct{}
	running    bool
	mu         sync.Mutex
}

// NewRedeliverer creates a redeliverer for the given store and dispatcher.
func NewRedeliverer(store Store, dispatcher Dispatcher, cfg RedeliverConfig) *Redeliverer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRedeliverConfig.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultRedeliverConfig.PollInterval
	}

	return &Redeliverer{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Start begins replaying dispatches in the background. A stopped
// redeliverer can be started again.
func (r *Redeliverer) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	stop := r.stopCh
	r.mu.Unlock()

	go r.run(ctx, stop)
}

// Stop halts the redeliverer.
func (r *Redeliverer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	close(r.stopCh)
	r.running = false
}

// run is the main replay loop.
func (r *Redeliverer) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			_, _ = r.Redeliver(ctx, r.cfg.BatchSize)
		}
	}
}

// Redeliver replays up to limit ready dispatches once, returning the number
// that succeeded. Failed replays go back to the store with their retry
// count advanced.
func (r *Redeliverer) Redeliver(ctx context.Context, limit int) (int, error) {
	ready, err := r.store.Dequeue(ctx, limit)
	if err != nil {
		return 0, err
	}

	succeeded := 0
	for _, failed := range ready {
		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(failed)
		}

		result, dispErr := r.dispatcher.DispatchRaw(ctx, failed.Payload, failed.Headers, nil)
		if dispErr == nil && result != nil && !result.Success {
			failure := &hookwire.DispatchFailure{
				Failed:    result.Failed,
				Completed: result.SucceededHandlers(),
				Result:    result,
			}
			if len(result.Failed) > 0 {
				failure.First = result.Errors[result.Failed[0]]
			}
			dispErr = failure
		}
		if dispErr != nil {
			if r.cfg.OnFailure != nil {
				r.cfg.OnFailure(failed, dispErr)
			}
			_ = r.store.RecordRetryFailure(ctx, failed)
			continue
		}

		if r.cfg.OnSuccess != nil {
			r.cfg.OnSuccess(failed)
		}
		_ = r.store.Acknowledge(ctx, failed.EventID)
		succeeded++
	}
	return succeeded, nil
}
