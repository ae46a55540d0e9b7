package hookwire

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Middleware wraps handlers to add cross-cutting concerns. Middleware is
// applied when a handler is registered, so each registration gets its own
// wrapped chain (and its own breaker state, for BreakerMiddleware).
type Middleware func(next Handler) Handler

// ChainMiddleware applies middleware in order, with the first outermost.
func ChainMiddleware(handler Handler, middleware ...Middleware) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}

// LoggingMiddleware logs every handler invocation with its duration and
// error, keyed by the event's activity and pattern.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) error {
			start := time.Now()
			err := next(ctx, evt)
			if logger != nil {
				level := slog.LevelDebug
				if err != nil {
					level = slog.LevelError
				}
				logger.Log(ctx, level, "handler finished",
					slog.String("event_id", evt.ID),
					slog.String("activity", evt.Activity),
					slog.String("pattern", evt.Pattern()),
					slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
					slog.Any("error", err),
				)
			}
			return err
		}
	}
}

// RecoveryMiddleware converts a handler panic into an error. The executor
// already guards against panics; registering this as well keeps panics
// contained when handlers are invoked outside the executor (plugin init
// hooks, direct calls in tests).
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = panicError(r)
				}
			}()
			return next(ctx, evt)
		}
	}
}

// BreakerConfig tunes BreakerMiddleware.
type BreakerConfig struct {
	// Name labels the breaker in state-change logs.
	Name string

	// MaxFailures is the number of consecutive failures before the circuit
	// opens. Default: 5.
	MaxFailures uint32

	// OpenTimeout is how long the circuit stays open before allowing a
	// probe. Default: 30s.
	OpenTimeout time.Duration

	// Logger receives state-change warnings. Optional.
	Logger *slog.Logger
}

// BreakerMiddleware wraps a handler with a circuit breaker: after
// MaxFailures consecutive failures the handler fails fast without running,
// until OpenTimeout passes and a probe succeeds. Useful for handlers that
// call flaky downstream services.
func BreakerMiddleware(cfg BreakerConfig) Middleware {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	return func(next Handler) Handler {
		cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 1, // one probe in half-open state
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if cfg.Logger != nil {
					cfg.Logger.Warn("handler circuit breaker state change",
						slog.String("breaker", name),
						slog.String("from", from.String()),
						slog.String("to", to.String()),
					)
				}
			},
		})

		return func(ctx context.Context, evt *Event) error {
			_, err := cb.Execute(func() (struct{}, error) {
				return struct{}{}, next(ctx, evt)
			})
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return fmt.Errorf("handler circuit open: %w", err)
			}
			return err
		}
	}
}
