package hookwire_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookwire/hookwire/pkg/hookwire"
)

func sleepHandler(d time.Duration) hookwire.Handler {
	return func(ctx context.Context, evt *hookwire.Event) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func TestExecutorRunInOrder(t *testing.T) {
	exec := hookwire.NewExecutor(4)

	invs := []hookwire.Invocation{
		{Name: "slow", Fn: sleepHandler(30 * time.Millisecond)},
		{Name: "fast", Fn: func(ctx context.Context, evt *hookwire.Event) error { return nil }},
		{Name: "medium", Fn: sleepHandler(10 * time.Millisecond)},
	}

	outcomes := exec.Run(context.Background(), invs, time.Second, true)

	// Outcomes keep input order even though completion order differs.
	require.Len(t, outcomes, 3)
	assert.Equal(t, "slow", outcomes[0].Handler)
	assert.Equal(t, "fast", outcomes[1].Handler)
	assert.Equal(t, "medium", outcomes[2].Handler)
	for _, o := range outcomes {
		assert.Equal(t, hookwire.StatusSuccess, o.Status)
	}
}

// hardSleep ignores cancellation, simulating a handler stuck in work that
// cannot be interrupted.
func hardSleep(d time.Duration) hookwire.Handler {
	return func(ctx context.Context, evt *hookwire.Event) error {
		time.Sleep(d)
		return nil
	}
}

func TestExecutorConcurrencyCap(t *testing.T) {
	exec := hookwire.NewExecutor(1)

	invs := []hookwire.Invocation{
		{Name: "h1", Fn: sleepHandler(100 * time.Millisecond)},
		{Name: "h2", Fn: sleepHandler(100 * time.Millisecond)},
		{Name: "h3", Fn: sleepHandler(100 * time.Millisecond)},
	}

	start := time.Now()
	outcomes := exec.Run(context.Background(), invs, time.Second, true)
	elapsed := time.Since(start)

	for _, o := range outcomes {
		assert.Equal(t, hookwire.StatusSuccess, o.Status)
	}
	// With one slot the three 100ms handlers are serialized.
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
}

func TestExecutorConcurrencyParallel(t *testing.T) {
	exec := hookwire.NewExecutor(8)

	var peak, current atomic.Int32
	handler := func(ctx context.Context, evt *hookwire.Event) error {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		return nil
	}

	invs := make([]hookwire.Invocation, 6)
	for i := range invs {
		invs[i] = hookwire.Invocation{Name: "h", Fn: handler}
	}

	start := time.Now()
	exec.Run(context.Background(), invs, time.Second, true)

	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Greater(t, peak.Load(), int32(1))
}

func TestExecutorTimeout(t *testing.T) {
	exec := hookwire.NewExecutor(4)

	invs := []hookwire.Invocation{
		{Name: "hang", Fn: hardSleep(time.Second)},
		{Name: "quick", Fn: func(ctx context.Context, evt *hookwire.Event) error { return nil }},
	}

	start := time.Now()
	outcomes := exec.Run(context.Background(), invs, 10*time.Millisecond, true)
	elapsed := time.Since(start)

	assert.Equal(t, hookwire.StatusTimeout, outcomes[0].Status)
	assert.Equal(t, hookwire.StatusSuccess, outcomes[1].Status)
	// The dispatch completes around the timeout, not the handler's duration.
	assert.Less(t, elapsed, 500*time.Millisecond)

	var terr *hookwire.HandlerTimeoutError
	require.True(t, errors.As(outcomes[0].Err, &terr))
	assert.Equal(t, "hang", terr.Handler)
	assert.Equal(t, 10*time.Millisecond, terr.Timeout)
}

func TestExecutorSwallowErrors(t *testing.T) {
	exec := hookwire.NewExecutor(4)
	boom := errors.New("boom")

	var ran atomic.Int32
	invs := []hookwire.Invocation{
		{Name: "bad", Fn: func(ctx context.Context, evt *hookwire.Event) error { return boom }},
		{Name: "good", Fn: func(ctx context.Context, evt *hookwire.Event) error { ran.Add(1); return nil }},
		{Name: "also-good", Fn: func(ctx context.Context, evt *hookwire.Event) error { ran.Add(1); return nil }},
	}

	outcomes := exec.Run(context.Background(), invs, time.Second, true)

	// Swallowed: the failure does not disturb siblings.
	assert.Equal(t, hookwire.StatusError, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[0].Err, boom)
	assert.Equal(t, hookwire.StatusSuccess, outcomes[1].Status)
	assert.Equal(t, hookwire.StatusSuccess, outcomes[2].Status)
	assert.Equal(t, int32(2), ran.Load())
}

func TestExecutorFailFastCancelsSiblings(t *testing.T) {
	exec := hookwire.NewExecutor(4)
	boom := errors.New("boom")

	invs := []hookwire.Invocation{
		{Name: "bad", Fn: func(ctx context.Context, evt *hookwire.Event) error {
			time.Sleep(20 * time.Millisecond)
			return boom
		}},
		{Name: "slow", Fn: hardSleep(5 * time.Second)},
	}

	start := time.Now()
	outcomes := exec.Run(context.Background(), invs, 10*time.Second, false)

	assert.Equal(t, hookwire.StatusError, outcomes[0].Status)
	assert.Equal(t, hookwire.StatusSkipped, outcomes[1].Status)
	// The slow sibling is signalled, not waited out.
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecutorFailFastSkipsQueued(t *testing.T) {
	exec := hookwire.NewExecutor(1)
	boom := errors.New("boom")

	var ran atomic.Int32
	invs := []hookwire.Invocation{
		{Name: "bad", Fn: func(ctx context.Context, evt *hookwire.Event) error {
			time.Sleep(20 * time.Millisecond)
			return boom
		}},
		{Name: "queued-1", Fn: func(ctx context.Context, evt *hookwire.Event) error { ran.Add(1); return nil }},
		{Name: "queued-2", Fn: func(ctx context.Context, evt *hookwire.Event) error { ran.Add(1); return nil }},
	}

	outcomes := exec.Run(context.Background(), invs, time.Second, false)

	assert.Equal(t, hookwire.StatusError, outcomes[0].Status)
	// The gate was full; the failure releases queued invocations unrun.
	assert.Equal(t, hookwire.StatusSkipped, outcomes[1].Status)
	assert.Equal(t, hookwire.StatusSkipped, outcomes[2].Status)
	assert.Equal(t, int32(0), ran.Load())
}

func TestExecutorPanicRecovery(t *testing.T) {
	exec := hookwire.NewExecutor(4)

	invs := []hookwire.Invocation{
		{Name: "panics", Fn: func(ctx context.Context, evt *hookwire.Event) error {
			panic("oh no")
		}},
		{Name: "fine", Fn: func(ctx context.Context, evt *hookwire.Event) error { return nil }},
	}

	outcomes := exec.Run(context.Background(), invs, time.Second, true)

	assert.Equal(t, hookwire.StatusError, outcomes[0].Status)
	var herr *hookwire.HandlerError
	require.True(t, errors.As(outcomes[0].Err, &herr))
	assert.Equal(t, "panics", herr.Handler)
	assert.Contains(t, herr.Error(), "oh no")

	assert.Equal(t, hookwire.StatusSuccess, outcomes[1].Status)
}

func TestExecutorCallerCancellation(t *testing.T) {
	exec := hookwire.NewExecutor(4)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	invs := []hookwire.Invocation{
		{Name: "hang", Fn: hardSleep(5 * time.Second)},
	}

	start := time.Now()
	outcomes := exec.Run(ctx, invs, 10*time.Second, false)

	assert.Equal(t, hookwire.StatusSkipped, outcomes[0].Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecutorEmpty(t *testing.T) {
	exec := hookwire.NewExecutor(4)
	outcomes := exec.Run(context.Background(), nil, time.Second, true)
	assert.Empty(t, outcomes)
}
