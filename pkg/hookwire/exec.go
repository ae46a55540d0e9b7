package hookwire

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status classifies one handler invocation's outcome.
type Status string

const (
	// StatusSuccess means the handler returned nil within its timeout.
	StatusSuccess Status = "success"

	// StatusError means the handler returned an error or panicked.
	StatusError Status = "error"

	// StatusTimeout means the executor stopped waiting after the handler's
	// timer expired. The handler's underlying work is not terminated; its
	// goroutine keeps running until it honors ctx cancellation or returns.
	StatusTimeout Status = "timeout"

	// StatusSkipped means the invocation was cancelled before producing a
	// result, because a sibling failed while errors were not being
	// swallowed.
	StatusSkipped Status = "skipped"
)

// Outcome is the result of one handler invocation.
type Outcome struct {
	Handler string
	Status  Status
	Err     error
	Elapsed time.Duration
}

// Invocation is one handler bound to the event it should receive.
type Invocation struct {
	Name  string
	Fn    Handler
	Event *Event
}

// Executor runs handler invocations concurrently under a global admission
// gate. The gate is shared across every dispatch using the same Executor, so
// the bound applies process-wide rather than per-dispatch.
//
// The bound governs admission, not liveness: a timed-out handler releases
// its slot while its goroutine may still be winding down, so in-flight work
// can transiently exceed the bound by the number of abandoned handlers.
type Executor struct {
	sem chan struct{}
}

// NewExecutor creates an executor admitting at most maxConcurrent handlers
// at a time. Values below 1 are raised to 1.
func NewExecutor(maxConcurrent int) *Executor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Executor{sem: make(chan struct{}, maxConcurrent)}
}

// Run executes the invocations and returns one outcome per invocation, in
// input order regardless of completion order.
//
// Admission is FIFO: invocations acquire slots in input order and queue when
// the gate is full. Each admitted handler gets an independent timeout timer.
// With swallow=true every handler runs to its own outcome. With
// swallow=false the first error or timeout cancels the run context: queued
// invocations are skipped, in-flight ones are signalled and no longer
// waited on.
func (e *Executor) Run(ctx context.Context, invs []Invocation, timeout time.Duration, swallow bool) []Outcome {
	outcomes := make([]Outcome, len(invs))

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if !swallow {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var wg sync.WaitGroup
admission:
	for i, inv := range invs {
		select {
		case e.sem <- struct{}{}:
		case <-runCtx.Done():
			// A sibling failed (or the caller gave up) while this
			// invocation was still queued.
			for j := i; j < len(invs); j++ {
				outcomes[j] = Outcome{Handler: invs[j].Name, Status: StatusSkipped, Err: runCtx.Err()}
			}
			break admission
		}
		wg.Add(1)
		go func(idx int, inv Invocation) {
			defer wg.Done()
			defer func() { <-e.sem }()
			// Each outcome slot is written by exactly one goroutine.
			outcomes[idx] = e.runOne(runCtx, inv, timeout)
			if !swallow && (outcomes[idx].Status == StatusError || outcomes[idx].Status == StatusTimeout) {
				cancel()
			}
		}(i, inv)
	}

	wg.Wait()
	return outcomes
}

// runOne executes a single admitted invocation with its own timer.
func (e *Executor) runOne(ctx context.Context, inv Invocation, timeout time.Duration) Outcome {
	start := time.Now()

	handlerCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		handlerCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result := make(chan error, 1)
	go func() {
		result <- runProtected(handlerCtx, inv)
	}()

	select {
	case err := <-result:
		if err != nil {
			return Outcome{Handler: inv.Name, Status: StatusError, Err: err, Elapsed: time.Since(start)}
		}
		return Outcome{Handler: inv.Name, Status: StatusSuccess, Elapsed: time.Since(start)}
	case <-handlerCtx.Done():
		elapsed := time.Since(start)
		if ctx.Err() != nil {
			// Cancelled from outside, not by this handler's timer.
			return Outcome{Handler: inv.Name, Status: StatusSkipped, Err: ctx.Err(), Elapsed: elapsed}
		}
		return Outcome{
			Handler: inv.Name,
			Status:  StatusTimeout,
			Err:     &HandlerTimeoutError{Handler: inv.Name, Timeout: timeout},
			Elapsed: elapsed,
		}
	}
}

// runProtected converts a handler panic into a HandlerError so one
// misbehaving handler cannot take down the dispatcher.
func runProtected(ctx context.Context, inv Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Handler: inv.Name, Err: panicError(r)}
		}
	}()
	if err := inv.Fn(ctx, inv.Event); err != nil {
		return &HandlerError{Handler: inv.Name, Err: err}
	}
	return nil
}

func panicError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", v)
}
