package hookwire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hookwire/hookwire/pkg/hookwire/observability"
)

// Kind selects how a handler registration matches events.
type Kind string

const (
	// KindPattern matches when the dispatched event's definition name is in
	// the selector.
	KindPattern Kind = "pattern"

	// KindActivity matches when the derived activity is in the selector.
	KindActivity Kind = "activity"

	// KindGroup matches when the derived activity belongs to any named
	// activity group in the selector.
	KindGroup Kind = "group"

	// KindAny matches every event; the selector is ignored.
	KindAny Kind = "any"
)

func (k Kind) valid() bool {
	switch k {
	case KindPattern, KindActivity, KindGroup, KindAny:
		return true
	}
	return false
}

// Registration is the handle for one registered handler. It is immutable
// once created and usable to remove the handler (the plugin unload path).
type Registration struct {
	id       uint64
	kind     Kind
	selector []string
	name     string
	handler  Handler
}

// ID returns the registration index; lower IDs were registered earlier.
func (r *Registration) ID() uint64 { return r.id }

// Kind returns the registration kind.
func (r *Registration) Kind() Kind { return r.kind }

// Name returns the handler's label, used in outcomes and logs.
func (r *Registration) Name() string { return r.name }

// Selector returns a copy of the registration's selector.
func (r *Registration) Selector() []string {
	return append([]string(nil), r.selector...)
}

// RegistrationOption configures a handler registration.
type RegistrationOption func(*Registration)

// WithHandlerName labels the registration; the label appears in outcomes,
// logs, and metrics. Default: "handler-<id>".
func WithHandlerName(name string) RegistrationOption {
	return func(r *Registration) {
		r.name = name
	}
}

// DispatchResult describes one completed dispatch: what matched, which
// handlers ran, and how each fared.
type DispatchResult struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Matched  bool   `json:"matched"`
	Pattern  string `json:"pattern,omitempty"`
	Activity string `json:"activity"`
	Event    *Event `json:"-"`

	// Outcomes preserves handler registration order even though execution
	// is concurrent.
	Outcomes []Outcome `json:"outcomes"`

	// Triggered lists the definition trigger bindings that fired, as
	// "<definition>.<verb>".
	Triggered []string `json:"triggered,omitempty"`

	// Errors maps handler (or trigger) name to its failure.
	Errors map[string]error `json:"-"`

	// Failed lists the names of handlers that did not succeed.
	Failed []string `json:"failed,omitempty"`

	Success bool          `json:"success"`
	Elapsed time.Duration `json:"elapsed"`
}

// HandlerCount returns the number of handlers invoked.
func (r *DispatchResult) HandlerCount() int { return len(r.Outcomes) }

// SucceededHandlers returns the names of handlers that completed successfully.
func (r *DispatchResult) SucceededHandlers() []string {
	var names []string
	for _, o := range r.Outcomes {
		if o.Status == StatusSuccess {
			names = append(names, o.Handler)
		}
	}
	return names
}

// BusConfig configures bus behavior. Zero values fall back to
// DefaultBusConfig where a default exists.
type BusConfig struct {
	// Timeout bounds each handler invocation. Default: 30s.
	Timeout time.Duration

	// MaxConcurrentHandlers bounds simultaneously executing handlers across
	// every dispatch on this bus. Default: 50.
	MaxConcurrentHandlers int

	// FailFast disables error swallowing: the first failing handler cancels
	// its siblings and DispatchRaw returns a *DispatchFailure. The default
	// (false) swallows handler failures into the result, the recommended
	// posture for a long-running service.
	FailFast bool

	// ActivityGroups maps group names to the activities they cover, for
	// KindGroup registrations.
	ActivityGroups map[string][]string

	// Logger receives dispatch lifecycle logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics optionally mirrors dispatch counters into OpenTelemetry.
	Metrics observability.MetricsRecorder

	// Spans optionally traces each dispatch.
	Spans observability.SpanManager

	// OnHandlerFailure is called for every failed or timed-out handler
	// outcome, after the result is built. Hosts use it to feed a failure
	// store for later redelivery.
	OnHandlerFailure func(ctx context.Context, evt *Event, handler string, err error)
}

// DefaultBusConfig provides reasonable defaults.
var DefaultBusConfig = BusConfig{
	Timeout:               30 * time.Second,
	MaxConcurrentHandlers: 50,
}

// Bus holds handler registrations and orchestrates dispatches against a
// shared Registry. Handler and definition mutations taken through
// UpdateExclusive appear atomic to concurrent dispatches.
type Bus struct {
	cfg      BusConfig
	registry *Registry
	exec     *Executor
	metrics  *Collector
	logger   *slog.Logger

	mu         sync.RWMutex
	handlers   []*Registration
	groups     map[string][]string
	middleware []Middleware

	nextID atomic.Uint64
}

// NewBus creates a bus dispatching against the given registry.
func NewBus(registry *Registry, cfg BusConfig) *Bus {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBusConfig.Timeout
	}
	if cfg.MaxConcurrentHandlers <= 0 {
		cfg.MaxConcurrentHandlers = DefaultBusConfig.MaxConcurrentHandlers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	groups := make(map[string][]string, len(cfg.ActivityGroups))
	for name, activities := range cfg.ActivityGroups {
		groups[name] = append([]string(nil), activities...)
	}

	return &Bus{
		cfg:      cfg,
		registry: registry,
		exec:     NewExecutor(cfg.MaxConcurrentHandlers),
		metrics:  NewCollector(),
		logger:   logger,
		groups:   groups,
	}
}

// Registry returns the registry this bus dispatches against.
func (b *Bus) Registry() *Registry { return b.registry }

// Metrics returns the bus's metrics collector.
func (b *Bus) Metrics() *Collector { return b.metrics }

// Use adds middleware applied to subsequently registered handlers, first
// middleware outermost.
func (b *Bus) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
}

// RegisterHandler adds a handler of the given kind. Pattern, activity, and
// group kinds require a non-empty selector; any-kind ignores it.
func (b *Bus) RegisterHandler(kind Kind, selector []string, handler Handler, opts ...RegistrationOption) (*Registration, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("unknown handler kind %q", kind)
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if kind != KindAny && len(selector) == 0 {
		return nil, fmt.Errorf("%s registration requires a selector", kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registerLocked(kind, selector, handler, opts...), nil
}

// registerLocked appends a registration; callers hold b.mu.
func (b *Bus) registerLocked(kind Kind, selector []string, handler Handler, opts ...RegistrationOption) *Registration {
	reg := &Registration{
		id:       b.nextID.Add(1),
		kind:     kind,
		selector: append([]string(nil), selector...),
		handler:  ChainMiddleware(handler, b.middleware...),
	}
	for _, opt := range opts {
		opt(reg)
	}
	if reg.name == "" {
		reg.name = fmt.Sprintf("handler-%d", reg.id)
	}
	b.handlers = append(b.handlers, reg)
	return reg
}

// OnPattern registers a handler for specific definition names.
func (b *Bus) OnPattern(handler Handler, patterns ...string) (*Registration, error) {
	return b.RegisterHandler(KindPattern, patterns, handler)
}

// OnActivity registers a handler for specific activity strings.
func (b *Bus) OnActivity(handler Handler, activities ...string) (*Registration, error) {
	return b.RegisterHandler(KindActivity, activities, handler)
}

// OnGroup registers a handler for named activity groups.
func (b *Bus) OnGroup(handler Handler, groups ...string) (*Registration, error) {
	return b.RegisterHandler(KindGroup, groups, handler)
}

// OnAny registers a catch-all handler.
func (b *Bus) OnAny(handler Handler) (*Registration, error) {
	return b.RegisterHandler(KindAny, nil, handler)
}

// RemoveHandler removes a registration by handle. It returns false when the
// registration is not present.
func (b *Bus) RemoveHandler(reg *Registration) bool {
	if reg == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(reg)
}

func (b *Bus) removeLocked(reg *Registration) bool {
	for i, r := range b.handlers {
		if r.id == reg.id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateExclusive runs fn while holding the bus's write lock. Mutations to
// the handler list and the shared registry made inside fn appear atomic to
// concurrent dispatches: no dispatch observes a definition without its
// handlers or vice versa. The plugin manager loads and unloads through this.
func (b *Bus) UpdateExclusive(fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn()
}

// AddActivityGroup merges a group definition, extending the set when the
// group exists. Returns the activities newly added.
func (b *Bus) AddActivityGroup(name string, activities []string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addActivityGroupLocked(name, activities)
}

func (b *Bus) addActivityGroupLocked(name string, activities []string) []string {
	existing := make(map[string]bool, len(b.groups[name]))
	for _, a := range b.groups[name] {
		existing[a] = true
	}
	var added []string
	for _, a := range activities {
		if !existing[a] {
			b.groups[name] = append(b.groups[name], a)
			added = append(added, a)
		}
	}
	return added
}

// RemoveActivityGroupEntries removes specific activities from a group,
// deleting the group when it empties.
func (b *Bus) RemoveActivityGroupEntries(name string, activities []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeActivityGroupEntriesLocked(name, activities)
}

func (b *Bus) removeActivityGroupEntriesLocked(name string, activities []string) {
	remove := make(map[string]bool, len(activities))
	for _, a := range activities {
		remove[a] = true
	}
	var kept []string
	for _, a := range b.groups[name] {
		if !remove[a] {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		delete(b.groups, name)
	} else {
		b.groups[name] = kept
	}
}

// ActivityGroups returns a copy of the group table.
func (b *Bus) ActivityGroups() map[string][]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]string, len(b.groups))
	for name, activities := range b.groups {
		out[name] = append([]string(nil), activities...)
	}
	return out
}

// DispatchRaw matches a raw payload, resolves the applicable handlers, and
// executes them under the bus's admission gate and timeout.
//
// "No pattern matched" is not an error: the event carries the raw payload
// and activity/group/catch-all handlers still run. Zero resolved handlers is
// a successful dispatch with an empty invocation list.
//
// With FailFast set, a failing handler aborts the dispatch and the call
// returns a *DispatchFailure instead of a result.
func (b *Bus) DispatchRaw(ctx context.Context, raw map[string]any, headers map[string]string, sourceInfo any) (*DispatchResult, error) {
	return b.dispatch(ctx, raw, headers, sourceInfo, b.cfg.Timeout)
}

// DispatchRawTimeout is DispatchRaw with a per-call handler timeout override.
func (b *Bus) DispatchRawTimeout(ctx context.Context, raw map[string]any, headers map[string]string, sourceInfo any, timeout time.Duration) (*DispatchResult, error) {
	if timeout <= 0 {
		timeout = b.cfg.Timeout
	}
	return b.dispatch(ctx, raw, headers, sourceInfo, timeout)
}

// DispatchJSON decodes a JSON body and dispatches it. Convenience for
// webhook transport layers that hold the request body as bytes.
func (b *Bus) DispatchJSON(ctx context.Context, body []byte, headers map[string]string, sourceInfo any) (*DispatchResult, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return b.DispatchRaw(ctx, raw, headers, sourceInfo)
}

func (b *Bus) dispatch(ctx context.Context, raw map[string]any, headers map[string]string, sourceInfo any, timeout time.Duration) (*DispatchResult, error) {
	start := time.Now()

	// Match and resolve under the read lock so a concurrent plugin
	// load/unload appears atomic to this dispatch.
	b.mu.RLock()
	match := b.registry.Match(raw, headers)
	activity := activityFor(match.Definition, raw)

	payload := raw
	if match.Matched {
		payload = match.Canonical
	}
	evt := newEvent(match.Definition, payload, raw, headers, sourceInfo, activity)

	invs := b.resolveLocked(evt)
	b.mu.RUnlock()

	var span trace.Span
	if b.cfg.Spans != nil {
		ctx, span = b.cfg.Spans.StartDispatchSpan(ctx, evt.ID, evt.Pattern(), activity)
	}

	observability.LogDispatchStart(b.logger, evt.ID, evt.Pattern(), activity, len(invs))

	outcomes := b.exec.Run(ctx, invs, timeout, !b.cfg.FailFast)

	result := &DispatchResult{
		ID:        evt.ID,
		Timestamp: evt.ReceivedAt,
		Matched:   match.Matched,
		Pattern:   evt.Pattern(),
		Activity:  activity,
		Event:     evt,
		Outcomes:  outcomes,
		Errors:    make(map[string]error),
		Success:   true,
	}

	var firstErr error
	for _, o := range outcomes {
		if o.Status == StatusSuccess {
			continue
		}
		result.Success = false
		result.Failed = append(result.Failed, o.Handler)
		if o.Err != nil {
			result.Errors[o.Handler] = o.Err
			if firstErr == nil && o.Status != StatusSkipped {
				firstErr = o.Err
			}
		}
	}

	// Definition triggers run after the handlers, for verbs covering the
	// derived activity. Trigger failures are always swallowed into the
	// result; they never abort the dispatch.
	b.runTriggers(ctx, evt, result)

	result.Elapsed = time.Since(start)

	b.metrics.Record(result)
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.RecordDispatch(ctx, activity, result.Matched, result.Success, result.Elapsed)
		for _, o := range outcomes {
			b.cfg.Metrics.RecordHandler(ctx, o.Handler, string(o.Status), o.Elapsed)
		}
	}
	if b.cfg.OnHandlerFailure != nil {
		for _, o := range outcomes {
			if o.Status == StatusError || o.Status == StatusTimeout {
				b.cfg.OnHandlerFailure(ctx, evt, o.Handler, o.Err)
			}
		}
	}

	if b.cfg.FailFast && firstErr != nil {
		failure := &DispatchFailure{
			First:     firstErr,
			Failed:    result.Failed,
			Completed: result.SucceededHandlers(),
			Result:    result,
		}
		observability.LogDispatchError(b.logger, evt.ID, failure, result.Elapsed)
		if span != nil {
			b.cfg.Spans.EndSpanWithError(span, failure)
		}
		return nil, failure
	}

	observability.LogDispatchComplete(b.logger, evt.ID, activity, result.Success, len(outcomes), result.Elapsed)
	if span != nil {
		b.cfg.Spans.EndSpanWithError(span, nil)
	}
	return result, nil
}

// resolveLocked collects the invocations for an event in registration
// order; callers hold at least the read lock.
func (b *Bus) resolveLocked(evt *Event) []Invocation {
	var invs []Invocation
	for _, reg := range b.handlers {
		if !b.selectorMatchesLocked(reg, evt) {
			continue
		}
		fn := reg.handler
		if b.cfg.Spans != nil {
			fn = b.traceHandler(reg.name, fn)
		}
		invs = append(invs, Invocation{Name: reg.name, Fn: fn, Event: evt})
	}
	return invs
}

// traceHandler wraps a handler in a child span of the dispatch span.
func (b *Bus) traceHandler(name string, fn Handler) Handler {
	return func(ctx context.Context, evt *Event) error {
		ctx, span := b.cfg.Spans.StartHandlerSpan(ctx, name)
		err := fn(ctx, evt)
		b.cfg.Spans.EndSpanWithError(span, err)
		return err
	}
}

func (b *Bus) selectorMatchesLocked(reg *Registration, evt *Event) bool {
	switch reg.kind {
	case KindAny:
		return true
	case KindPattern:
		if !evt.Matched() {
			return false
		}
		for _, name := range reg.selector {
			if name == evt.Definition.Name {
				return true
			}
		}
	case KindActivity:
		for _, a := range reg.selector {
			if a == evt.Activity {
				return true
			}
		}
	case KindGroup:
		for _, group := range reg.selector {
			for _, a := range b.groups[group] {
				if a == evt.Activity {
					return true
				}
			}
		}
	}
	return false
}

// runTriggers fires the matched definition's trigger bindings whose verb
// covers the event's activity.
func (b *Bus) runTriggers(ctx context.Context, evt *Event, result *DispatchResult) {
	if evt.Definition == nil {
		return
	}
	for _, tr := range evt.Definition.Triggers {
		if !verbMatches(tr.Verb, evt.Activity) {
			continue
		}
		name := evt.Definition.Name + "." + tr.Verb
		if err := runTriggerProtected(ctx, tr.Fn, evt); err != nil {
			result.Errors[name] = err
			result.Failed = append(result.Failed, name)
			result.Success = false
			observability.LogTriggerError(b.logger, evt.ID, name, err)
			continue
		}
		result.Triggered = append(result.Triggered, name)
	}
}

func runTriggerProtected(ctx context.Context, fn TriggerFunc, evt *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return fn(ctx, evt)
}

// HandlerCount returns registration counts by kind.
func (b *Bus) HandlerCount() map[Kind]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	counts := make(map[Kind]int)
	for _, reg := range b.handlers {
		counts[reg.kind]++
	}
	return counts
}

// RegisteredPatterns returns the definition names any pattern handler
// selects on, in registration order without duplicates.
func (b *Bus) RegisteredPatterns() []string {
	return b.selectorValues(KindPattern)
}

// RegisteredActivities returns the activities any activity handler selects
// on, in registration order without duplicates.
func (b *Bus) RegisteredActivities() []string {
	return b.selectorValues(KindActivity)
}

func (b *Bus) selectorValues(kind Kind) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[string]bool)
	var values []string
	for _, reg := range b.handlers {
		if reg.kind != kind {
			continue
		}
		for _, s := range reg.selector {
			if !seen[s] {
				seen[s] = true
				values = append(values, s)
			}
		}
	}
	return values
}

// Handlers returns the current registrations in order. The returned slice
// is a copy; the registrations themselves are immutable.
func (b *Bus) Handlers() []*Registration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*Registration(nil), b.handlers...)
}
