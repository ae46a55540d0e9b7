package hookwire

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActivityUnmatched is the sentinel activity for payloads that carry no
// recognizable discriminator field.
const ActivityUnmatched = "unmatched"

// activityFields are the conventional discriminator keys checked, in order,
// by the default activity extraction.
var activityFields = []string{"action", "event", "type", "activity", "event_type"}

// Event is one dispatchable occurrence. It is created per dispatch and
// discarded with the DispatchResult.
type Event struct {
	// ID uniquely identifies this dispatch.
	ID string

	// Definition is the matched definition, or nil for a raw passthrough.
	Definition *Definition

	// Payload is the canonical payload when matched, the raw payload
	// otherwise.
	Payload map[string]any

	// Raw is the original payload as received.
	Raw map[string]any

	// Headers are the transport headers that accompanied the payload.
	Headers map[string]string

	// SourceInfo is an opaque passthrough value attached by the caller and
	// never inspected by the engine.
	SourceInfo any

	// Activity is the derived routing label.
	Activity string

	// ReceivedAt is when the dispatch started.
	ReceivedAt time.Time
}

// Matched reports whether a definition matched this event.
func (e *Event) Matched() bool {
	return e.Definition != nil
}

// Pattern returns the matched definition name, or "" for raw passthrough.
func (e *Event) Pattern() string {
	if e.Definition == nil {
		return ""
	}
	return e.Definition.Name
}

// newEvent builds the per-dispatch event value.
func newEvent(def *Definition, payload, raw map[string]any, headers map[string]string, sourceInfo any, activity string) *Event {
	if headers == nil {
		headers = map[string]string{}
	}
	return &Event{
		ID:         uuid.New().String(),
		Definition: def,
		Payload:    payload,
		Raw:        raw,
		Headers:    headers,
		SourceInfo: sourceInfo,
		Activity:   activity,
		ReceivedAt: time.Now(),
	}
}

// defaultActivity derives a routing label from the raw payload: the first
// conventional discriminator field with a scalar value wins; a matched
// definition's lowercased name is next; otherwise the unmatched sentinel.
func defaultActivity(raw map[string]any, def *Definition) string {
	for _, field := range activityFields {
		if s := coerceActivity(raw[field]); s != "" {
			return s
		}
	}
	if def != nil {
		return strings.ToLower(def.Name)
	}
	return ActivityUnmatched
}

// coerceActivity renders a scalar discriminator value as a routing label.
// Numbers and bools route by their string form; composite values do not
// route.
func coerceActivity(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

// Handler processes a resolved event. Handlers run concurrently under the
// bus's admission gate; a handler that needs to stop early should honor ctx.
type Handler func(ctx context.Context, evt *Event) error
