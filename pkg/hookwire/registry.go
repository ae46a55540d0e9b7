package hookwire

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// MatchResult is the outcome of matching a raw payload against the registry.
type MatchResult struct {
	// Matched is true when some definition validated the payload.
	Matched bool

	// Definition is the first definition that validated, or nil.
	Definition *Definition

	// Canonical is the transformed payload for the matched definition.
	Canonical map[string]any

	// Errors holds, per attempted definition, the validation errors that
	// rejected it. Populated for diagnostics; normal dispatch ignores it.
	Errors map[string]*ValidationError
}

// MatchStats tracks per-definition matching activity.
type MatchStats struct {
	Attempts         int64 `json:"attempts"`
	Matches          int64 `json:"matches"`
	ValidationErrors int64 `json:"validation_errors"`
}

// matchCounters is the mutable form of MatchStats, updated without holding
// the registry write lock.
type matchCounters struct {
	attempts         atomic.Int64
	matches          atomic.Int64
	validationErrors atomic.Int64
}

func (c *matchCounters) snapshot() MatchStats {
	return MatchStats{
		Attempts:         c.attempts.Load(),
		Matches:          c.matches.Load(),
		ValidationErrors: c.validationErrors.Load(),
	}
}

// RegistryInfo is a snapshot of registry state for introspection.
type RegistryInfo struct {
	Definitions []string              `json:"definitions"`
	Stats       map[string]MatchStats `json:"stats"`
}

// Registry holds ordered event definitions and matches raw payloads against
// them. Earlier registrations act as higher-priority, more specific patterns:
// Match returns the first definition that validates.
//
// Register and Unregister take the write lock, so a mutation appears atomic
// to concurrent Match calls; matching itself only read-locks.
type Registry struct {
	mu    sync.RWMutex
	defs  []*Definition
	index map[string]int
	stats map[string]*matchCounters
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
		stats: make(map[string]*matchCounters),
	}
}

// Register appends a definition to the ordered list. It fails with
// *DuplicateDefinitionError on a name collision and *DefinitionError when the
// definition is malformed.
func (r *Registry) Register(def Definition) error {
	cp := def.clone()
	if err := cp.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[cp.Name]; exists {
		return &DuplicateDefinitionError{Name: cp.Name}
	}
	r.index[cp.Name] = len(r.defs)
	r.defs = append(r.defs, cp)
	r.stats[cp.Name] = &matchCounters{}
	return nil
}

// Unregister removes a definition by name, preserving the order of the rest.
// It returns false when the name is unknown.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[name]
	if !ok {
		return false
	}
	r.defs = append(r.defs[:i], r.defs[i+1:]...)
	delete(r.index, name)
	delete(r.stats, name)
	for j := i; j < len(r.defs); j++ {
		r.index[r.defs[j].Name] = j
	}
	return true
}

// Match iterates definitions in registration order, applying each transform
// and field validation, and returns the first definition that validates.
// When none do, Matched is false and Errors carries every definition's
// validation errors. Headers are available to custom matching through
// definitions' transforms today only via payload content; they are accepted
// here so the signature matches the dispatch entry point.
func (r *Registry) Match(raw map[string]any, headers map[string]string) MatchResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := MatchResult{Errors: make(map[string]*ValidationError)}

	// One serialization per match; every definition's transform paths
	// resolve against the same bytes.
	rawJSON, _ := json.Marshal(raw)

	for _, def := range r.defs {
		st := r.stats[def.Name]
		st.attempts.Add(1)

		canonical := def.applyTransform(raw, rawJSON)
		if verr := def.validatePayload(canonical); verr != nil {
			st.validationErrors.Add(1)
			result.Errors[def.Name] = verr
			continue
		}

		st.matches.Add(1)
		result.Matched = true
		result.Definition = def
		result.Canonical = canonical
		return result
	}
	return result
}

// Activity derives the routing label for a raw payload: the matched
// definition's extractor when present, else the conventional discriminator
// fields, else the unmatched sentinel.
func (r *Registry) Activity(raw map[string]any) string {
	res := r.Match(raw, nil)
	return activityFor(res.Definition, raw)
}

// activityFor applies a definition's extractor or falls back to the default.
func activityFor(def *Definition, raw map[string]any) string {
	if def != nil && def.Activity != nil {
		if a := def.Activity(raw); a != "" {
			return a
		}
	}
	return defaultActivity(raw, def)
}

// Definitions returns the registered names in registration order.
func (r *Registry) Definitions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.defs))
	for i, d := range r.defs {
		names[i] = d.Name
	}
	return names
}

// Has reports whether a definition is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[name]
	return ok
}

// ExportSchema returns, per definition, the ordered field list with type,
// required flag, and constraint description.
func (r *Registry) ExportSchema() map[string][]FieldSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]FieldSchema, len(r.defs))
	for _, d := range r.defs {
		out[d.Name] = d.schema()
	}
	return out
}

// ValidateRaw is a diagnostic API: it reports every definition the payload
// would match and the validation errors for those it would not. It does not
// update match statistics.
func (r *Registry) ValidateRaw(raw map[string]any) (matches []string, errs map[string]*ValidationError) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	errs = make(map[string]*ValidationError)
	rawJSON, _ := json.Marshal(raw)
	for _, def := range r.defs {
		canonical := def.applyTransform(raw, rawJSON)
		if verr := def.validatePayload(canonical); verr != nil {
			errs[def.Name] = verr
			continue
		}
		matches = append(matches, def.Name)
	}
	return matches, errs
}

// Info returns a snapshot of registered names and match statistics.
func (r *Registry) Info() RegistryInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info := RegistryInfo{
		Definitions: make([]string, len(r.defs)),
		Stats:       make(map[string]MatchStats, len(r.stats)),
	}
	for i, d := range r.defs {
		info.Definitions[i] = d.Name
	}
	for name, st := range r.stats {
		info.Stats[name] = st.snapshot()
	}
	return info
}

// ResetStats zeroes all match statistics.
func (r *Registry) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.stats {
		r.stats[name] = &matchCounters{}
	}
}
