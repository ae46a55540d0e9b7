package hookwire

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// FieldType constrains the JSON shape a field must decode to.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeObject FieldType = "object"
	TypeArray  FieldType = "array"
	TypeAny    FieldType = "any"
)

func (t FieldType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBool, TypeObject, TypeArray, TypeAny:
		return true
	}
	return false
}

// Validator checks a single field value. A nil return means the value is
// acceptable; the error message is collected into the definition's
// ValidationError.
type Validator func(value any) error

// NonEmpty rejects empty strings.
func NonEmpty() Validator {
	return func(value any) error {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		if s == "" {
			return fmt.Errorf("must not be empty")
		}
		return nil
	}
}

// HasPrefix requires a string value starting with prefix.
func HasPrefix(prefix string) Validator {
	return func(value any) error {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		if !strings.HasPrefix(s, prefix) {
			return fmt.Errorf("must start with %q", prefix)
		}
		return nil
	}
}

// OneOf requires a string value from the allowed set.
func OneOf(allowed ...string) Validator {
	return func(value any) error {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
	}
}

// FieldSpec describes one field of a definition's schema.
type FieldSpec struct {
	// Name is the field key in the canonical payload.
	Name string

	// Type is the required JSON shape. TypeAny skips the shape check.
	Type FieldType

	// Required fields must be present; optional fields are validated only
	// when present.
	Required bool

	// Validator optionally constrains the value beyond its type.
	Validator Validator

	// Constraint documents the validator for schema export.
	Constraint string
}

// TriggerFunc is a lifecycle callback bound to a definition.
type TriggerFunc func(ctx context.Context, evt *Event) error

// Trigger binds a lifecycle verb to a callback. Triggers run after the
// dispatch handlers, for events whose activity matches the verb (directly or
// through VerbAliases).
type Trigger struct {
	Verb string
	Fn   TriggerFunc
}

// VerbAliases expands convenience verbs into the activity strings they cover.
// A trigger registered under "create" fires for any of the listed activities.
// The verb "any" fires unconditionally.
var VerbAliases = map[string][]string{
	"create":       {"create", "created", "add", "added"},
	"update":       {"update", "updated", "edit", "edited", "modify", "modified"},
	"delete":       {"delete", "deleted", "remove", "removed"},
	"push":         {"push", "commit"},
	"pull_request": {"pull_request", "pr", "merge_request", "mr"},
}

// verbMatches reports whether a trigger verb covers the given activity.
func verbMatches(verb, activity string) bool {
	if verb == "any" || verb == activity {
		return true
	}
	for _, a := range VerbAliases[verb] {
		if a == activity {
			return true
		}
	}
	return false
}

// ActivityFunc derives an activity label from the raw payload.
type ActivityFunc func(raw map[string]any) string

// Definition declares one recognizable event pattern: an ordered field
// schema, an optional raw-to-canonical transform, an optional activity
// extractor, and trigger bindings. Definitions are immutable after
// registration; the registry stores its own copy.
type Definition struct {
	// Name uniquely identifies the definition within a registry.
	Name string

	// Fields is the ordered schema the (transformed) payload must satisfy.
	Fields []FieldSpec

	// Transform maps canonical field names to gjson paths resolved against
	// the raw payload (e.g. {"repo": "repository.full_name"}). When nil the
	// raw payload is used as-is.
	Transform map[string]string

	// Activity optionally overrides the default activity extraction.
	Activity ActivityFunc

	// Triggers are ordered (verb, callback) bindings.
	Triggers []Trigger
}

// validate checks the definition shape. Called at registration time so that
// malformed definitions never surface during dispatch.
func (d *Definition) validate() error {
	if d.Name == "" {
		return &DefinitionError{Name: d.Name, Reason: "name is required"}
	}
	seen := make(map[string]bool, len(d.Fields))
	for i, f := range d.Fields {
		if f.Name == "" {
			return &DefinitionError{Name: d.Name, Reason: fmt.Sprintf("field %d has no name", i)}
		}
		if seen[f.Name] {
			return &DefinitionError{Name: d.Name, Reason: fmt.Sprintf("duplicate field %q", f.Name)}
		}
		seen[f.Name] = true
		if f.Type == "" {
			d.Fields[i].Type = TypeAny
		} else if !f.Type.valid() {
			return &DefinitionError{Name: d.Name, Reason: fmt.Sprintf("field %q has unknown type %q", f.Name, f.Type)}
		}
	}
	for i, tr := range d.Triggers {
		if tr.Verb == "" {
			return &DefinitionError{Name: d.Name, Reason: fmt.Sprintf("trigger %d has no verb", i)}
		}
		if tr.Fn == nil {
			return &DefinitionError{Name: d.Name, Reason: fmt.Sprintf("trigger %q has no callback", tr.Verb)}
		}
	}
	return nil
}

// clone returns a deep enough copy that callers cannot mutate registered
// definitions through retained slices or maps.
func (d *Definition) clone() *Definition {
	cp := *d
	cp.Fields = append([]FieldSpec(nil), d.Fields...)
	cp.Triggers = append([]Trigger(nil), d.Triggers...)
	if d.Transform != nil {
		cp.Transform = make(map[string]string, len(d.Transform))
		for k, v := range d.Transform {
			cp.Transform[k] = v
		}
	}
	return &cp
}

// applyTransform produces the canonical payload. With no transform the raw
// payload passes through. Paths use gjson syntax against the serialized raw
// payload, so nested lookups ("repository.owner.login") and array access
// ("commits.0.id") work without per-field traversal code.
func (d *Definition) applyTransform(raw map[string]any, rawJSON []byte) map[string]any {
	if len(d.Transform) == 0 {
		return raw
	}
	canonical := make(map[string]any, len(d.Transform))
	for field, path := range d.Transform {
		res := gjson.GetBytes(rawJSON, path)
		if res.Exists() {
			canonical[field] = res.Value()
		}
	}
	return canonical
}

// validatePayload runs the field schema over a canonical payload, collecting
// every field error rather than failing fast.
func (d *Definition) validatePayload(payload map[string]any) *ValidationError {
	var fieldErrs []FieldError
	for _, f := range d.Fields {
		value, present := payload[f.Name]
		if !present {
			if f.Required {
				fieldErrs = append(fieldErrs, FieldError{Field: f.Name, Message: "required field is missing"})
			}
			continue
		}
		if err := checkType(value, f.Type); err != nil {
			fieldErrs = append(fieldErrs, FieldError{Field: f.Name, Message: err.Error()})
			continue
		}
		if f.Validator != nil {
			if err := f.Validator(value); err != nil {
				fieldErrs = append(fieldErrs, FieldError{Field: f.Name, Message: err.Error()})
			}
		}
	}
	if len(fieldErrs) == 0 {
		return nil
	}
	return &ValidationError{Definition: d.Name, Fields: fieldErrs}
}

// checkType verifies a decoded JSON value against a FieldType. Numeric
// payloads may arrive as float64 (encoding/json) or as native ints when the
// caller built the map by hand.
func checkType(value any, t FieldType) error {
	switch t {
	case TypeAny:
		return nil
	case TypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case TypeNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64, uint, uint32, uint64:
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case TypeBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
	case TypeObject:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", value)
		}
	case TypeArray:
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
	}
	return nil
}

// FieldSchema is the exported description of one field.
type FieldSchema struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Required   bool   `json:"required"`
	Constraint string `json:"constraint,omitempty"`
}

// schema returns the ordered exported field list.
func (d *Definition) schema() []FieldSchema {
	out := make([]FieldSchema, len(d.Fields))
	for i, f := range d.Fields {
		out[i] = FieldSchema{
			Name:       f.Name,
			Type:       string(f.Type),
			Required:   f.Required,
			Constraint: f.Constraint,
		}
	}
	return out
}
