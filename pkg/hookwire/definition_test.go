package hookwire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hookwire/hookwire/pkg/hookwire"
)

func TestValidatorNonEmpty(t *testing.T) {
	v := hookwire.NonEmpty()

	if err := v("hello"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := v(""); err == nil {
		t.Error("expected error for empty string")
	}
	if err := v(42); err == nil {
		t.Error("expected error for non-string")
	}
}

func TestValidatorHasPrefix(t *testing.T) {
	v := hookwire.HasPrefix("refs/")

	if err := v("refs/heads/main"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := v("heads/main"); err == nil {
		t.Error("expected error for missing prefix")
	}
	if err := v(nil); err == nil {
		t.Error("expected error for non-string")
	}
}

func TestValidatorOneOf(t *testing.T) {
	v := hookwire.OneOf("opened", "closed", "merged")

	if err := v("closed"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := v("reopened"); err == nil {
		t.Error("expected error for value outside set")
	}
}

func TestFieldTypeChecks(t *testing.T) {
	reg := hookwire.NewRegistry()
	def := hookwire.Definition{
		Name: "Typed",
		Fields: []hookwire.FieldSpec{
			{Name: "s", Type: hookwire.TypeString, Required: true},
			{Name: "n", Type: hookwire.TypeNumber, Required: true},
			{Name: "b", Type: hookwire.TypeBool, Required: true},
			{Name: "o", Type: hookwire.TypeObject, Required: true},
			{Name: "a", Type: hookwire.TypeArray, Required: true},
			{Name: "x", Type: hookwire.TypeAny, Required: true},
		},
	}
	require.NoError(t, reg.Register(def))

	good := map[string]any{
		"s": "str",
		"n": 3.14,
		"b": true,
		"o": map[string]any{"k": "v"},
		"a": []any{1, 2},
		"x": struct{}{},
	}
	res := reg.Match(good, nil)
	if !res.Matched {
		t.Fatalf("expected match, got errors: %v", res.Errors)
	}

	// Hand-built payloads carry native ints where encoding/json would have
	// produced float64; both satisfy the number type.
	good["n"] = 42
	if res := reg.Match(good, nil); !res.Matched {
		t.Fatalf("expected int to satisfy number, got errors: %v", res.Errors)
	}

	bad := map[string]any{
		"s": 1,
		"n": "nope",
		"b": "true",
		"o": []any{},
		"a": map[string]any{},
		"x": nil,
	}
	res = reg.Match(bad, nil)
	if res.Matched {
		t.Fatal("expected validation failure")
	}
	verr := res.Errors["Typed"]
	require.NotNil(t, verr)
	// Everything except the any-typed field is rejected.
	if len(verr.Fields) != 5 {
		t.Errorf("expected 5 field errors, got %d: %v", len(verr.Fields), verr.Fields)
	}
}

func TestOptionalFields(t *testing.T) {
	reg := hookwire.NewRegistry()
	def := hookwire.Definition{
		Name: "Opt",
		Fields: []hookwire.FieldSpec{
			{Name: "must", Type: hookwire.TypeString, Required: true},
			{Name: "may", Type: hookwire.TypeNumber},
		},
	}
	require.NoError(t, reg.Register(def))

	// Absent optional field is fine.
	if res := reg.Match(map[string]any{"must": "x"}, nil); !res.Matched {
		t.Fatal("expected match without optional field")
	}

	// Present optional field is still type-checked.
	if res := reg.Match(map[string]any{"must": "x", "may": "not a number"}, nil); res.Matched {
		t.Fatal("expected type failure on present optional field")
	}
}

func TestVerbAliases(t *testing.T) {
	// The alias table is part of the public contract for trigger verbs.
	for verb, want := range map[string]string{
		"create":       "added",
		"update":       "modified",
		"delete":       "removed",
		"push":         "commit",
		"pull_request": "merge_request",
	} {
		aliases := hookwire.VerbAliases[verb]
		found := false
		for _, a := range aliases {
			if a == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected %q to alias %q, got %v", verb, want, aliases)
		}
	}
}
