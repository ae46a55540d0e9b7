package benchmarks

import (
	"fmt"
	"testing"

	"github.com/hookwire/hookwire/pkg/hookwire"
)

// buildRegistry creates a registry with n schema-only definitions.
func buildRegistry(n int) *hookwire.Registry {
	registry := hookwire.NewRegistry()
	for i := 0; i < n; i++ {
		def := hookwire.Definition{
			Name: fmt.Sprintf("Pattern%d", i),
			Fields: []hookwire.FieldSpec{
				{Name: fmt.Sprintf("marker%d", i), Type: hookwire.TypeString, Required: true},
				{Name: "count", Type: hookwire.TypeNumber},
			},
		}
		if err := registry.Register(def); err != nil {
			panic(err)
		}
	}
	return registry
}

// BenchmarkMatch_First matches against the first of 50 definitions.
func BenchmarkMatch_First(b *testing.B) {
	registry := buildRegistry(50)
	payload := map[string]any{"marker0": "x"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		registry.Match(payload, nil)
	}
}

// BenchmarkMatch_Last scans all 50 definitions before matching.
func BenchmarkMatch_Last(b *testing.B) {
	registry := buildRegistry(50)
	payload := map[string]any{"marker49": "x"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		registry.Match(payload, nil)
	}
}

// BenchmarkMatch_None scans all definitions without a match.
func BenchmarkMatch_None(b *testing.B) {
	registry := buildRegistry(50)
	payload := map[string]any{"unknown": "shape"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		registry.Match(payload, nil)
	}
}

// BenchmarkMatch_Transform matches a definition that lifts nested fields.
func BenchmarkMatch_Transform(b *testing.B) {
	registry := hookwire.NewRegistry()
	err := registry.Register(hookwire.Definition{
		Name: "Push",
		Fields: []hookwire.FieldSpec{
			{Name: "ref", Type: hookwire.TypeString, Required: true},
			{Name: "repo", Type: hookwire.TypeString, Required: true},
		},
		Transform: map[string]string{
			"ref":  "ref",
			"repo": "repository.full_name",
		},
	})
	if err != nil {
		b.Fatal(err)
	}

	payload := map[string]any{
		"ref": "refs/heads/main",
		"repository": map[string]any{
			"full_name": "hookwire/hookwire",
		},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		registry.Match(payload, nil)
	}
}
