package hookwire_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookwire/hookwire/pkg/hookwire"
)

func githubPushDef() hookwire.Definition {
	return hookwire.Definition{
		Name: "GitHubPush",
		Fields: []hookwire.FieldSpec{
			{Name: "ref", Type: hookwire.TypeString, Required: true, Validator: hookwire.HasPrefix("refs/"), Constraint: "starts with refs/"},
			{Name: "repository", Type: hookwire.TypeObject, Required: true},
			{Name: "pusher", Type: hookwire.TypeObject, Required: true},
		},
	}
}

func genericDef() hookwire.Definition {
	return hookwire.Definition{
		Name: "Generic",
		Fields: []hookwire.FieldSpec{
			{Name: "event", Type: hookwire.TypeString, Required: true},
		},
	}
}

func pushPayload() map[string]any {
	return map[string]any{
		"ref":        "refs/heads/main",
		"repository": map[string]any{"full_name": "acme/widgets"},
		"pusher":     map[string]any{"name": "dev"},
		"event":      "push",
	}
}

func TestRegistryRegister(t *testing.T) {
	reg := hookwire.NewRegistry()

	require.NoError(t, reg.Register(githubPushDef()))

	if !reg.Has("GitHubPush") {
		t.Error("expected Has to return true")
	}
	if reg.Has("nonexistent") {
		t.Error("expected Has to return false for nonexistent")
	}

	names := reg.Definitions()
	if len(names) != 1 || names[0] != "GitHubPush" {
		t.Errorf("expected [GitHubPush], got %v", names)
	}
}

func TestRegistryRegisterDuplicate(t *testing.T) {
	reg := hookwire.NewRegistry()
	require.NoError(t, reg.Register(githubPushDef()))

	err := reg.Register(githubPushDef())
	require.Error(t, err)

	var dup *hookwire.DuplicateDefinitionError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "GitHubPush", dup.Name)
}

func TestRegistryRegisterInvalid(t *testing.T) {
	reg := hookwire.NewRegistry()

	tests := []struct {
		name string
		def  hookwire.Definition
	}{
		{"empty name", hookwire.Definition{}},
		{"unnamed field", hookwire.Definition{
			Name:   "Bad",
			Fields: []hookwire.FieldSpec{{Type: hookwire.TypeString}},
		}},
		{"duplicate field", hookwire.Definition{
			Name: "Bad",
			Fields: []hookwire.FieldSpec{
				{Name: "x", Type: hookwire.TypeString},
				{Name: "x", Type: hookwire.TypeString},
			},
		}},
		{"unknown field type", hookwire.Definition{
			Name:   "Bad",
			Fields: []hookwire.FieldSpec{{Name: "x", Type: hookwire.FieldType("blob")}},
		}},
		{"trigger without verb", hookwire.Definition{
			Name:     "Bad",
			Triggers: []hookwire.Trigger{{Fn: func(ctx context.Context, evt *hookwire.Event) error { return nil }}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.def)
			require.Error(t, err)

			var derr *hookwire.DefinitionError
			assert.True(t, errors.As(err, &derr))
		})
	}
}

func TestRegistryUnregister(t *testing.T) {
	reg := hookwire.NewRegistry()
	require.NoError(t, reg.Register(githubPushDef()))
	require.NoError(t, reg.Register(genericDef()))

	assert.True(t, reg.Unregister("GitHubPush"))
	assert.False(t, reg.Unregister("GitHubPush"))
	assert.Equal(t, []string{"Generic"}, reg.Definitions())

	// The remaining definition still matches after reindexing.
	res := reg.Match(map[string]any{"event": "ping"}, nil)
	require.True(t, res.Matched)
	assert.Equal(t, "Generic", res.Definition.Name)
}

func TestRegistryMatchFirstWins(t *testing.T) {
	reg := hookwire.NewRegistry()
	require.NoError(t, reg.Register(githubPushDef()))
	require.NoError(t, reg.Register(genericDef()))

	// Satisfies both definitions; the earlier registration wins.
	res := reg.Match(pushPayload(), nil)
	require.True(t, res.Matched)
	assert.Equal(t, "GitHubPush", res.Definition.Name)

	// Fails the push schema (no refs/ prefix), falls through to Generic.
	payload := pushPayload()
	payload["ref"] = "heads/main"
	res = reg.Match(payload, nil)
	require.True(t, res.Matched)
	assert.Equal(t, "Generic", res.Definition.Name)
}

func TestRegistryMatchNone(t *testing.T) {
	reg := hookwire.NewRegistry()
	require.NoError(t, reg.Register(githubPushDef()))

	res := reg.Match(map[string]any{"unrelated": true}, nil)
	assert.False(t, res.Matched)
	assert.Nil(t, res.Definition)

	// Every attempted definition reports why it rejected the payload.
	verr, ok := res.Errors["GitHubPush"]
	require.True(t, ok)
	assert.Equal(t, "GitHubPush", verr.Definition)
	assert.Len(t, verr.Fields, 3)
}

func TestRegistryMatchCollectsAllFieldErrors(t *testing.T) {
	reg := hookwire.NewRegistry()
	def := hookwire.Definition{
		Name: "Strict",
		Fields: []hookwire.FieldSpec{
			{Name: "a", Type: hookwire.TypeString, Required: true},
			{Name: "b", Type: hookwire.TypeNumber, Required: true},
			{Name: "c", Type: hookwire.TypeBool, Required: true},
		},
	}
	require.NoError(t, reg.Register(def))

	res := reg.Match(map[string]any{"a": 1, "b": "two"}, nil)
	require.False(t, res.Matched)

	verr := res.Errors["Strict"]
	require.NotNil(t, verr)

	fields := make(map[string]bool)
	for _, fe := range verr.Fields {
		fields[fe.Field] = true
	}
	// Wrong type on a and b, missing c: all three collected in one pass.
	assert.True(t, fields["a"])
	assert.True(t, fields["b"])
	assert.True(t, fields["c"])
}

func TestRegistryMatchTransform(t *testing.T) {
	reg := hookwire.NewRegistry()
	def := hookwire.Definition{
		Name: "RepoEvent",
		Transform: map[string]string{
			"repo":   "repository.full_name",
			"owner":  "repository.owner.login",
			"commit": "commits.0.id",
		},
		Fields: []hookwire.FieldSpec{
			{Name: "repo", Type: hookwire.TypeString, Required: true},
			{Name: "owner", Type: hookwire.TypeString, Required: true},
			{Name: "commit", Type: hookwire.TypeString, Required: true},
		},
	}
	require.NoError(t, reg.Register(def))

	raw := map[string]any{
		"repository": map[string]any{
			"full_name": "acme/widgets",
			"owner":     map[string]any{"login": "acme"},
		},
		"commits": []any{
			map[string]any{"id": "abc123"},
			map[string]any{"id": "def456"},
		},
	}

	res := reg.Match(raw, nil)
	require.True(t, res.Matched)
	assert.Equal(t, "acme/widgets", res.Canonical["repo"])
	assert.Equal(t, "acme", res.Canonical["owner"])
	assert.Equal(t, "abc123", res.Canonical["commit"])
}

func TestRegistryActivity(t *testing.T) {
	reg := hookwire.NewRegistry()
	require.NoError(t, reg.Register(genericDef()))

	// The conventional discriminator fields are checked in order.
	assert.Equal(t, "push", reg.Activity(map[string]any{"event": "push"}))
	assert.Equal(t, "created", reg.Activity(map[string]any{"event": "x", "action": "created"}))

	// Scalar discriminators route by their string form; composite values
	// fall through to the next field.
	assert.Equal(t, "1", reg.Activity(map[string]any{"event": "x", "type": "y", "action": float64(1)}))
	assert.Equal(t, "true", reg.Activity(map[string]any{"event": "x", "action": true}))
	assert.Equal(t, "x", reg.Activity(map[string]any{"action": map[string]any{"k": "v"}, "event": "x"}))

	// Matched payload without a discriminator falls back to the lowercased
	// definition name; unmatched payloads get the sentinel.
	custom := hookwire.Definition{
		Name:   "Heartbeat",
		Fields: []hookwire.FieldSpec{{Name: "beat", Type: hookwire.TypeNumber, Required: true}},
	}
	require.NoError(t, reg.Register(custom))
	assert.Equal(t, "heartbeat", reg.Activity(map[string]any{"beat": 1}))
	assert.Equal(t, hookwire.ActivityUnmatched, reg.Activity(map[string]any{"nope": true}))
}

func TestRegistryActivityExtractor(t *testing.T) {
	reg := hookwire.NewRegistry()
	def := hookwire.Definition{
		Name:   "Custom",
		Fields: []hookwire.FieldSpec{{Name: "kind", Type: hookwire.TypeString, Required: true}},
		Activity: func(raw map[string]any) string {
			if k, ok := raw["kind"].(string); ok {
				return "custom:" + k
			}
			return ""
		},
	}
	require.NoError(t, reg.Register(def))

	assert.Equal(t, "custom:beep", reg.Activity(map[string]any{"kind": "beep"}))
}

func TestRegistryValidateRaw(t *testing.T) {
	reg := hookwire.NewRegistry()
	require.NoError(t, reg.Register(githubPushDef()))
	require.NoError(t, reg.Register(genericDef()))

	// ValidateRaw reports every matching definition, not just the first.
	matches, errs := reg.ValidateRaw(pushPayload())
	assert.Equal(t, []string{"GitHubPush", "Generic"}, matches)
	assert.Empty(t, errs)

	matches, errs = reg.ValidateRaw(map[string]any{"nope": true})
	assert.Empty(t, matches)
	assert.Len(t, errs, 2)

	// Diagnostics do not touch the match counters.
	info := reg.Info()
	assert.Equal(t, int64(0), info.Stats["GitHubPush"].Attempts)
}

func TestRegistryStats(t *testing.T) {
	reg := hookwire.NewRegistry()
	require.NoError(t, reg.Register(githubPushDef()))
	require.NoError(t, reg.Register(genericDef()))

	reg.Match(pushPayload(), nil)                      // GitHubPush match
	reg.Match(map[string]any{"event": "ping"}, nil)    // Generic match
	reg.Match(map[string]any{"unrelated": true}, nil)  // no match

	info := reg.Info()
	assert.Equal(t, []string{"GitHubPush", "Generic"}, info.Definitions)

	gh := info.Stats["GitHubPush"]
	assert.Equal(t, int64(3), gh.Attempts)
	assert.Equal(t, int64(1), gh.Matches)
	assert.Equal(t, int64(2), gh.ValidationErrors)

	gen := info.Stats["Generic"]
	// Generic is not attempted when GitHubPush already matched.
	assert.Equal(t, int64(2), gen.Attempts)
	assert.Equal(t, int64(1), gen.Matches)
	assert.Equal(t, int64(1), gen.ValidationErrors)

	reg.ResetStats()
	info = reg.Info()
	assert.Equal(t, int64(0), info.Stats["GitHubPush"].Attempts)
}

func TestRegistryExportSchema(t *testing.T) {
	reg := hookwire.NewRegistry()
	require.NoError(t, reg.Register(githubPushDef()))

	schema := reg.ExportSchema()
	fields, ok := schema["GitHubPush"]
	require.True(t, ok)
	require.Len(t, fields, 3)
	assert.Equal(t, "ref", fields[0].Name)
	assert.Equal(t, "string", fields[0].Type)
	assert.True(t, fields[0].Required)
	assert.Equal(t, "starts with refs/", fields[0].Constraint)
}

func TestRegistryCloneIsolation(t *testing.T) {
	reg := hookwire.NewRegistry()
	def := genericDef()
	require.NoError(t, reg.Register(def))

	// Mutating the caller's copy must not affect the registered definition.
	def.Fields[0].Required = false
	def.Fields = append(def.Fields, hookwire.FieldSpec{Name: "extra", Type: hookwire.TypeString, Required: true})

	res := reg.Match(map[string]any{"event": "push"}, nil)
	assert.True(t, res.Matched)
}

func TestRegistryConcurrentMatch(t *testing.T) {
	reg := hookwire.NewRegistry()
	require.NoError(t, reg.Register(githubPushDef()))
	require.NoError(t, reg.Register(genericDef()))

	const goroutines = 20
	const iterations = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				if n%2 == 0 {
					reg.Match(pushPayload(), nil)
				} else {
					name := fmt.Sprintf("Extra%d-%d", n, j)
					_ = reg.Register(hookwire.Definition{
						Name:   name,
						Fields: []hookwire.FieldSpec{{Name: "never", Type: hookwire.TypeString, Required: true}},
					})
					reg.Unregister(name)
				}
			}
		}(i)
	}
	wg.Wait()

	res := reg.Match(pushPayload(), nil)
	assert.True(t, res.Matched)
	assert.Equal(t, "GitHubPush", res.Definition.Name)
}
