package config

import (
	"fmt"
	"time"
)

// BusSettings holds the dispatch knobs extracted from a "bus" config
// section. Hosts copy these into their bus configuration.
type BusSettings struct {
	HandlerTimeout        time.Duration
	MaxConcurrentHandlers int

	// FailFast disables error swallowing on the bus. The config key is
	// swallow_errors (default true); FailFast is its inverse.
	FailFast bool

	ActivityGroups map[string][]string
}

// DefaultActivityGroups is the built-in group table merged when
// include_default_groups is set (the default).
var DefaultActivityGroups = map[string][]string{
	"crud":      {"create", "read", "update", "delete"},
	"ci":        {"build", "test", "deploy", "release"},
	"scm":       {"push", "pull_request", "merge", "tag"},
	"lifecycle": {"start", "stop", "restart", "ping"},
}

// BusSettingsFrom extracts and validates bus settings from a config.
// Unset keys take defaults: handler_timeout 30s, max_concurrent_handlers 50,
// swallow_errors true, include_default_groups true.
//
// Recognized keys:
//
//	handler_timeout: "30s"
//	max_concurrent_handlers: 50
//	swallow_errors: true
//	include_default_groups: true
//	activity_groups:
//	  deploys: [deploy, release, rollback]
func BusSettingsFrom(cfg Config) (BusSettings, error) {
	s := BusSettings{
		HandlerTimeout:        cfg.Duration("handler_timeout", 30*time.Second),
		MaxConcurrentHandlers: cfg.Int("max_concurrent_handlers", 50),
		FailFast:              !cfg.Bool("swallow_errors", true),
	}

	if s.HandlerTimeout <= 0 {
		return BusSettings{}, fmt.Errorf("handler_timeout must be positive, got %s", s.HandlerTimeout)
	}
	if s.MaxConcurrentHandlers < 1 {
		return BusSettings{}, fmt.Errorf("max_concurrent_handlers must be at least 1, got %d", s.MaxConcurrentHandlers)
	}

	groups := make(map[string][]string)
	if cfg.Bool("include_default_groups", true) {
		for name, activities := range DefaultActivityGroups {
			groups[name] = append([]string(nil), activities...)
		}
	}
	for name, activities := range cfg.StringMapSlice("activity_groups", nil) {
		if name == "" {
			return BusSettings{}, fmt.Errorf("activity group with empty name")
		}
		if len(activities) == 0 {
			return BusSettings{}, fmt.Errorf("activity group %q has no activities", name)
		}
		// Custom groups extend, and can shadow entries of, the defaults.
		groups[name] = append(groups[name], activities...)
	}
	s.ActivityGroups = groups

	return s, nil
}
