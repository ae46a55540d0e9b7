/*
Package config provides type-safe configuration extraction from map[string]any.

# Overview

config wraps a map[string]any and provides typed accessor methods that handle
missing keys and type mismatches gracefully by returning default values.
This is useful for extracting configuration values from YAML/JSON structures
without verbose type assertions and nil checks.

# Basic Usage

Create a Config from any map and extract values with defaults:

	cfg := config.New(map[string]any{
	    "handler_timeout":         "30s",
	    "max_concurrent_handlers": 16,
	    "swallow_errors":          true,
	})

	timeout := cfg.Duration("handler_timeout", 10*time.Second) // 30s
	workers := cfg.Int("max_concurrent_handlers", 50)          // 16
	swallow := cfg.Bool("swallow_errors", true)                // true
	missing := cfg.String("missing", "default")                // "default"

# Bus Settings

BusSettingsFrom extracts the dispatch knobs a bus needs, applying defaults
and validating ranges:

	cfg, err := config.FromFile("hookwire.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	settings, err := config.BusSettingsFrom(cfg.Sub("bus"))
	if err != nil {
	    log.Fatal(err)
	}

Unless include_default_groups is false, the built-in activity group table
(crud, ci, scm, lifecycle) is merged under the configured groups.

# Type Coercion

Duration handles multiple input types:
  - string: parsed with time.ParseDuration ("30s", "1h30m")
  - int/float64: interpreted as seconds
  - time.Duration: used directly

All methods return the default value if:
  - The key is missing
  - The value cannot be converted to the requested type
  - The conversion would lose precision (e.g., float to int with fraction)

# File Loading

Load configuration from YAML or JSON files:

	cfg, err := config.FromFile("hookwire.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	// Or load from bytes
	cfg, err = config.FromYAML(yamlBytes)
	cfg, err = config.FromJSON(jsonBytes)

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation. However, if the original map is modified
externally, behavior is undefined.
*/
package config
