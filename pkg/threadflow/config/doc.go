/*
Package config loads threadflow settings.

# Overview

Config wraps a decoded YAML or JSONC document and exposes typed accessors
that fall back to a default when a key is missing or has the wrong type.
Keys may be dotted paths into nested sections:

	cfg, err := config.FromFile("threadflow.yaml")
	if err != nil {
	    return err
	}
	backend := cfg.String("store.backend", "file")
	timeout := cfg.Duration("idle_timeout", 5*time.Minute)

Settings is the typed view the orchestrator consumes. Load reads a file,
applies defaults and validates it:

	settings, err := config.Load("threadflow.jsonc")

# Formats

Files ending in .yaml or .yml are parsed with gopkg.in/yaml.v3. Files
ending in .json or .jsonc may contain comments and trailing commas; they
are normalized with github.com/tidwall/jsonc before decoding.

# Type Coercion

Duration accepts a string ("30s", "1h30m"), an integer or float number of
seconds, or a time.Duration. Int accepts any integer type, and floats
without a fractional part.
*/
package config
