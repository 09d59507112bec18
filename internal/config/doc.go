// Package config loads, normalizes, and validates curator configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CURATOR_API_BIND. The Config type centralizes every knob the daemon and CLI
// need: data and log directories, scheduler timing, logging shape and the
// optional lifecycle event sink.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
