// Package config loads, normalizes, and validates buildd configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the BUILDD_CONFIG override. The
// Config type centralizes every knob the daemon, the watcher, and the CLI
// need so the runtime directory, the project root, and the engine command
// line are resolved in one pass.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
