// Package config loads, normalizes, and validates notescribe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// NOTESCRIBE_LOG_LEVEL. The [analysis] section decodes straight into
// analysis.Config, so every pipeline threshold can be tuned from one file.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
