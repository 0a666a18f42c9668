// Package config holds the benchmark configuration: the CLI option surface,
// range clamping rules inherited from the original tool, and optional
// YAML/JSON config-file loading with flags taking precedence.
package config
