package config

import "context"

// Loader retrieves the source configuration from some backing store. File,
// environment and remote implementations all satisfy the same interface so
// callers never care where definitions live.
type Loader interface {
	// Load retrieves and parses the configuration, returning an error when the
	// backing store is unavailable or the content does not parse.
	Load(ctx context.Context) (*Config, error)
}
