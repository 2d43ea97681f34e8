// Package cli holds what the command-line entry points share: kong
// parsing with a YAML configuration file, slog setup, and the build
// version injected at link time.
package cli
