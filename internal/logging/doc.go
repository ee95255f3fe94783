// Package logging centralizes slog construction and the structured field
// vocabulary used across the daemon and pipeline stages.
package logging
