// Package config loads, validates, and normalizes muxd configuration.
package config
