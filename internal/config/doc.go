// Package config loads server settings from config.yaml and BOOKPUSH_*
// environment variables and validates them before any component starts.
package config
