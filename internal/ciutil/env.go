package ciutil

import (
	"log/slog"
	"os"

	"github.com/phrazzld/bookpush/internal/redact"
)

// Environment variables read by integration tests.
const (
	// CI detection variables
	EnvCI            = "CI"
	EnvGitHubActions = "GITHUB_ACTIONS"
	EnvGitLabCI      = "GITLAB_CI"

	// EnvTestDatabaseURL is the preferred name for the test database.
	EnvTestDatabaseURL = "BOOKPUSH_TEST_DATABASE_URL"
	// EnvDatabaseURL is accepted as a fallback, as set by most CI services.
	EnvDatabaseURL = "DATABASE_URL"

	// EnvTestRedisAddr is the host:port of the test Redis server.
	EnvTestRedisAddr = "BOOKPUSH_TEST_REDIS_ADDR"
	// EnvRedisAddr is accepted as a fallback.
	EnvRedisAddr = "REDIS_ADDR"
)

// IsCI reports whether the process runs under a CI provider.
func IsCI() bool {
	return os.Getenv(EnvCI) != "" ||
		os.Getenv(EnvGitHubActions) != "" ||
		os.Getenv(EnvGitLabCI) != ""
}

// GetEnvWithFallbacks returns the value of the first non-empty variable in
// envVars, or defaultValue. Using a fallback name is logged with the value
// redacted.
func GetEnvWithFallbacks(envVars []string, defaultValue string, logger *slog.Logger) string {
	for i, envVar := range envVars {
		if val := os.Getenv(envVar); val != "" {
			if i > 0 && logger != nil {
				logger.Warn("using fallback environment variable",
					"used_var", envVar,
					"preferred_var", envVars[0],
					"value", redact.String(val))
			}
			return val
		}
	}
	return defaultValue
}

// TestDatabaseURL returns the Postgres URL for integration tests, or "" when
// none is configured.
func TestDatabaseURL(logger *slog.Logger) string {
	return GetEnvWithFallbacks([]string{EnvTestDatabaseURL, EnvDatabaseURL}, "", logger)
}

// TestRedisAddr returns the Redis address for integration tests, or "" when
// none is configured.
func TestRedisAddr(logger *slog.Logger) string {
	return GetEnvWithFallbacks([]string{EnvTestRedisAddr, EnvRedisAddr}, "", logger)
}
