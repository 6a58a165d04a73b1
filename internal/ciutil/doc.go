// Package ciutil locates the external services integration tests run
// against. Tests that need Postgres or Redis call it and skip when the
// environment does not provide them.
package ciutil
