// Package memory provides in-process implementations of the store interfaces.
// They are used when no database URL is configured and in tests. Like the
// PostgreSQL stores they refuse status writes on finished submissions.
package memory
