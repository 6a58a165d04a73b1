// Package store defines the persistence interfaces used by the submission
// pipeline. Implementations live in internal/platform/postgres and
// internal/platform/memory; the job engine only ever sees these interfaces.
package store
