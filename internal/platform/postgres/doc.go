// Package postgres provides PostgreSQL implementations of the submission,
// book, and job stores, the embedded goose migrations that create their
// tables, and the mapping from driver errors to store errors.
package postgres
