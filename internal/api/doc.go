// Package api exposes the submission intake over HTTP. Handlers translate
// plugin requests into service calls and map service errors to status codes
// without leaking internal details.
package api
