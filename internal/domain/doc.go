// Package domain contains the core business entities of the service:
// submissions, the books (artifacts) produced for them, and the content key
// used to recognise content that has already been converted.
package domain
