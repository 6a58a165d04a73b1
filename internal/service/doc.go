// Package service contains the submission intake use case. It validates and
// decodes what the browser plugin sends, records the submission, and hands it
// to the coordinator without waiting for any background work.
//
// Errors follow the domain/store convention: expected conditions are sentinel
// errors checked with errors.Is (domain.ErrValidation, ErrSubmissionNotFound),
// everything else is wrapped in a SubmissionServiceError.
package service
