package service

import "errors"

// Sentinel errors returned by the session engine. Handlers map these to
// response codes with errors.Is.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrForbidden        = errors.New("forbidden")
	ErrExamNotAvailable = errors.New("exam is not available at this time")
	ErrSessionNotActive = errors.New("exam session is no longer active")
	ErrSessionFinalized = errors.New("exam session has already been finalized")
)
