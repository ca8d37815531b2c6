package casestate

import "errors"

// Errors returned by the engine. Callers classify them with errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("case not found")
	ErrUnauthenticated = errors.New("sign in required")
	ErrUnauthorized    = errors.New("not authorized")
	ErrConflict        = errors.New("case was modified concurrently")
)
