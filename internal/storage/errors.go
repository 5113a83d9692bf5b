package storage

import "errors"

// Common storage errors
var (
	ErrNotFound        = errors.New("not found")
	ErrCandidateExists = errors.New("candidate already queued for this chain and address")
)
