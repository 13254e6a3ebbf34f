package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrForbidden           = errors.New("not authorized to access this session")
	ErrSessionBusy         = errors.New("session already has a request in progress")
	ErrRateLimited         = errors.New("too many messages, slow down")
	ErrUpstreamUnavailable = errors.New("language model is unavailable")
	ErrUpstreamTimeout     = errors.New("language model did not answer in time")
	ErrEmptyCompletion     = errors.New("language model returned an empty answer")

	// Infra-facing errors
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrQueueFull          = errors.New("worker queue full")
)
