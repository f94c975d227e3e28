package util

import "errors"

var (
	ErrMissingActor        = errors.New("actor is required for xAPI statement")
	ErrMissingVerb         = errors.New("verb is required for xAPI statement")
	ErrMissingObject       = errors.New("object is required for xAPI statement")
	ErrInvalidStatement    = errors.New("invalid statement: missing required fields")
	ErrMissingStatementID  = errors.New("statement has no id and cannot be stored")
	ErrStatementNotFound   = errors.New("statement not found")
	ErrMaxRetriesExceeded  = errors.New("maximum retry attempts exceeded")
	ErrQueueFull           = errors.New("statement queue is full")
	ErrSyncInProgress      = errors.New("sync pass already running")
	ErrNetworkUnavailable  = errors.New("network unavailable")
	ErrSessionExpired      = errors.New("session expired")
)
