package apperrors

import (
	"errors"
)

var (
	// Input errors: caught before any network call
	ErrInvalidInput = errors.New("invalid input")

	// Session errors: fatal to the current session
	ErrNoSession      = errors.New("no session")
	ErrSessionExpired = errors.New("session expired")
	ErrUnauthorized   = errors.New("unauthorized")

	// Transport errors: session validity is unknown, tokens are kept
	ErrTransport = errors.New("transport error")

	ErrStorage = errors.New("storage error")

	ErrCooldown     = errors.New("action is cooling down")
	ErrInvalidState = errors.New("action not allowed in current state")
)
