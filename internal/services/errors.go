package services

import "errors"

var (
	// ErrTokenInvalid covers unknown, expired and already consumed one-time tokens.
	ErrTokenInvalid = errors.New("account: invalid or expired token")
	// ErrAlreadyVerified is returned when re-sending verification for a verified account.
	ErrAlreadyVerified = errors.New("account: email already verified")
)
