package service

import "errors"

var (
	// ErrInvalidCount is returned when an issue request asks for a
	// batch size outside [1, maxIssuePerCall]. Nothing is created.
	ErrInvalidCount = errors.New("invalid key count")

	// ErrUnknownAccount is returned when the target owner is not a
	// registered account.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrEmptyPayload is returned when an ingest request carries no
	// usable body at all.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrKeyInvalid is the denial for a key that does not exist.
	ErrKeyInvalid = errors.New("invalid card key")

	// ErrKeyExpired is the denial for a key whose validity window has
	// elapsed. Distinct from ErrKeyInvalid so callers can tell a
	// worn-out key from a bogus one.
	ErrKeyExpired = errors.New("card key expired")

	ErrInvalidCredentials = errors.New("invalid credentials")
)
