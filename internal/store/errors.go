package store

import "errors"

// ErrNotFound is returned when a requested row does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with a unique constraint,
// e.g. generating a card key token that already exists.
var ErrDuplicate = errors.New("duplicate")
