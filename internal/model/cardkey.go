package model

import "time"

// KeyStatus is the derived lifecycle state of a card key. It is never
// stored; it is computed from first_used_at and the effective TTL.
type KeyStatus string

const (
	KeyStatusUnused  KeyStatus = "unused"
	KeyStatusActive  KeyStatus = "active"
	KeyStatusExpired KeyStatus = "expired"
)

// CardKey is a short-lived access token bound to one account. The key
// string itself is the credential: it is handed to the holder out of
// band and presented verbatim on validation. The validity window is
// anchored to the first successful validation, not to creation.
type CardKey struct {
	ID          int64      `json:"id" db:"id"`
	Key         string     `json:"key" db:"card_key"`
	Owner       string     `json:"owner" db:"owner"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	FirstUsedAt *time.Time `json:"first_used_at,omitempty" db:"first_used_at"`
}

// Status derives the lifecycle state at the given instant for the given
// TTL. FirstUsedAt is immutable once set, so a key only ever moves
// forward through unused -> active -> expired.
func (k *CardKey) Status(now time.Time, ttl time.Duration) KeyStatus {
	if k.FirstUsedAt == nil {
		return KeyStatusUnused
	}
	if now.Sub(*k.FirstUsedAt) < ttl {
		return KeyStatusActive
	}
	return KeyStatusExpired
}

// Remaining returns the time left in the validity window, or zero for
// an unused or expired key.
func (k *CardKey) Remaining(now time.Time, ttl time.Duration) time.Duration {
	if k.FirstUsedAt == nil {
		return 0
	}
	left := ttl - now.Sub(*k.FirstUsedAt)
	if left < 0 {
		return 0
	}
	return left
}
