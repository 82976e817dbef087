package model

import "time"

// Account is an inbox owner known to the system. Keys and messages
// reference it by the stable Owner identifier. TTLSeconds, when set,
// overrides the configured default card-key validity window for this
// account.
type Account struct {
	Owner      string    `json:"owner" db:"owner"`
	Label      string    `json:"label" db:"label"`
	TTLSeconds *int64    `json:"ttl_seconds,omitempty" db:"ttl_seconds"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// TTL resolves the effective key validity window for this account,
// falling back to def when no override is set.
func (a *Account) TTL(def time.Duration) time.Duration {
	if a != nil && a.TTLSeconds != nil && *a.TTLSeconds > 0 {
		return time.Duration(*a.TTLSeconds) * time.Second
	}
	return def
}
