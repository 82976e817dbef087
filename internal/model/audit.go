package model

import "time"

// Outcome classifies a single validation attempt in the usage log.
type Outcome string

const (
	OutcomeInvalid Outcome = "invalid"
	OutcomeExpired Outcome = "expired"
	OutcomeSuccess Outcome = "success"
)

// UsageLogEntry is one append-only audit record. Exactly one entry is
// written per validation attempt, including failures. Owner is empty
// when the presented key never existed.
type UsageLogEntry struct {
	ID      int64     `json:"id" db:"id"`
	Key     string    `json:"key" db:"card_key"`
	Owner   string    `json:"owner" db:"owner"`
	Outcome Outcome   `json:"outcome" db:"outcome"`
	At      time.Time `json:"at" db:"at"`
}
