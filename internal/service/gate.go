package service

import (
	"context"
	"time"

	"github.com/cardbox/cardbox/internal/model"
)

// Grant is a successful authorization: which inbox the key opens and
// for how much longer.
type Grant struct {
	Owner       string        `json:"owner"`
	Remaining   time.Duration `json:"-"`
	FirstUsedAt *time.Time    `json:"first_used_at,omitempty"`
}

// AccessGate turns a presented card key into a read grant on one
// account's inbox. It holds no state of its own; every decision runs
// the full validation state machine, so gate checks are audited and
// stamp first use exactly like an explicit validate call.
type AccessGate struct {
	keys *KeyService
}

func NewAccessGate(keys *KeyService) *AccessGate {
	return &AccessGate{keys: keys}
}

// Authorize validates key and returns the grant, or ErrKeyInvalid /
// ErrKeyExpired so the caller can report the two denials distinctly.
func (g *AccessGate) Authorize(ctx context.Context, key string) (*Grant, error) {
	v, err := g.keys.Validate(ctx, key)
	if err != nil {
		return nil, err
	}
	switch v.Outcome {
	case model.OutcomeSuccess:
		return &Grant{
			Owner:       v.Owner,
			Remaining:   v.Remaining,
			FirstUsedAt: v.FirstUsedAt,
		}, nil
	case model.OutcomeExpired:
		return nil, ErrKeyExpired
	default:
		return nil, ErrKeyInvalid
	}
}
