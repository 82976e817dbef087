package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/cardbox/cardbox/internal/model"
	"github.com/cardbox/cardbox/internal/store"
)

// tokenAlphabet has 32 symbols (256/32 divides evenly, so byte-modulo
// sampling is unbiased) and omits 0/O/1/I, which read ambiguously on a
// printed card.
const tokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	tokenGroups    = 4
	tokenGroupSize = 4

	// maxGenerateRetries bounds collision retries per key. With a
	// 16-symbol token over a 32-char alphabet collisions are
	// vanishingly rare; hitting the bound means the RNG is broken.
	maxGenerateRetries = 5

	// maxAuditLimit caps audit log reads.
	maxAuditLimit = 100
)

// KeyConfig holds the tunables for the card-key lifecycle.
type KeyConfig struct {
	// DefaultTTL is the validity window anchored at first use, used
	// when the account has no override.
	DefaultTTL time.Duration

	// MaxIssuePerCall bounds the batch size of a single issue request.
	MaxIssuePerCall int

	// SingleUse, when set, consumes a key on its first successful
	// validation instead of keeping it live for the whole window.
	SingleUse bool
}

// DefaultKeyConfig returns the stock lifecycle settings.
func DefaultKeyConfig() KeyConfig {
	return KeyConfig{
		DefaultTTL:      time.Hour,
		MaxIssuePerCall: 50,
	}
}

// Validation is the result of one validate call. Owner and Remaining
// are only meaningful when Outcome is success.
type Validation struct {
	Outcome     model.Outcome `json:"outcome"`
	Owner       string        `json:"owner,omitempty"`
	Remaining   time.Duration `json:"-"`
	FirstUsedAt *time.Time    `json:"first_used_at,omitempty"`
}

// KeyService owns the card-key lifecycle: batch issuance, the one-shot
// validation state machine, expiry, and the append-only audit trail.
type KeyService struct {
	store *store.Store
	cfg   KeyConfig

	// now is swappable so tests can control the clock.
	now func() time.Time
}

func NewKeyService(st *store.Store, cfg KeyConfig) *KeyService {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.MaxIssuePerCall <= 0 {
		cfg.MaxIssuePerCall = 50
	}
	return &KeyService{
		store: st,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Issue mints count fresh card keys bound to owner and returns the
// token strings in generation order. The owner must be a registered
// account. Counts outside [1, MaxIssuePerCall] fail with
// ErrInvalidCount before any row is created.
func (s *KeyService) Issue(ctx context.Context, owner string, count int) ([]string, error) {
	if count < 1 || count > s.cfg.MaxIssuePerCall {
		return nil, ErrInvalidCount
	}
	if _, err := s.store.GetAccount(ctx, owner); err != nil {
		if err == store.ErrNotFound {
			return nil, ErrUnknownAccount
		}
		return nil, err
	}

	keys := make([]string, 0, count)
	for i := 0; i < count; i++ {
		token, err := s.createOne(ctx, owner)
		if err != nil {
			return nil, err
		}
		keys = append(keys, token)
	}
	return keys, nil
}

// createOne generates a token and inserts it, regenerating on the rare
// collision with an existing key.
func (s *KeyService) createOne(ctx context.Context, owner string) (string, error) {
	for attempt := 0; attempt < maxGenerateRetries; attempt++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		err = s.store.CreateCardKey(ctx, &model.CardKey{Key: token, Owner: owner})
		if err == store.ErrDuplicate {
			continue
		}
		if err != nil {
			return "", err
		}
		return token, nil
	}
	return "", fmt.Errorf("generate card key: %d collisions in a row", maxGenerateRetries)
}

// Validate drives the per-key state machine for one presented token.
// Every attempt — including failures — appends exactly one audit entry
// before the outcome is returned; a failed audit write fails the call.
//
// Unused keys are stamped with a first-use timestamp via a conditional
// update, so two concurrent first validations agree on a single
// timestamp. Expired keys are deleted on discovery.
func (s *KeyService) Validate(ctx context.Context, key string) (*Validation, error) {
	now := s.now()

	row, err := s.store.GetCardKey(ctx, key)
	if err == store.ErrNotFound {
		return s.finish(ctx, &Validation{Outcome: model.OutcomeInvalid}, key, "", now)
	}
	if err != nil {
		return nil, err
	}

	ttl, err := s.effectiveTTL(ctx, row.Owner)
	if err != nil {
		return nil, err
	}

	if row.FirstUsedAt == nil {
		stamped, err := s.store.StampFirstUse(ctx, key, now)
		if err != nil {
			return nil, err
		}
		if stamped {
			return s.finish(ctx, &Validation{
				Outcome:     model.OutcomeSuccess,
				Owner:       row.Owner,
				Remaining:   ttl,
				FirstUsedAt: &now,
			}, key, row.Owner, now)
		}
		// Lost the stamp to a concurrent call; re-read to pick up the
		// winner's timestamp and fall through to the window check.
		row, err = s.store.GetCardKey(ctx, key)
		if err == store.ErrNotFound {
			// Winner already expired and deleted it.
			return s.finish(ctx, &Validation{Outcome: model.OutcomeInvalid}, key, "", now)
		}
		if err != nil {
			return nil, err
		}
	} else if s.cfg.SingleUse {
		// Single-use policy: a key that has already been validated is
		// consumed regardless of remaining window time.
		if err := s.store.DeleteCardKey(ctx, key); err != nil {
			return nil, err
		}
		return s.finish(ctx, &Validation{Outcome: model.OutcomeExpired, Owner: row.Owner}, key, row.Owner, now)
	}

	if row.FirstUsedAt == nil {
		// Re-read raced the winner's commit; treat the stamp as now.
		t := now
		row.FirstUsedAt = &t
	}

	if remaining := row.Remaining(now, ttl); remaining > 0 {
		return s.finish(ctx, &Validation{
			Outcome:     model.OutcomeSuccess,
			Owner:       row.Owner,
			Remaining:   remaining,
			FirstUsedAt: row.FirstUsedAt,
		}, key, row.Owner, now)
	}

	// Window elapsed: the row is dead, remove it so a later attempt
	// reports invalid rather than expired.
	if err := s.store.DeleteCardKey(ctx, key); err != nil {
		return nil, err
	}
	return s.finish(ctx, &Validation{Outcome: model.OutcomeExpired, Owner: row.Owner}, key, row.Owner, now)
}

// finish appends the audit entry for a decided validation and returns
// it. Audit failures surface as the call's error so no attempt goes
// unrecorded.
func (s *KeyService) finish(ctx context.Context, v *Validation, key, owner string, at time.Time) (*Validation, error) {
	entry := &model.UsageLogEntry{
		Key:     key,
		Owner:   owner,
		Outcome: v.Outcome,
		At:      at,
	}
	if err := s.store.AppendUsageLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit validation: %w", err)
	}
	return v, nil
}

// Sweep deletes every key whose validity window has elapsed and
// returns how many were removed. Idempotent; safe to run concurrently
// with Validate since deletion of a missing row is a no-op.
func (s *KeyService) Sweep(ctx context.Context) (int, error) {
	rows, err := s.store.ListUsedCardKeys(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	deleted := 0
	for i := range rows {
		ttl, err := s.effectiveTTL(ctx, rows[i].Owner)
		if err != nil {
			return deleted, err
		}
		if rows[i].Status(now, ttl) != model.KeyStatusExpired {
			continue
		}
		if err := s.store.DeleteCardKey(ctx, rows[i].Key); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// List returns all card keys, newest first.
func (s *KeyService) List(ctx context.Context) ([]model.CardKey, error) {
	return s.store.ListCardKeys(ctx)
}

// AuditLog returns the most recent validation attempts for one owner,
// newest first, capped at 100 entries.
func (s *KeyService) AuditLog(ctx context.Context, owner string, limit int) ([]model.UsageLogEntry, error) {
	return s.store.UsageLog(ctx, owner, clampAuditLimit(limit))
}

// AuditLogAll returns the most recent validation attempts across all
// owners, newest first, capped at 100 entries.
func (s *KeyService) AuditLogAll(ctx context.Context, limit int) ([]model.UsageLogEntry, error) {
	return s.store.UsageLogAll(ctx, clampAuditLimit(limit))
}

// DefaultTTL exposes the configured default validity window.
func (s *KeyService) DefaultTTL() time.Duration {
	return s.cfg.DefaultTTL
}

// effectiveTTL resolves the validity window for an owner, honoring a
// per-account override when one is set.
func (s *KeyService) effectiveTTL(ctx context.Context, owner string) (time.Duration, error) {
	acct, err := s.store.GetAccount(ctx, owner)
	if err == store.ErrNotFound {
		return s.cfg.DefaultTTL, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.TTL(s.cfg.DefaultTTL), nil
}

func clampAuditLimit(limit int) int {
	if limit < 1 || limit > maxAuditLimit {
		return maxAuditLimit
	}
	return limit
}

// generateToken returns a fresh 16-symbol token grouped for
// readability, e.g. "K7QM-2XWF-9ZRT-4HCN".
func generateToken() (string, error) {
	raw := make([]byte, tokenGroups*tokenGroupSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}

	var b strings.Builder
	for i, c := range raw {
		if i > 0 && i%tokenGroupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(tokenAlphabet[int(c)%len(tokenAlphabet)])
	}
	return b.String(), nil
}
