package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cardbox/cardbox/internal/model"
)

// ---------------------------------------------------------------------------
// Card keys
// ---------------------------------------------------------------------------

// CreateCardKey inserts a new card key row. The ID and CreatedAt fields
// on key are populated after a successful insert. Returns ErrDuplicate
// when the token collides with an existing key so the caller can
// regenerate and retry.
func (s *Store) CreateCardKey(ctx context.Context, key *model.CardKey) error {
	key.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO card_keys (card_key, owner, created_at)
		VALUES (:card_key, :owner, :created_at)`

	id, err := s.insertID(ctx, q, key)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert card key: %w", err)
	}
	key.ID = id
	return nil
}

// GetCardKey returns the row for the given key token.
func (s *Store) GetCardKey(ctx context.Context, key string) (*model.CardKey, error) {
	var row model.CardKey
	err := s.db.GetContext(ctx, &row,
		s.rebind("SELECT * FROM card_keys WHERE card_key = ?"), key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get card key: %w", err)
	}
	return &row, nil
}

// ListCardKeys returns all card key rows, newest first.
func (s *Store) ListCardKeys(ctx context.Context) ([]model.CardKey, error) {
	var rows []model.CardKey
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM card_keys ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list card keys: %w", err)
	}
	return rows, nil
}

// ListUsedCardKeys returns all rows whose validity window has started,
// i.e. first_used_at is set. Used by the expiry sweep.
func (s *Store) ListUsedCardKeys(ctx context.Context) ([]model.CardKey, error) {
	var rows []model.CardKey
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM card_keys WHERE first_used_at IS NOT NULL ORDER BY first_used_at")
	if err != nil {
		return nil, fmt.Errorf("list used card keys: %w", err)
	}
	return rows, nil
}

// StampFirstUse sets first_used_at on a still-unused key as a single
// conditional update. It reports whether this call won the stamp: two
// concurrent validations of the same unused key serialize here, and
// exactly one sees stamped == true. The loser must re-read the row to
// pick up the winner's timestamp.
func (s *Store) StampFirstUse(ctx context.Context, key string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE card_keys SET first_used_at = ? WHERE card_key = ? AND first_used_at IS NULL"),
		at, key)
	if err != nil {
		return false, fmt.Errorf("stamp first use: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("stamp first use rows affected: %w", err)
	}
	return n == 1, nil
}

// DeleteCardKey removes a card key row. Deleting an already-deleted key
// is a no-op so expiry in validate and the background sweep can race
// safely.
func (s *Store) DeleteCardKey(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM card_keys WHERE card_key = ?"), key); err != nil {
		return fmt.Errorf("delete card key: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Usage log (append-only)
// ---------------------------------------------------------------------------

// AppendUsageLog writes one audit row for a validation attempt. Rows
// are never updated or deleted.
func (s *Store) AppendUsageLog(ctx context.Context, entry *model.UsageLogEntry) error {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	const q = `INSERT INTO usage_log (card_key, owner, outcome, at)
		VALUES (:card_key, :owner, :outcome, :at)`

	id, err := s.insertID(ctx, q, entry)
	if err != nil {
		return fmt.Errorf("append usage log: %w", err)
	}
	entry.ID = id
	return nil
}

// UsageLog returns the most recent validation attempts for one owner,
// newest first.
func (s *Store) UsageLog(ctx context.Context, owner string, limit int) ([]model.UsageLogEntry, error) {
	var rows []model.UsageLogEntry
	err := s.db.SelectContext(ctx, &rows,
		s.rebind("SELECT * FROM usage_log WHERE owner = ? ORDER BY at DESC, id DESC LIMIT ?"),
		owner, limit)
	if err != nil {
		return nil, fmt.Errorf("usage log for owner: %w", err)
	}
	return rows, nil
}

// UsageLogAll returns the most recent validation attempts across all
// owners, newest first.
func (s *Store) UsageLogAll(ctx context.Context, limit int) ([]model.UsageLogEntry, error) {
	var rows []model.UsageLogEntry
	err := s.db.SelectContext(ctx, &rows,
		s.rebind("SELECT * FROM usage_log ORDER BY at DESC, id DESC LIMIT ?"), limit)
	if err != nil {
		return nil, fmt.Errorf("usage log: %w", err)
	}
	return rows, nil
}
