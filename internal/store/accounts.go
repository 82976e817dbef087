package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cardbox/cardbox/internal/model"
)

// CreateAccount registers a new owner. Returns ErrDuplicate when the
// owner already exists.
func (s *Store) CreateAccount(ctx context.Context, acct *model.Account) error {
	acct.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO accounts (owner, label, ttl_seconds, created_at)
		VALUES (:owner, :label, :ttl_seconds, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, acct); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount returns the account for the given owner.
func (s *Store) GetAccount(ctx context.Context, owner string) (*model.Account, error) {
	var acct model.Account
	err := s.db.GetContext(ctx, &acct,
		s.rebind("SELECT * FROM accounts WHERE owner = ?"), owner)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acct, nil
}

// ListAccounts returns all registered accounts ordered by owner.
func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var accts []model.Account
	err := s.db.SelectContext(ctx, &accts, "SELECT * FROM accounts ORDER BY owner")
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accts, nil
}

// UpdateAccount replaces an account's label and TTL override. Returns
// ErrNotFound when the owner is not registered.
func (s *Store) UpdateAccount(ctx context.Context, acct *model.Account) error {
	result, err := s.db.NamedExecContext(ctx,
		`UPDATE accounts SET label = :label, ttl_seconds = :ttl_seconds WHERE owner = :owner`,
		acct)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAccount removes an owner's account. Keys, messages, and audit
// rows are left in place; the caller decides whether to purge them.
func (s *Store) DeleteAccount(ctx context.Context, owner string) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM accounts WHERE owner = ?"), owner)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete account rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
