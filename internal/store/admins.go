package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cardbox/cardbox/internal/model"
)

// CreateAdmin inserts a new admin user. Returns ErrDuplicate when the
// email is already registered.
func (s *Store) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	now := time.Now().UTC()
	admin.CreatedAt = now
	admin.UpdatedAt = now

	const q = `INSERT INTO admins (email, password_hash, name, is_active, created_at, updated_at)
		VALUES (:email, :password_hash, :name, :is_active, :created_at, :updated_at)`

	id, err := s.insertID(ctx, q, admin)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert admin: %w", err)
	}
	admin.ID = id
	return nil
}

// GetAdminByEmail returns the admin with the given email.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	var admin model.Admin
	err := s.db.GetContext(ctx, &admin,
		s.rebind("SELECT * FROM admins WHERE email = ?"), email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return &admin, nil
}

// ListAdmins returns all admin users ordered by email.
func (s *Store) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	var admins []model.Admin
	err := s.db.SelectContext(ctx, &admins, "SELECT * FROM admins ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// HasAnyAdmin reports whether at least one admin user exists. Used at
// startup to warn when the admin API is unreachable.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM admins"); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count > 0, nil
}

// UpdateAdminLastLogin stamps the admin's last successful login time.
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE admins SET last_login_at = ?, updated_at = ? WHERE id = ?"),
		now, now, id)
	if err != nil {
		return fmt.Errorf("update admin last login: %w", err)
	}
	return nil
}
