package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetSetting returns the value stored under name, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		s.rebind("SELECT value FROM settings WHERE name = ?"), name)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores value under name, replacing any existing value.
func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	var q string
	switch s.driver {
	case DriverMySQL:
		q = `INSERT INTO settings (name, value) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE value = VALUES(value)`
	default:
		// SQLite and Postgres share the ON CONFLICT form.
		q = `INSERT INTO settings (name, value) VALUES (?, ?)
			ON CONFLICT (name) DO UPDATE SET value = excluded.value`
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(q), name, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}
