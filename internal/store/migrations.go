package store

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	var migrations []string
	switch s.driver {
	case DriverPostgres:
		migrations = postgresMigrations
	case DriverMySQL:
		migrations = mysqlMigrations
	default:
		migrations = sqliteMigrations
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// ALTER TABLE ADD COLUMN fails if the column already exists;
			// treat "duplicate column" as a no-op for idempotent migrations.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		owner TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		ttl_seconds INTEGER,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS card_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		card_key TEXT UNIQUE NOT NULL,
		owner TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		first_used_at DATETIME
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		raw_payload TEXT NOT NULL,
		body TEXT NOT NULL,
		sender TEXT NOT NULL DEFAULT '',
		source_time DATETIME,
		received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS usage_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		card_key TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS admins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		last_login_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE INDEX IF NOT EXISTS idx_card_keys_owner ON card_keys(owner)`,
	`CREATE INDEX IF NOT EXISTS idx_card_keys_first_used ON card_keys(first_used_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_owner ON messages(owner)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_log_owner ON usage_log(owner)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_log_at ON usage_log(at)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		owner TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		ttl_seconds BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS card_keys (
		id BIGSERIAL PRIMARY KEY,
		card_key TEXT UNIQUE NOT NULL,
		owner TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		first_used_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		owner TEXT NOT NULL,
		raw_payload TEXT NOT NULL,
		body TEXT NOT NULL,
		sender TEXT NOT NULL DEFAULT '',
		source_time TIMESTAMPTZ,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS usage_log (
		id BIGSERIAL PRIMARY KEY,
		card_key TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS admins (
		id BIGSERIAL PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT true,
		last_login_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE INDEX IF NOT EXISTS idx_card_keys_owner ON card_keys(owner)`,
	`CREATE INDEX IF NOT EXISTS idx_card_keys_first_used ON card_keys(first_used_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_owner ON messages(owner)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_log_owner ON usage_log(owner)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_log_at ON usage_log(at)`,
}

var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		owner VARCHAR(190) PRIMARY KEY,
		label VARCHAR(255) NOT NULL DEFAULT '',
		ttl_seconds BIGINT,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	)`,

	`CREATE TABLE IF NOT EXISTS card_keys (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		card_key VARCHAR(64) UNIQUE NOT NULL,
		owner VARCHAR(190) NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		first_used_at DATETIME(6),
		INDEX idx_card_keys_owner (owner),
		INDEX idx_card_keys_first_used (first_used_at)
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		owner VARCHAR(190) NOT NULL,
		raw_payload TEXT NOT NULL,
		body TEXT NOT NULL,
		sender VARCHAR(255) NOT NULL DEFAULT '',
		source_time DATETIME(6),
		received_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		INDEX idx_messages_owner (owner)
	)`,

	`CREATE TABLE IF NOT EXISTS usage_log (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		card_key VARCHAR(64) NOT NULL,
		owner VARCHAR(190) NOT NULL DEFAULT '',
		outcome VARCHAR(16) NOT NULL,
		at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		INDEX idx_usage_log_owner (owner),
		INDEX idx_usage_log_at (at)
	)`,

	`CREATE TABLE IF NOT EXISTS admins (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		email VARCHAR(190) UNIQUE NOT NULL,
		password_hash VARCHAR(128) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT true,
		last_login_at DATETIME(6),
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		name VARCHAR(190) PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}
