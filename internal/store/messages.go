package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cardbox/cardbox/internal/model"
)

// InsertMessage stores a new message and enforces the per-owner
// retention cap in the same transaction: after the insert, any rows
// beyond maxPerOwner are deleted oldest-first (by source time when the
// sender reported one, else receive time). Both steps commit or roll
// back together, and eviction only ever touches the inserting owner's
// rows. The ID and ReceivedAt fields on msg are populated on success.
func (s *Store) InsertMessage(ctx context.Context, msg *model.Message, maxPerOwner int) error {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertQ = `INSERT INTO messages (owner, raw_payload, body, sender, source_time, received_at)
		VALUES (:owner, :raw_payload, :body, :sender, :source_time, :received_at)`

	if s.driver == DriverPostgres {
		rows, err := tx.NamedQuery(insertQ+" RETURNING id", msg)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if rows.Next() {
			if err := rows.Scan(&msg.ID); err != nil {
				rows.Close()
				return fmt.Errorf("insert message id: %w", err)
			}
		}
		rows.Close()
	} else {
		result, err := tx.NamedExecContext(ctx, insertQ, msg)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("get message id: %w", err)
		}
		msg.ID = id
	}

	var count int
	err = tx.GetContext(ctx, &count,
		s.rebind("SELECT COUNT(*) FROM messages WHERE owner = ?"), msg.Owner)
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}

	if excess := count - maxPerOwner; excess > 0 {
		// The derived-table wrapper keeps MySQL happy (it rejects
		// LIMIT directly inside an IN subquery).
		const evictQ = `DELETE FROM messages WHERE id IN (
			SELECT id FROM (
				SELECT id FROM messages WHERE owner = ?
				ORDER BY COALESCE(source_time, received_at) ASC, id ASC
				LIMIT ?
			) AS doomed
		)`
		if _, err := tx.ExecContext(ctx, s.rebind(evictQ), msg.Owner, excess); err != nil {
			return fmt.Errorf("evict oldest messages: %w", err)
		}
	}

	return tx.Commit()
}

// ListMessages returns up to limit retained messages for owner, newest
// first.
func (s *Store) ListMessages(ctx context.Context, owner string, limit int) ([]model.Message, error) {
	var rows []model.Message
	err := s.db.SelectContext(ctx, &rows,
		s.rebind(`SELECT * FROM messages WHERE owner = ?
			ORDER BY COALESCE(source_time, received_at) DESC, id DESC LIMIT ?`),
		owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return rows, nil
}

// CountMessages returns the number of retained messages for owner.
func (s *Store) CountMessages(ctx context.Context, owner string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		s.rebind("SELECT COUNT(*) FROM messages WHERE owner = ?"), owner)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}
