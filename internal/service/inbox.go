package service

import (
	"context"
	"strings"

	"github.com/cardbox/cardbox/internal/model"
	"github.com/cardbox/cardbox/internal/store"
)

// InboxConfig holds the message retention tunables.
type InboxConfig struct {
	// MaxPerOwner caps retained messages per account; the oldest rows
	// are evicted in the same transaction as the insert that
	// overflows the cap.
	MaxPerOwner int

	// ListPageSize caps a single list response. Retention already
	// bounds the table, this is a second guard on response size.
	ListPageSize int
}

// DefaultInboxConfig returns the stock retention settings.
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		MaxPerOwner:  100,
		ListPageSize: 200,
	}
}

// InboxService owns per-account message retention: ingestion with
// payload classification, capped storage with oldest-first eviction,
// and newest-first listing.
type InboxService struct {
	store *store.Store
	cfg   InboxConfig
}

func NewInboxService(st *store.Store, cfg InboxConfig) *InboxService {
	if cfg.MaxPerOwner <= 0 {
		cfg.MaxPerOwner = 100
	}
	if cfg.ListPageSize <= 0 {
		cfg.ListPageSize = 200
	}
	return &InboxService{store: st, cfg: cfg}
}

// Ingest stores one inbound notification for owner. The payload may be
// a structured JSON record or opaque text; classification never fails
// the write. An entirely empty payload is the one client error. The
// insert and any cap eviction commit in a single transaction.
func (s *InboxService) Ingest(ctx context.Context, owner, payload string) (*model.Message, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, ErrEmptyPayload
	}
	if _, err := s.store.GetAccount(ctx, owner); err != nil {
		if err == store.ErrNotFound {
			return nil, ErrUnknownAccount
		}
		return nil, err
	}

	parsed := ParsePayload(payload)
	msg := &model.Message{
		Owner:      owner,
		RawPayload: payload,
		Body:       parsed.Body,
		Sender:     parsed.Sender,
		SourceTime: parsed.SourceTime,
	}
	if err := s.store.InsertMessage(ctx, msg, s.cfg.MaxPerOwner); err != nil {
		return nil, err
	}
	return msg, nil
}

// List returns owner's retained messages, newest first, capped at the
// configured page size.
func (s *InboxService) List(ctx context.Context, owner string) ([]model.Message, error) {
	return s.store.ListMessages(ctx, owner, s.cfg.ListPageSize)
}
