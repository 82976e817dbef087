package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cardbox/cardbox/internal/model"
	"github.com/cardbox/cardbox/internal/service"
)

const (
	defaultAuditLimit = 25
	maxAuditLimit     = 100

	defaultMessageLimit = 25
	maxMessageLimit     = 200
)

// registerTools registers all Cardbox MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Account tools -----

	srv.AddTool(
		mcp.NewTool("cardbox_list_accounts",
			mcp.WithDescription(
				"List all inbox accounts registered in Cardbox. Returns each account's "+
					"owner identifier, label, and card-key TTL override if one is set. "+
					"Use this first to discover which owners exist before issuing keys "+
					"or forwarding notifications.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListAccounts,
	)

	srv.AddTool(
		mcp.NewTool("cardbox_create_account",
			mcp.WithDescription(
				"Register a new inbox account. The owner identifier must be unique; "+
					"card keys and messages are bound to it. An optional ttl_seconds "+
					"overrides the default card-key validity window for this account.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("owner",
				mcp.Required(),
				mcp.Description("Unique owner identifier for the new account"),
			),
			mcp.WithString("label",
				mcp.Description("Human-readable label for the account"),
			),
			mcp.WithNumber("ttl_seconds",
				mcp.Description("Card-key validity window override in seconds. Omit to use the server default."),
			),
		),
		s.handleCreateAccount,
	)

	// ----- Card-key tools -----

	srv.AddTool(
		mcp.NewTool("cardbox_issue_keys",
			mcp.WithDescription(
				"Mint fresh card keys for an account. Each key is a 16-symbol token "+
					"formatted as four dash-separated groups (e.g. ABCD-EFGH-JKLM-NPQR). "+
					"Keys are unused until first validated; the validity window starts "+
					"at first use, not at issuance.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("owner",
				mcp.Required(),
				mcp.Description("Owner identifier of a registered account"),
			),
			mcp.WithNumber("count",
				mcp.Description("Number of keys to mint (default 1, max 50)"),
			),
		),
		s.handleIssueKeys,
	)

	srv.AddTool(
		mcp.NewTool("cardbox_list_keys",
			mcp.WithDescription(
				"List all outstanding card keys with their owner and derived lifecycle "+
					"status (unused, active, or expired). Expired keys linger until the "+
					"next validation attempt or sweep removes them.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("cardbox_validate_key",
			mcp.WithDescription(
				"Validate a card key the way a holder would. A successful validation "+
					"anchors the key's validity window on first use, so this is NOT a "+
					"passive check. The outcome is one of success, expired, or invalid, "+
					"and every attempt is recorded in the audit trail.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("The card-key token to validate (e.g. ABCD-EFGH-JKLM-NPQR)"),
			),
		),
		s.handleValidateKey,
	)

	srv.AddTool(
		mcp.NewTool("cardbox_sweep_keys",
			mcp.WithDescription(
				"Delete all card keys whose validity window has elapsed. Expiry is "+
					"otherwise enforced lazily on validation, so sweeping is optional "+
					"housekeeping. Returns the number of keys removed.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
		),
		s.handleSweepKeys,
	)

	// ----- Inbox tools -----

	srv.AddTool(
		mcp.NewTool("cardbox_ingest_message",
			mcp.WithDescription(
				"Forward a notification into an account's inbox. The payload may be "+
					"plain text or a structured record with body, sender, and "+
					"source_time fields; malformed records are kept verbatim rather "+
					"than rejected. Each inbox retains only the newest messages.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("owner",
				mcp.Required(),
				mcp.Description("Owner identifier of a registered account"),
			),
			mcp.WithString("payload",
				mcp.Required(),
				mcp.Description("Notification payload: plain text or a JSON record "+
					"(e.g. {\"body\": \"Your code is 1234\", \"sender\": \"+1555\"})"),
			),
		),
		s.handleIngestMessage,
	)

	srv.AddTool(
		mcp.NewTool("cardbox_list_messages",
			mcp.WithDescription(
				"Read an account's retained messages, newest first. This is the "+
					"operator-side view and does not require a card key.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("owner",
				mcp.Required(),
				mcp.Description("Owner identifier of the inbox to read"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of messages to return (default 25, max 200)"),
			),
		),
		s.handleListMessages,
	)

	// ----- Audit tool -----

	srv.AddTool(
		mcp.NewTool("cardbox_audit_log",
			mcp.WithDescription(
				"Read the append-only validation audit trail, newest first. Each entry "+
					"records the presented key, its owner (empty for keys that never "+
					"existed), the outcome, and the timestamp.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("owner",
				mcp.Description("Restrict entries to one owner. Omit for all owners."),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of entries to return (default 25, max 100)"),
			),
		),
		s.handleAuditLog,
	)
}

// =========================================================================
// Tool handlers
// =========================================================================

// handleListAccounts returns all registered inbox accounts.
func (s *MCPServer) handleListAccounts(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return toolError("Failed to list accounts: %v", err)
	}

	type accountInfo struct {
		Owner      string `json:"owner"`
		Label      string `json:"label,omitempty"`
		TTLSeconds *int64 `json:"ttl_seconds,omitempty"`
		CreatedAt  string `json:"created_at"`
	}

	items := make([]accountInfo, len(accounts))
	for i, a := range accounts {
		items[i] = accountInfo{
			Owner:      a.Owner,
			Label:      a.Label,
			TTLSeconds: a.TTLSeconds,
			CreatedAt:  a.CreatedAt.UTC().Format(time.RFC3339),
		}
	}

	return successJSON(items)
}

// handleCreateAccount registers a new inbox account.
func (s *MCPServer) handleCreateAccount(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	owner, err := requireString(request, "owner")
	if err != nil {
		return toolError("%v", err)
	}

	acct := &model.Account{
		Owner: owner,
		Label: optionalString(request, "label"),
	}
	if ttl := optionalInt(request, "ttl_seconds", 0); ttl > 0 {
		ttl64 := int64(ttl)
		acct.TTLSeconds = &ttl64
	}

	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return toolError("Failed to create account %q: %v", owner, err)
	}

	return successJSON(map[string]interface{}{
		"owner":       acct.Owner,
		"label":       acct.Label,
		"ttl_seconds": acct.TTLSeconds,
	})
}

// handleIssueKeys mints a batch of card keys for an account.
func (s *MCPServer) handleIssueKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	owner, err := requireString(request, "owner")
	if err != nil {
		return toolError("%v", err)
	}
	count := optionalInt(request, "count", 1)

	keys, err := s.keys.Issue(ctx, owner, count)
	switch err {
	case nil:
	case service.ErrInvalidCount:
		return toolError("Count %d is out of range: must be between 1 and 50.", count)
	case service.ErrUnknownAccount:
		return toolError("Account %q is not registered. Use cardbox_list_accounts to see available owners.", owner)
	default:
		return toolError("Failed to issue keys: %v", err)
	}

	return successJSON(map[string]interface{}{
		"owner": owner,
		"keys":  keys,
	})
}

// handleListKeys returns all outstanding keys with derived status.
func (s *MCPServer) handleListKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keys, err := s.keys.List(ctx)
	if err != nil {
		return toolError("Failed to list keys: %v", err)
	}

	// Resolve per-account TTL overrides once so derived statuses are
	// accurate for accounts that deviate from the default window.
	ttls := make(map[string]time.Duration)
	if accounts, err := s.store.ListAccounts(ctx); err == nil {
		for i := range accounts {
			ttls[accounts[i].Owner] = accounts[i].TTL(s.keys.DefaultTTL())
		}
	}

	type keyInfo struct {
		Key         string `json:"key"`
		Owner       string `json:"owner"`
		Status      string `json:"status"`
		CreatedAt   string `json:"created_at"`
		FirstUsedAt string `json:"first_used_at,omitempty"`
	}

	now := time.Now().UTC()
	items := make([]keyInfo, len(keys))
	for i, k := range keys {
		ttl, ok := ttls[k.Owner]
		if !ok {
			ttl = s.keys.DefaultTTL()
		}
		info := keyInfo{
			Key:       k.Key,
			Owner:     k.Owner,
			Status:    string(k.Status(now, ttl)),
			CreatedAt: k.CreatedAt.UTC().Format(time.RFC3339),
		}
		if k.FirstUsedAt != nil {
			info.FirstUsedAt = k.FirstUsedAt.UTC().Format(time.RFC3339)
		}
		items[i] = info
	}

	return successJSON(items)
}

// handleValidateKey runs the full one-shot validation state machine.
func (s *MCPServer) handleValidateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	key, err := requireString(request, "key")
	if err != nil {
		return toolError("%v", err)
	}

	v, err := s.keys.Validate(ctx, key)
	if err != nil {
		return toolError("Validation failed: %v", err)
	}

	resp := map[string]interface{}{
		"outcome": v.Outcome,
	}
	if v.Outcome == model.OutcomeSuccess {
		resp["owner"] = v.Owner
		resp["remaining_seconds"] = int64(v.Remaining.Seconds())
		if v.FirstUsedAt != nil {
			resp["first_used_at"] = v.FirstUsedAt.UTC().Format(time.RFC3339)
		}
	}
	return successJSON(resp)
}

// handleSweepKeys removes all keys whose window has elapsed.
func (s *MCPServer) handleSweepKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	deleted, err := s.keys.Sweep(ctx)
	if err != nil {
		return toolError("Sweep failed: %v", err)
	}
	return successJSON(map[string]interface{}{"deleted": deleted})
}

// handleIngestMessage forwards a notification into an inbox.
func (s *MCPServer) handleIngestMessage(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	owner, err := requireString(request, "owner")
	if err != nil {
		return toolError("%v", err)
	}
	payload, err := payloadArg(request, "payload")
	if err != nil {
		return toolError("%v", err)
	}

	msg, err := s.inbox.Ingest(ctx, owner, payload)
	switch err {
	case nil:
	case service.ErrEmptyPayload:
		return toolError("Payload is empty.")
	case service.ErrUnknownAccount:
		return toolError("Account %q is not registered. Use cardbox_list_accounts to see available owners.", owner)
	default:
		return toolError("Failed to ingest message: %v", err)
	}

	return successJSON(messageInfoOf(msg))
}

// handleListMessages reads an inbox newest-first.
func (s *MCPServer) handleListMessages(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	owner, err := requireString(request, "owner")
	if err != nil {
		return toolError("%v", err)
	}
	limit := clamp(optionalInt(request, "limit", defaultMessageLimit), 1, maxMessageLimit)

	msgs, err := s.store.ListMessages(ctx, owner, limit)
	if err != nil {
		return toolError("Failed to list messages for %q: %v", owner, err)
	}

	items := make([]messageInfo, len(msgs))
	for i := range msgs {
		items[i] = messageInfoOf(&msgs[i])
	}
	return successJSON(items)
}

// handleAuditLog reads the validation trail.
func (s *MCPServer) handleAuditLog(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	limit := clamp(optionalInt(request, "limit", defaultAuditLimit), 1, maxAuditLimit)

	var entries []model.UsageLogEntry
	var err error
	if owner := optionalString(request, "owner"); owner != "" {
		entries, err = s.keys.AuditLog(ctx, owner, limit)
	} else {
		entries, err = s.keys.AuditLogAll(ctx, limit)
	}
	if err != nil {
		return toolError("Failed to read audit log: %v", err)
	}

	type auditInfo struct {
		Key     string `json:"key"`
		Owner   string `json:"owner,omitempty"`
		Outcome string `json:"outcome"`
		At      string `json:"at"`
	}

	items := make([]auditInfo, len(entries))
	for i, e := range entries {
		items[i] = auditInfo{
			Key:     e.Key,
			Owner:   e.Owner,
			Outcome: string(e.Outcome),
			At:      e.At.UTC().Format(time.RFC3339),
		}
	}
	return successJSON(items)
}

type messageInfo struct {
	ID         int64  `json:"id"`
	Owner      string `json:"owner"`
	Body       string `json:"body"`
	Sender     string `json:"sender,omitempty"`
	SourceTime string `json:"source_time,omitempty"`
	ReceivedAt string `json:"received_at"`
}

func messageInfoOf(m *model.Message) messageInfo {
	info := messageInfo{
		ID:         m.ID,
		Owner:      m.Owner,
		Body:       m.Body,
		Sender:     m.Sender,
		ReceivedAt: m.ReceivedAt.UTC().Format(time.RFC3339),
	}
	if m.SourceTime != nil {
		info.SourceTime = m.SourceTime.UTC().Format(time.RFC3339)
	}
	return info
}
