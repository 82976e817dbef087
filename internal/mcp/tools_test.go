package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cardbox/cardbox/internal/model"
	"github.com/cardbox/cardbox/internal/service"
	"github.com/cardbox/cardbox/internal/store"
)

func newTestMCP(t *testing.T) *MCPServer {
	t.Helper()

	st, err := store.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.CreateAccount(context.Background(), &model.Account{Owner: "alice", Label: "Alice"}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys := service.NewKeyService(st, service.DefaultKeyConfig())
	inbox := service.NewInboxService(st, service.DefaultInboxConfig())
	return NewMCPServer(st, keys, inbox, logger)
}

func toolRequest(args map[string]interface{}) mcp.CallToolRequest {
	var r mcp.CallToolRequest
	r.Params.Arguments = args
	return r
}

// resultJSON decodes the text content of a successful tool result.
func resultJSON(t *testing.T, res *mcp.CallToolResult, out interface{}) {
	t.Helper()
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	if err := json.Unmarshal([]byte(text.Text), out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestHandleIssueAndValidate(t *testing.T) {
	s := newTestMCP(t)
	ctx := context.Background()

	res, err := s.handleIssueKeys(ctx, toolRequest(map[string]interface{}{
		"owner": "alice",
		"count": 2,
	}))
	if err != nil {
		t.Fatalf("handleIssueKeys: %v", err)
	}
	var issued struct {
		Owner string   `json:"owner"`
		Keys  []string `json:"keys"`
	}
	resultJSON(t, res, &issued)
	if len(issued.Keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(issued.Keys))
	}

	res, err = s.handleValidateKey(ctx, toolRequest(map[string]interface{}{
		"key": issued.Keys[0],
	}))
	if err != nil {
		t.Fatalf("handleValidateKey: %v", err)
	}
	var v struct {
		Outcome          string `json:"outcome"`
		Owner            string `json:"owner"`
		RemainingSeconds int64  `json:"remaining_seconds"`
	}
	resultJSON(t, res, &v)
	if v.Outcome != "success" {
		t.Errorf("got outcome %q, want success", v.Outcome)
	}
	if v.Owner != "alice" {
		t.Errorf("got owner %q, want alice", v.Owner)
	}
	if v.RemainingSeconds != 3600 {
		t.Errorf("got remaining %d, want 3600", v.RemainingSeconds)
	}

	// An unknown key is a tool-level error-free invalid outcome.
	res, err = s.handleValidateKey(ctx, toolRequest(map[string]interface{}{
		"key": "AAAA-BBBB-CCCC-DDDD",
	}))
	if err != nil {
		t.Fatalf("handleValidateKey: %v", err)
	}
	var bad struct {
		Outcome string `json:"outcome"`
	}
	resultJSON(t, res, &bad)
	if bad.Outcome != "invalid" {
		t.Errorf("got outcome %q, want invalid", bad.Outcome)
	}
}

func TestHandleIssueKeysRejections(t *testing.T) {
	s := newTestMCP(t)
	ctx := context.Background()

	res, err := s.handleIssueKeys(ctx, toolRequest(map[string]interface{}{
		"owner": "nobody",
	}))
	if err != nil {
		t.Fatalf("handleIssueKeys: %v", err)
	}
	if !res.IsError {
		t.Error("expected tool error for unknown account")
	}

	res, err = s.handleIssueKeys(ctx, toolRequest(map[string]interface{}{
		"owner": "alice",
		"count": 51,
	}))
	if err != nil {
		t.Fatalf("handleIssueKeys: %v", err)
	}
	if !res.IsError {
		t.Error("expected tool error for out-of-range count")
	}
}

func TestHandleIngestAndListMessages(t *testing.T) {
	s := newTestMCP(t)
	ctx := context.Background()

	res, err := s.handleIngestMessage(ctx, toolRequest(map[string]interface{}{
		"owner": "alice",
		"payload": map[string]interface{}{
			"body":   "Your code is 1234",
			"sender": "+15551234567",
		},
	}))
	if err != nil {
		t.Fatalf("handleIngestMessage: %v", err)
	}
	var msg messageInfo
	resultJSON(t, res, &msg)
	if msg.Body != "Your code is 1234" {
		t.Errorf("got body %q", msg.Body)
	}
	if msg.Sender != "+15551234567" {
		t.Errorf("got sender %q", msg.Sender)
	}

	res, err = s.handleListMessages(ctx, toolRequest(map[string]interface{}{
		"owner": "alice",
	}))
	if err != nil {
		t.Fatalf("handleListMessages: %v", err)
	}
	var msgs []messageInfo
	resultJSON(t, res, &msgs)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestHandleAuditLog(t *testing.T) {
	s := newTestMCP(t)
	ctx := context.Background()

	res, err := s.handleValidateKey(ctx, toolRequest(map[string]interface{}{
		"key": "AAAA-BBBB-CCCC-DDDD",
	}))
	if err != nil {
		t.Fatalf("handleValidateKey: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}

	res, err = s.handleAuditLog(ctx, toolRequest(nil))
	if err != nil {
		t.Fatalf("handleAuditLog: %v", err)
	}
	var entries []struct {
		Key     string `json:"key"`
		Outcome string `json:"outcome"`
	}
	resultJSON(t, res, &entries)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Outcome != "invalid" {
		t.Errorf("got outcome %q, want invalid", entries[0].Outcome)
	}
}
