package handler

import (
	"net/http"
	"testing"

	"github.com/cardbox/cardbox/internal/model"
)

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	rr := env.do(t, "POST", "/api/v1/admin/session",
		toJSON(t, map[string]string{"email": "admin@example.com", "password": testPassword}))
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Token     string `json:"session_token"`
		TokenType string `json:"token_type"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Error("expected a session token")
	}
	if resp.TokenType != "bearer" {
		t.Errorf("got token type %q, want bearer", resp.TokenType)
	}
}

func TestLoginRejections(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	rr := env.do(t, "POST", "/api/v1/admin/session",
		toJSON(t, map[string]string{"email": "admin@example.com", "password": "wrong"}))
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = env.do(t, "POST", "/api/v1/admin/session",
		toJSON(t, map[string]string{"email": "admin@example.com"}))
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "DELETE", "/api/v1/admin/session", nil)
	assertStatus(t, rr, http.StatusOK)
}

// ---------------------------------------------------------------------------
// Key issuance
// ---------------------------------------------------------------------------

func TestIssueKeys(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice")

	rr := env.do(t, "POST", "/api/v1/admin/keys",
		toJSON(t, map[string]interface{}{"owner": "alice", "count": 3}))
	assertStatus(t, rr, http.StatusCreated)

	var resp struct {
		Owner string   `json:"owner"`
		Keys  []string `json:"keys"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Owner != "alice" {
		t.Errorf("got owner %q, want alice", resp.Owner)
	}
	if len(resp.Keys) != 3 {
		t.Errorf("got %d keys, want 3", len(resp.Keys))
	}
}

func TestIssueKeysRejections(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice")

	// Count out of range.
	rr := env.do(t, "POST", "/api/v1/admin/keys",
		toJSON(t, map[string]interface{}{"owner": "alice", "count": 0}))
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "POST", "/api/v1/admin/keys",
		toJSON(t, map[string]interface{}{"owner": "alice", "count": 51}))
	assertStatus(t, rr, http.StatusBadRequest)

	// Unknown account.
	rr = env.do(t, "POST", "/api/v1/admin/keys",
		toJSON(t, map[string]interface{}{"owner": "nobody", "count": 1}))
	assertStatus(t, rr, http.StatusNotFound)

	// Missing owner.
	rr = env.do(t, "POST", "/api/v1/admin/keys",
		toJSON(t, map[string]interface{}{"count": 1}))
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestListKeys(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice")

	rr := env.do(t, "POST", "/api/v1/admin/keys",
		toJSON(t, map[string]interface{}{"owner": "alice", "count": 2}))
	assertStatus(t, rr, http.StatusCreated)

	rr = env.do(t, "GET", "/api/v1/admin/keys", nil)
	assertStatus(t, rr, http.StatusOK)

	var resp model.ListResponse
	decodeJSON(t, rr, &resp)
	if len(resp.Resource) != 2 {
		t.Fatalf("got %d keys, want 2", len(resp.Resource))
	}
	if resp.Meta == nil || resp.Meta.Count != 2 {
		t.Error("expected meta count 2")
	}
	for _, k := range resp.Resource {
		if k["status"] != "unused" {
			t.Errorf("got status %v, want unused", k["status"])
		}
	}
}

func TestSweepKeys(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/admin/keys/sweep", nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Deleted int `json:"deleted"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Deleted != 0 {
		t.Errorf("got %d deleted on empty store, want 0", resp.Deleted)
	}
}

func TestAudit(t *testing.T) {
	env := newTestEnv(t)

	// One failed validation produces one audit entry.
	rr := env.do(t, "POST", "/api/v1/card/validate",
		toJSON(t, map[string]string{"key": "AAAA-BBBB-CCCC-DDDD"}))
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, "GET", "/api/v1/admin/audit", nil)
	assertStatus(t, rr, http.StatusOK)

	var resp model.ListResponse
	decodeJSON(t, rr, &resp)
	if len(resp.Resource) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(resp.Resource))
	}
	if resp.Resource[0]["outcome"] != "invalid" {
		t.Errorf("got outcome %v, want invalid", resp.Resource[0]["outcome"])
	}

	// Owner filter: no entries match a registered but untouched owner.
	rr = env.do(t, "GET", "/api/v1/admin/audit?owner=alice", nil)
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &resp)
	if len(resp.Resource) != 0 {
		t.Errorf("got %d entries for alice, want 0", len(resp.Resource))
	}
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func TestAccountCRUD(t *testing.T) {
	env := newTestEnv(t)

	// Create
	rr := env.do(t, "POST", "/api/v1/admin/accounts",
		toJSON(t, map[string]interface{}{"owner": "alice", "label": "Alice", "ttl_seconds": 7200}))
	assertStatus(t, rr, http.StatusCreated)

	// Duplicate
	rr = env.do(t, "POST", "/api/v1/admin/accounts",
		toJSON(t, map[string]interface{}{"owner": "alice"}))
	assertStatus(t, rr, http.StatusConflict)

	// Missing owner
	rr = env.do(t, "POST", "/api/v1/admin/accounts",
		toJSON(t, map[string]interface{}{"label": "nameless"}))
	assertStatus(t, rr, http.StatusBadRequest)

	// Get
	rr = env.do(t, "GET", "/api/v1/admin/accounts/alice", nil)
	assertStatus(t, rr, http.StatusOK)
	var acct map[string]interface{}
	decodeJSON(t, rr, &acct)
	if acct["label"] != "Alice" {
		t.Errorf("got label %v, want Alice", acct["label"])
	}
	if acct["ttl_seconds"] != float64(7200) {
		t.Errorf("got ttl %v, want 7200", acct["ttl_seconds"])
	}

	// Get missing
	rr = env.do(t, "GET", "/api/v1/admin/accounts/nobody", nil)
	assertStatus(t, rr, http.StatusNotFound)

	// Update
	rr = env.do(t, "PUT", "/api/v1/admin/accounts/alice",
		toJSON(t, map[string]interface{}{"label": "Renamed"}))
	assertStatus(t, rr, http.StatusOK)
	rr = env.do(t, "GET", "/api/v1/admin/accounts/alice", nil)
	decodeJSON(t, rr, &acct)
	if acct["label"] != "Renamed" {
		t.Errorf("got label %v, want Renamed", acct["label"])
	}

	// List
	rr = env.do(t, "GET", "/api/v1/admin/accounts", nil)
	assertStatus(t, rr, http.StatusOK)
	var list model.ListResponse
	decodeJSON(t, rr, &list)
	if len(list.Resource) != 1 {
		t.Errorf("got %d accounts, want 1", len(list.Resource))
	}

	// Delete
	rr = env.do(t, "DELETE", "/api/v1/admin/accounts/alice", nil)
	assertStatus(t, rr, http.StatusOK)
	rr = env.do(t, "DELETE", "/api/v1/admin/accounts/alice", nil)
	assertStatus(t, rr, http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// Admin users
// ---------------------------------------------------------------------------

func TestCreateAdmin(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/admin/admins",
		toJSON(t, map[string]string{"email": "ops@example.com", "password": "hunter2", "name": "Ops"}))
	assertStatus(t, rr, http.StatusCreated)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["email"] != "ops@example.com" {
		t.Errorf("got email %v", resp["email"])
	}
	if _, leaked := resp["password_hash"]; leaked {
		t.Error("password hash must not appear in responses")
	}

	// Duplicate email.
	rr = env.do(t, "POST", "/api/v1/admin/admins",
		toJSON(t, map[string]string{"email": "ops@example.com", "password": "other"}))
	assertStatus(t, rr, http.StatusConflict)

	// Missing password.
	rr = env.do(t, "POST", "/api/v1/admin/admins",
		toJSON(t, map[string]string{"email": "new@example.com"}))
	assertStatus(t, rr, http.StatusBadRequest)

	// New admin can log in.
	rr = env.do(t, "POST", "/api/v1/admin/session",
		toJSON(t, map[string]string{"email": "ops@example.com", "password": "hunter2"}))
	assertStatus(t, rr, http.StatusOK)
}

func TestListAdmins(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	rr := env.do(t, "GET", "/api/v1/admin/admins", nil)
	assertStatus(t, rr, http.StatusOK)

	var resp model.ListResponse
	decodeJSON(t, rr, &resp)
	if len(resp.Resource) != 1 {
		t.Fatalf("got %d admins, want 1", len(resp.Resource))
	}
	if _, leaked := resp.Resource[0]["password_hash"]; leaked {
		t.Error("password hash must not appear in responses")
	}
}
