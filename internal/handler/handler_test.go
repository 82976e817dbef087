package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cardbox/cardbox/internal/model"
	"github.com/cardbox/cardbox/internal/server/middleware"
	"github.com/cardbox/cardbox/internal/service"
	"github.com/cardbox/cardbox/internal/store"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store   *store.Store
	authSvc *service.AuthService
	keys    *service.KeyService
	inbox   *service.InboxService
	router  chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory store
// and a Chi router with routes mounted. Admin routes are mounted
// without auth middleware for direct handler testing; the card routes
// carry CardAuth since the grant context is part of their contract.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	authSvc := service.NewAuthService(st, testJWTSecret, time.Hour)
	keys := service.NewKeyService(st, service.DefaultKeyConfig())
	inbox := service.NewInboxService(st, service.InboxConfig{MaxPerOwner: 5, ListPageSize: 10})
	adminHandler := NewAdminHandler(st, authSvc, keys)
	inboxHandler := NewInboxHandler(inbox, keys)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/admin/session", adminHandler.Login)
		r.Delete("/admin/session", adminHandler.Logout)

		r.Get("/admin/keys", adminHandler.ListKeys)
		r.Post("/admin/keys", adminHandler.IssueKeys)
		r.Post("/admin/keys/sweep", adminHandler.SweepKeys)
		r.Get("/admin/audit", adminHandler.Audit)

		r.Get("/admin/accounts", adminHandler.ListAccounts)
		r.Post("/admin/accounts", adminHandler.CreateAccount)
		r.Get("/admin/accounts/{owner}", adminHandler.GetAccount)
		r.Put("/admin/accounts/{owner}", adminHandler.UpdateAccount)
		r.Delete("/admin/accounts/{owner}", adminHandler.DeleteAccount)

		r.Get("/admin/admins", adminHandler.ListAdmins)
		r.Post("/admin/admins", adminHandler.CreateAdmin)

		r.Post("/ingest", inboxHandler.Ingest)
		r.Post("/card/validate", inboxHandler.Validate)

		r.Group(func(r chi.Router) {
			r.Use(middleware.CardAuth(service.NewAccessGate(keys)))
			r.Get("/card/messages", inboxHandler.Messages)
		})
	})

	return &testEnv{
		store:   st,
		authSvc: authSvc,
		keys:    keys,
		inbox:   inbox,
		router:  r,
	}
}

// seedAdmin creates a default admin account and returns it.
func (e *testEnv) seedAdmin(t *testing.T) *model.Admin {
	t.Helper()
	admin := &model.Admin{
		Email:        "admin@example.com",
		PasswordHash: service.HashPassword(testPassword),
		Name:         "Test Admin",
		IsActive:     true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// seedAccount registers an inbox owner.
func (e *testEnv) seedAccount(t *testing.T, owner string) *model.Account {
	t.Helper()
	acct := &model.Account{Owner: owner, Label: "Test account: " + owner}
	if err := e.store.CreateAccount(context.Background(), acct); err != nil {
		t.Fatalf("seedAccount: %v", err)
	}
	return acct
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}
