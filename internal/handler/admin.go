package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cardbox/cardbox/internal/model"
	"github.com/cardbox/cardbox/internal/service"
	"github.com/cardbox/cardbox/internal/store"
)

// AdminHandler serves the operator-facing API: sessions, key issuance,
// accounts, admin users, and the audit trail.
type AdminHandler struct {
	store   *store.Store
	authSvc *service.AuthService
	keys    *service.KeyService
}

func NewAdminHandler(st *store.Store, authSvc *service.AuthService, keys *service.KeyService) *AdminHandler {
	return &AdminHandler{
		store:   st,
		authSvc: authSvc,
		keys:    keys,
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	Email     string `json:"email"`
}

// Login authenticates an admin and returns a JWT session token.
// POST /api/v1/admin/session
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	token, err := h.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "Authentication error: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		Email:     req.Email,
	})
}

// Logout invalidates the current session. JWTs are stateless, so this
// is a no-op on the server side; clients should discard their token.
// DELETE /api/v1/admin/session
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}

// ---------------------------------------------------------------------------
// Card keys
// ---------------------------------------------------------------------------

// issueRequest is the expected payload for the IssueKeys endpoint.
type issueRequest struct {
	Owner string `json:"owner"`
	Count int    `json:"count"`
}

// IssueKeys mints a batch of card keys for one account. The raw key
// strings appear in this response only; they are not retrievable later.
// POST /api/v1/admin/keys
func (h *AdminHandler) IssueKeys(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "Owner is required")
		return
	}

	keys, err := h.keys.Issue(r.Context(), req.Owner, req.Count)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCount):
			writeError(w, http.StatusBadRequest, "Count must be between 1 and the issue ceiling",
				map[string]interface{}{"count": req.Count})
		case errors.Is(err, service.ErrUnknownAccount):
			writeError(w, http.StatusNotFound, "Unknown account: "+req.Owner)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to issue keys: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"owner": req.Owner,
		"keys":  keys,
	})
}

// ListKeys returns all card keys with their derived lifecycle status.
// GET /api/v1/admin/keys
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list keys: "+err.Error())
		return
	}

	// Resolve per-account TTL overrides once so the derived status
	// column is accurate.
	accts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts: "+err.Error())
		return
	}
	ttls := make(map[string]time.Duration, len(accts))
	for i := range accts {
		ttls[accts[i].Owner] = accts[i].TTL(h.keys.DefaultTTL())
	}

	now := time.Now().UTC()
	resources := make([]map[string]interface{}, 0, len(keys))
	for i := range keys {
		ttl, ok := ttls[keys[i].Owner]
		if !ok {
			ttl = h.keys.DefaultTTL()
		}
		resources = append(resources, cardKeyToMap(&keys[i], now, ttl))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// SweepKeys deletes every key whose validity window has elapsed.
// POST /api/v1/admin/keys/sweep
func (h *AdminHandler) SweepKeys(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.keys.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sweep failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

// Audit returns recent validation attempts, newest first, capped at
// 100. An owner query parameter narrows the trail to one account.
// GET /api/v1/admin/audit
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	owner := queryString(r, "owner")

	var (
		entries []model.UsageLogEntry
		err     error
	)
	if owner != "" {
		entries, err = h.keys.AuditLog(r.Context(), owner, limit)
	} else {
		entries, err = h.keys.AuditLogAll(r.Context(), limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read audit log: "+err.Error())
		return
	}

	resources := make([]map[string]interface{}, 0, len(entries))
	for i := range entries {
		resources = append(resources, usageLogToMap(&entries[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// ListAccounts returns all registered inbox owners.
// GET /api/v1/admin/accounts
func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts: "+err.Error())
		return
	}

	resources := make([]map[string]interface{}, 0, len(accts))
	for i := range accts {
		resources = append(resources, accountToMap(&accts[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// CreateAccount registers a new inbox owner.
// POST /api/v1/admin/accounts
func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var acct model.Account
	if err := readJSON(r, &acct); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if acct.Owner == "" {
		writeError(w, http.StatusBadRequest, "Owner is required")
		return
	}

	if err := h.store.CreateAccount(r.Context(), &acct); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Account already exists: "+acct.Owner)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create account: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, accountToMap(&acct))
}

// GetAccount returns one registered account.
// GET /api/v1/admin/accounts/{owner}
func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	acct, err := h.store.GetAccount(r.Context(), owner)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Account not found: "+owner)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get account: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, accountToMap(acct))
}

// UpdateAccount replaces an account's label and TTL override.
// PUT /api/v1/admin/accounts/{owner}
func (h *AdminHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var acct model.Account
	if err := readJSON(r, &acct); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	acct.Owner = chi.URLParam(r, "owner")

	if err := h.store.UpdateAccount(r.Context(), &acct); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Account not found: "+acct.Owner)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update account: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, accountToMap(&acct))
}

// DeleteAccount removes a registered account.
// DELETE /api/v1/admin/accounts/{owner}
func (h *AdminHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	if err := h.store.DeleteAccount(r.Context(), owner); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Account not found: "+owner)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete account: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ---------------------------------------------------------------------------
// Admin users
// ---------------------------------------------------------------------------

// createAdminRequest is the expected payload for the CreateAdmin endpoint.
type createAdminRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// ListAdmins returns all admin users.
// GET /api/v1/admin/admins
func (h *AdminHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list admins: "+err.Error())
		return
	}

	resources := make([]map[string]interface{}, 0, len(admins))
	for i := range admins {
		resources = append(resources, adminToMap(&admins[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// CreateAdmin registers a new admin user.
// POST /api/v1/admin/admins
func (h *AdminHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	admin := &model.Admin{
		Email:        req.Email,
		PasswordHash: service.HashPassword(req.Password),
		Name:         req.Name,
		IsActive:     true,
	}
	if err := h.store.CreateAdmin(r.Context(), admin); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Admin already exists: "+req.Email)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create admin: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, adminToMap(admin))
}

// ---------------------------------------------------------------------------
// Resource converters
// ---------------------------------------------------------------------------

func cardKeyToMap(k *model.CardKey, now time.Time, ttl time.Duration) map[string]interface{} {
	m := map[string]interface{}{
		"key":        k.Key,
		"owner":      k.Owner,
		"created_at": k.CreatedAt,
		"status":     string(k.Status(now, ttl)),
	}
	if k.FirstUsedAt != nil {
		m["first_used_at"] = k.FirstUsedAt
	}
	return m
}

func usageLogToMap(e *model.UsageLogEntry) map[string]interface{} {
	return map[string]interface{}{
		"key":     e.Key,
		"owner":   e.Owner,
		"outcome": string(e.Outcome),
		"at":      e.At,
	}
}

func accountToMap(a *model.Account) map[string]interface{} {
	m := map[string]interface{}{
		"owner":      a.Owner,
		"label":      a.Label,
		"created_at": a.CreatedAt,
	}
	if a.TTLSeconds != nil {
		m["ttl_seconds"] = *a.TTLSeconds
	}
	return m
}

func adminToMap(a *model.Admin) map[string]interface{} {
	m := map[string]interface{}{
		"id":         a.ID,
		"email":      a.Email,
		"name":       a.Name,
		"is_active":  a.IsActive,
		"created_at": a.CreatedAt,
	}
	if a.LastLoginAt != nil {
		m["last_login_at"] = a.LastLoginAt
	}
	return m
}
