package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cardbox/cardbox/internal/model"
	"github.com/cardbox/cardbox/internal/server/middleware"
	"github.com/cardbox/cardbox/internal/service"
)

// InboxHandler serves the two outward faces of the system: the ingest
// endpoint the phone-side agent posts to, and the card-key endpoints a
// holder uses to validate a key and read an inbox.
type InboxHandler struct {
	inbox *service.InboxService
	keys  *service.KeyService
}

func NewInboxHandler(inbox *service.InboxService, keys *service.KeyService) *InboxHandler {
	return &InboxHandler{inbox: inbox, keys: keys}
}

// ---------------------------------------------------------------------------
// Ingest
// ---------------------------------------------------------------------------

// ingestRequest is the expected payload for the Ingest endpoint. The
// payload field may be a JSON string or an embedded structured record;
// either way it is handed to the parser verbatim.
type ingestRequest struct {
	Owner   string          `json:"owner"`
	Payload json.RawMessage `json:"payload"`
}

// Ingest stores one inbound notification.
// POST /api/v1/ingest
func (h *InboxHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "Owner is required")
		return
	}

	payload := rawToText(req.Payload)
	msg, err := h.inbox.Ingest(r.Context(), req.Owner, payload)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyPayload):
			writeError(w, http.StatusBadRequest, "Payload is required")
		case errors.Is(err, service.ErrUnknownAccount):
			writeError(w, http.StatusNotFound, "Unknown account: "+req.Owner)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to store message: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, messageToMap(msg))
}

// rawToText unwraps a JSON string payload to its text, and passes any
// other JSON value (object, number, whatever) through as raw text for
// the parser to classify.
func rawToText(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// ---------------------------------------------------------------------------
// Card-key endpoints
// ---------------------------------------------------------------------------

// validateRequest is the expected payload for the Validate endpoint.
type validateRequest struct {
	Key string `json:"key"`
}

// Validate runs one attempt of the card-key state machine. The three
// outcomes map to distinct statuses so the holder's client can tell a
// worn-out key (410) from a bogus one (404).
// POST /api/v1/card/validate
func (h *InboxHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "Key is required")
		return
	}

	v, err := h.keys.Validate(r.Context(), req.Key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Validation failed: "+err.Error())
		return
	}

	switch v.Outcome {
	case model.OutcomeSuccess:
		resp := map[string]interface{}{
			"outcome":           string(v.Outcome),
			"owner":             v.Owner,
			"remaining_seconds": int64(v.Remaining.Seconds()),
		}
		if v.FirstUsedAt != nil {
			resp["first_used_at"] = v.FirstUsedAt
		}
		writeJSON(w, http.StatusOK, resp)
	case model.OutcomeExpired:
		writeError(w, http.StatusGone, "Card key expired",
			map[string]interface{}{"outcome": string(v.Outcome)})
	default:
		writeError(w, http.StatusNotFound, "Card key not found",
			map[string]interface{}{"outcome": string(v.Outcome)})
	}
}

// Messages returns the retained inbox for the account the presented
// card key opens. Requires CardAuth; the grant rides in on the request
// context. The remaining window is exposed as a response header so the
// client can show a countdown without another validate call.
// GET /api/v1/card/messages
func (h *InboxHandler) Messages(w http.ResponseWriter, r *http.Request) {
	grant := middleware.GetGrant(r.Context())
	if grant == nil {
		writeError(w, http.StatusUnauthorized, "Card key required")
		return
	}

	msgs, err := h.inbox.List(r.Context(), grant.Owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list messages: "+err.Error())
		return
	}

	resources := make([]map[string]interface{}, 0, len(msgs))
	for i := range msgs {
		resources = append(resources, messageToMap(&msgs[i]))
	}

	w.Header().Set("X-Key-Remaining-Seconds", strconv.FormatInt(int64(grant.Remaining.Seconds()), 10))
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

func messageToMap(m *model.Message) map[string]interface{} {
	out := map[string]interface{}{
		"id":          m.ID,
		"owner":       m.Owner,
		"body":        m.Body,
		"received_at": m.ReceivedAt,
	}
	if m.Sender != "" {
		out["sender"] = m.Sender
	}
	if m.SourceTime != nil {
		out["source_time"] = m.SourceTime
	}
	return out
}
