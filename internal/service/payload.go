package service

import (
	"encoding/json"
	"strings"
	"time"
)

// ParsedPayload is the resolved shape of an inbound notification body:
// either the structured fields extracted from a JSON record, or the
// whole payload as raw text. Exactly one of the two applies, decided
// once at the ingestion boundary.
type ParsedPayload struct {
	Body       string
	Sender     string
	SourceTime *time.Time
	Structured bool
}

// structuredPayload is the wire shape a phone-side agent sends. Only
// the body is required; sender and source time are best-effort.
type structuredPayload struct {
	Body       string          `json:"body"`
	Content    string          `json:"content"`
	Sender     string          `json:"sender"`
	From       string          `json:"from"`
	SourceTime json.RawMessage `json:"source_time"`
	Timestamp  json.RawMessage `json:"timestamp"`
}

// ParsePayload classifies an inbound payload. A JSON object with a
// usable body field yields the structured form; anything else — plain
// text, malformed JSON, JSON without a body — degrades to raw text.
// Parsing never fails: a bad payload is stored, not rejected.
func ParsePayload(raw string) ParsedPayload {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return ParsedPayload{Body: raw}
	}

	var sp structuredPayload
	if err := json.Unmarshal([]byte(trimmed), &sp); err != nil {
		return ParsedPayload{Body: raw}
	}

	body := sp.Body
	if body == "" {
		body = sp.Content
	}
	if body == "" {
		return ParsedPayload{Body: raw}
	}

	sender := sp.Sender
	if sender == "" {
		sender = sp.From
	}

	ts := sp.SourceTime
	if ts == nil {
		ts = sp.Timestamp
	}

	return ParsedPayload{
		Body:       body,
		Sender:     sender,
		SourceTime: parseSourceTime(ts),
		Structured: true,
	}
}

// parseSourceTime accepts an RFC 3339 string or unix seconds
// (integer or float). Anything unrecognizable is dropped.
func parseSourceTime(raw json.RawMessage) *time.Time {
	if raw == nil {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			t = t.UTC()
			return &t
		}
		return nil
	}

	var secs float64
	if err := json.Unmarshal(raw, &secs); err == nil && secs > 0 {
		t := time.Unix(int64(secs), 0).UTC()
		return &t
	}
	return nil
}
