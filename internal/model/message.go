package model

import "time"

// Message is one retained notification for an account. RawPayload keeps
// the original inbound body untouched; Body is the extracted
// human-readable text. Sender and SourceTime are only present when the
// payload arrived as a structured record.
type Message struct {
	ID         int64      `json:"id" db:"id"`
	Owner      string     `json:"owner" db:"owner"`
	RawPayload string     `json:"-" db:"raw_payload"`
	Body       string     `json:"body" db:"body"`
	Sender     string     `json:"sender,omitempty" db:"sender"`
	SourceTime *time.Time `json:"source_time,omitempty" db:"source_time"`
	ReceivedAt time.Time  `json:"received_at" db:"received_at"`
}

// EffectiveTime is the instant used for retention ordering: the
// sender-reported time when present, else the server receive time.
func (m *Message) EffectiveTime() time.Time {
	if m.SourceTime != nil {
		return *m.SourceTime
	}
	return m.ReceivedAt
}
