package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/dmsync/internal/model"
)

// ID is a server identifier that may arrive as a JSON number or string.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Time accepts RFC 3339 timestamps as well as naive ISO-8601 ones, which are
// taken as UTC.
type Time struct{ time.Time }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode time: %w", err)
	}
	parsed, err := ParseTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseTime parses a server timestamp.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("decode time: unrecognised timestamp %q", s)
}

func (t Time) ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// WireMessage is the JSON shape of a message on both the HTTP API and the
// live channel.
type WireMessage struct {
	ID              ID     `json:"id"`
	ClientMessageID string `json:"client_message_id"`
	SenderID        ID     `json:"sender_id"`
	RecipientID     ID     `json:"recipient_id"`
	Content         string `json:"content"`
	CreatedAt       Time   `json:"created_at"`
	UpdatedAt       Time   `json:"updated_at"`
	Read            bool   `json:"read"`
	ReadAt          Time   `json:"read_at"`
	Delivered       bool   `json:"delivered"`
	DeliveredAt     Time   `json:"delivered_at"`
	Edited          bool   `json:"edited"`
	Deleted         bool   `json:"deleted"`
}

// Model converts the wire record into a cache record.
func (w WireMessage) Model() model.Message {
	m := model.Message{
		ID:              model.MessageID(w.ID),
		ClientMessageID: w.ClientMessageID,
		SenderID:        string(w.SenderID),
		RecipientID:     string(w.RecipientID),
		Content:         w.Content,
		CreatedAt:       w.CreatedAt.Time,
		UpdatedAt:       w.UpdatedAt.Time,
		Read:            w.Read,
		ReadAt:          w.ReadAt.ptr(),
		Delivered:       w.Delivered,
		DeliveredAt:     w.DeliveredAt.ptr(),
		Edited:          w.Edited,
		Deleted:         w.Deleted,
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	return m
}

// DecodeMessage decodes a single wire message.
func DecodeMessage(data []byte) (model.Message, error) {
	var w WireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return model.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return w.Model(), nil
}

// DecodeMessages decodes a JSON array of wire messages.
func DecodeMessages(data []byte) ([]model.Message, error) {
	var ws []WireMessage
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	out := make([]model.Message, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Model())
	}
	return out, nil
}

// StatusWire is the payload of message_delivered / message_read.
type StatusWire struct {
	MessageID   ID   `json:"message_id"`
	DeliveredAt Time `json:"delivered_at"`
	ReadAt      Time `json:"read_at"`
}

// Update converts the payload for the given receipt kind.
func (s StatusWire) Update(status model.DeliveryStatus) StatusUpdate {
	at := s.DeliveredAt
	if status == model.Read {
		at = s.ReadAt
	}
	return StatusUpdate{MessageID: model.MessageID(s.MessageID), At: at.ptr()}
}

// PresenceWire is the payload of typing_status, user_status and
// conversation_status. Status is a string or a boolean.
type PresenceWire struct {
	UserID ID              `json:"user_id"`
	Status json.RawMessage `json:"status"`
}

// Presence converts the payload.
func (p PresenceWire) Presence() Presence {
	status := strings.TrimSpace(string(p.Status))
	var s string
	if err := json.Unmarshal(p.Status, &s); err == nil {
		status = s
	}
	return Presence{UserID: string(p.UserID), Status: status}
}
