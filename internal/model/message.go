package model

import (
	"strings"
	"time"
)

// MessageID identifies a message. Server-assigned ids are decimal strings;
// locally synthesized placeholders carry one of the temp-, pending- or
// offline- prefixes followed by the client correlation id.
type MessageID string

const (
	tempPrefix    = "temp-"
	pendingPrefix = "pending-"
	offlinePrefix = "offline-"
)

// TempID is the id of an optimistic record shown right after compose.
func TempID(clientMsgID string) MessageID { return MessageID(tempPrefix + clientMsgID) }

// PendingID is the id of a record whose send timed out.
func PendingID(clientMsgID string) MessageID { return MessageID(pendingPrefix + clientMsgID) }

// OfflineID is the id of a record queued while offline.
func OfflineID(clientMsgID string) MessageID { return MessageID(offlinePrefix + clientMsgID) }

// IsServer reports whether the id was assigned by the server.
func (id MessageID) IsServer() bool {
	if id == "" {
		return false
	}
	s := string(id)
	return !strings.HasPrefix(s, tempPrefix) &&
		!strings.HasPrefix(s, pendingPrefix) &&
		!strings.HasPrefix(s, offlinePrefix)
}

func (id MessageID) String() string { return string(id) }

// After reports whether id is a later server id than other. Decimal ids
// compare numerically; a placeholder or empty other is always earlier.
func (id MessageID) After(other MessageID) bool {
	if !id.IsServer() {
		return false
	}
	if !other.IsServer() {
		return true
	}
	a, b := strings.TrimLeft(string(id), "0"), strings.TrimLeft(string(other), "0")
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

// Status is the derived lifecycle status of a message.
type Status string

const (
	StatusOffline   Status = "offline"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// DeliveryStatus is a receipt the recipient reports back to the server.
type DeliveryStatus string

const (
	Delivered DeliveryStatus = "delivered"
	Read      DeliveryStatus = "read"
)

// Message is a single direct message as seen by this client.
type Message struct {
	ID              MessageID
	ClientMessageID string
	ConversationID  string // counterpart username the record is cached under
	SenderID        string
	RecipientID     string
	Content         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Read            bool
	ReadAt          *time.Time
	Delivered       bool
	DeliveredAt     *time.Time
	Edited          bool
	Deleted         bool

	// Local lifecycle flags, never sent to the server.
	Offline bool
	Pending bool
}

// Status derives the lifecycle status. Exactly one status applies.
func (m Message) Status() Status {
	switch {
	case m.Offline:
		return StatusOffline
	case m.Pending || !m.ID.IsServer():
		return StatusPending
	default:
		return StatusConfirmed
	}
}

// Key is the identifier a view node is keyed by: the server id once
// confirmed, otherwise the client correlation id.
func (m Message) Key() string {
	if m.ID.IsServer() {
		return string(m.ID)
	}
	if m.ClientMessageID != "" {
		return m.ClientMessageID
	}
	return string(m.ID)
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	m.ReadAt = cloneTime(m.ReadAt)
	m.DeliveredAt = cloneTime(m.DeliveredAt)
	return m
}

// Merge folds incoming into m and returns the result. Flags are sticky and
// receipt timestamps keep the earliest value, so merging is commutative and
// idempotent for those fields. A server id, once set, is never replaced.
func (m Message) Merge(in Message) Message {
	out := m.Clone()
	wasConfirmed := m.ID.IsServer()
	confirming := !wasConfirmed && in.ID.IsServer()

	if !wasConfirmed && in.ID != "" {
		out.ID = in.ID
	}
	if out.ClientMessageID == "" {
		out.ClientMessageID = in.ClientMessageID
	}
	if out.ConversationID == "" {
		out.ConversationID = in.ConversationID
	}
	if out.SenderID == "" {
		out.SenderID = in.SenderID
	}
	if out.RecipientID == "" {
		out.RecipientID = in.RecipientID
	}

	if in.Content != "" && (confirming || in.UpdatedAt.After(out.UpdatedAt)) {
		out.Content = in.Content
	}
	if in.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = in.UpdatedAt
	}
	if !in.CreatedAt.IsZero() && (confirming || out.CreatedAt.IsZero()) {
		out.CreatedAt = in.CreatedAt
	}

	out.Read = out.Read || in.Read
	out.ReadAt = earliest(out.ReadAt, in.ReadAt)
	out.Delivered = out.Delivered || in.Delivered
	out.DeliveredAt = earliest(out.DeliveredAt, in.DeliveredAt)
	out.Edited = out.Edited || in.Edited
	out.Deleted = out.Deleted || in.Deleted

	if out.ID.IsServer() {
		out.Offline = false
		out.Pending = false
	} else {
		out.Offline = in.Offline
		out.Pending = in.Pending
	}
	return out
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	// ClientMessageID is used to locate the record when the id is unknown.
	ClientMessageID string

	Content     *string
	UpdatedAt   *time.Time
	Read        *bool
	ReadAt      *time.Time
	Delivered   *bool
	DeliveredAt *time.Time
	Edited      *bool
	Deleted     *bool
}

// ReceiptPatch builds the patch for a delivered/read receipt.
func ReceiptPatch(status DeliveryStatus, at *time.Time) Patch {
	yes := true
	switch status {
	case Read:
		return Patch{Read: &yes, ReadAt: cloneTime(at)}
	default:
		return Patch{Delivered: &yes, DeliveredAt: cloneTime(at)}
	}
}

// Apply returns m with the patch applied under the same rules as Merge.
func (m Message) Apply(p Patch) Message {
	out := m.Clone()
	if p.Content != nil && (p.UpdatedAt == nil || !p.UpdatedAt.Before(out.UpdatedAt)) {
		out.Content = *p.Content
	}
	if p.UpdatedAt != nil && p.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = *p.UpdatedAt
	}
	if p.Read != nil && *p.Read {
		out.Read = true
	}
	out.ReadAt = earliest(out.ReadAt, p.ReadAt)
	if p.Delivered != nil && *p.Delivered {
		out.Delivered = true
	}
	out.DeliveredAt = earliest(out.DeliveredAt, p.DeliveredAt)
	if p.Edited != nil && *p.Edited {
		out.Edited = true
	}
	if p.Deleted != nil && *p.Deleted {
		out.Deleted = true
	}
	return out
}

// PendingOp is a send attempt created while offline.
type PendingOp struct {
	Recipient       string
	Content         string
	ClientMessageID string
	Timestamp       time.Time
}

func earliest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return cloneTime(b)
	case b == nil:
		return a
	case b.Before(*a):
		return cloneTime(b)
	default:
		return a
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
