// Package view projects cached messages onto a Renderer, keeping exactly
// one node per logical message.
package view

import (
	"time"

	"github.com/matheus3301/dmsync/internal/model"
)

// Affordance is the status indicator drawn next to a message.
type Affordance string

const (
	AffordanceNone      Affordance = ""
	AffordanceSent      Affordance = "sent"
	AffordanceDelivered Affordance = "delivered"
	AffordanceRead      Affordance = "read"
	AffordanceOffline   Affordance = "offline"
	AffordancePending   Affordance = "pending"
)

// DeletedText replaces the content of a deleted message.
const DeletedText = "This message was deleted"

// Node is the rendered form of a message.
type Node struct {
	Key        string
	MessageID  model.MessageID
	SenderID   string
	Outgoing   bool
	Content    string
	CreatedAt  time.Time
	Edited     bool
	Deleted    bool
	Affordance Affordance
}

// NodeFor builds the node for msg as seen by selfID.
func NodeFor(msg model.Message, selfID string) Node {
	n := Node{
		Key:       msg.Key(),
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Outgoing:  selfID != "" && msg.SenderID == selfID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		Edited:    msg.Edited,
		Deleted:   msg.Deleted,
	}
	if n.Deleted {
		n.Content = DeletedText
	}
	// Local records are always ours even before the server fills sender_id.
	if !msg.ID.IsServer() {
		n.Outgoing = true
	}
	n.Affordance = affordance(msg, n.Outgoing)
	return n
}

func affordance(msg model.Message, outgoing bool) Affordance {
	switch msg.Status() {
	case model.StatusOffline:
		return AffordanceOffline
	case model.StatusPending:
		return AffordancePending
	}
	if !outgoing {
		return AffordanceNone
	}
	switch {
	case msg.Read:
		return AffordanceRead
	case msg.Delivered:
		return AffordanceDelivered
	default:
		return AffordanceSent
	}
}

// differs reports whether b would look different from a on screen.
func differs(a, b Node) bool {
	return a.MessageID != b.MessageID ||
		a.Content != b.Content ||
		a.Edited != b.Edited ||
		a.Deleted != b.Deleted ||
		a.Affordance != b.Affordance
}
