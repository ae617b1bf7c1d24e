package bus

import "time"

// Event is a domain event published on the bus. Kind is namespaced with a
// dot-separated prefix so subscribers can filter by component.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. The prefix before the first dot is the namespace.
const (
	// Inbound traffic from a transport.
	KindNewMessage         = "transport.new_message"
	KindMessageDelivered   = "transport.message_delivered"
	KindMessageRead        = "transport.message_read"
	KindTypingStatus       = "transport.typing_status"
	KindUserStatus         = "transport.user_status"
	KindConversationStatus = "transport.conversation_status"
	KindConnected          = "transport.connected"
	KindDisconnected       = "transport.disconnected"

	// Connectivity probe.
	KindOnline  = "net.online"
	KindOffline = "net.offline"

	// Cache and view changes.
	KindMessageAdded   = "message.added"
	KindMessageUpdated = "message.updated"
	KindMessageRekeyed = "message.rekeyed"
	KindMessageRemoved = "message.removed"
	KindSendFailed     = "message.send_failed"

	// Sync controller.
	KindStateChanged = "sync.state_changed"
	KindPolled       = "sync.polled"
	KindDrained      = "outbox.drained"
	KindQueued       = "outbox.queued"
)
