package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/model"
)

// DefaultTimeout bounds every request a transport makes.
const DefaultTimeout = 10 * time.Second

var (
	// ErrOffline means the server cannot be reached right now. Sends that
	// fail this way are queued and retried when connectivity returns.
	ErrOffline = errors.New("transport: offline")
	// ErrTimeout means a request exceeded its deadline. The server may or
	// may not have applied it.
	ErrTimeout = errors.New("transport: request timed out")
)

// APIError is a non-2xx reply. The server saw the request and rejected it.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server error (%d)", e.Status)
}

// IsTransient reports whether err is a network-level failure worth retrying
// later, as opposed to a rejection by the server.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOffline) || errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Transport is the capability the sync controller depends on. Polling and
// live-channel implementations both satisfy it.
type Transport interface {
	// Send posts a message and returns the confirmed server record.
	Send(ctx context.Context, recipient, content, clientMessageID string) (model.Message, error)
	// FetchSince returns the conversation records newer than sinceID. An
	// empty sinceID fetches the recent history.
	FetchSince(ctx context.Context, recipient string, sinceID model.MessageID) ([]model.Message, error)
	// SetStatus reports a delivered or read receipt.
	SetStatus(ctx context.Context, messageID model.MessageID, status model.DeliveryStatus) (model.Message, error)
	// Subscribe streams inbound events (kinds in the transport. namespace).
	Subscribe(buf int) (<-chan bus.Event, func())
	Close() error
}

// StatusUpdate is the payload of message_delivered and message_read events.
type StatusUpdate struct {
	MessageID model.MessageID
	At        *time.Time
}

// Patch converts the update into a cache patch for the given receipt.
func (u StatusUpdate) Patch(status model.DeliveryStatus) model.Patch {
	return model.ReceiptPatch(status, u.At)
}

// Presence is the payload of typing, user and conversation status events.
// Status is "online"/"offline", "joined", or "true"/"false" for typing.
type Presence struct {
	UserID string
	Status string
}
