package outbox

import (
	"fmt"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/model"
)

// Store is the durable backing of the queue. *store.DB implements it.
type Store interface {
	InsertPendingOp(op model.PendingOp) error
	DeletePendingOp(clientMsgID string) (bool, error)
	ListPendingOps() ([]model.PendingOp, error)
	CountPendingOps() (int, error)
}

// Queue is the pending-operation store: sends created while offline. Every
// mutation is written through to Store before returning, so a crash or an
// abrupt exit never loses a queued send.
type Queue struct {
	store Store
	bus   *bus.Bus
}

// NewQueue creates a queue over the given store.
func NewQueue(s Store, b *bus.Bus) *Queue {
	return &Queue{store: s, bus: b}
}

// Enqueue persists op. Enqueuing an already queued client message id is a no-op.
func (q *Queue) Enqueue(op model.PendingOp) error {
	if op.ClientMessageID == "" {
		return fmt.Errorf("enqueue: empty client message id")
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	if err := q.store.InsertPendingOp(op); err != nil {
		return fmt.Errorf("enqueue %s: %w", op.ClientMessageID, err)
	}
	q.bus.Emit(bus.KindQueued, op)
	return nil
}

// Dequeue removes the op with the given client message id.
func (q *Queue) Dequeue(clientMsgID string) error {
	if _, err := q.store.DeletePendingOp(clientMsgID); err != nil {
		return fmt.Errorf("dequeue %s: %w", clientMsgID, err)
	}
	return nil
}

// List returns the queued ops oldest first.
func (q *Queue) List() ([]model.PendingOp, error) {
	return q.store.ListPendingOps()
}

// Len returns the number of queued ops.
func (q *Queue) Len() (int, error) {
	return q.store.CountPendingOps()
}
