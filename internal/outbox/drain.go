package outbox

import (
	"context"
	"sync"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/model"
	"go.uber.org/zap"
)

// SendFunc attempts to deliver one queued op.
type SendFunc func(ctx context.Context, op model.PendingOp) error

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Attempted int
	Sent      int
	Failed    int
	Retained  int
}

// Drainer replays the queue after connectivity returns. Each op is tried
// independently; one failure never stops the rest.
type Drainer struct {
	queue  *Queue
	bus    *bus.Bus
	logger *zap.Logger

	// Retain, when set, keeps an op queued if its send failed with an error
	// it accepts. Ops are otherwise dequeued whatever the outcome.
	Retain func(err error) bool

	mu sync.Mutex
}

// NewDrainer creates a drainer for the queue.
func NewDrainer(q *Queue, b *bus.Bus, logger *zap.Logger) *Drainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drainer{queue: q, bus: b, logger: logger}
}

// Drain attempts every queued op once. A drain already running makes this
// call return immediately with an empty result.
func (d *Drainer) Drain(ctx context.Context, send SendFunc) (DrainResult, error) {
	var res DrainResult
	if !d.mu.TryLock() {
		d.logger.Debug("drain already running")
		return res, nil
	}
	defer d.mu.Unlock()

	ops, err := d.queue.List()
	if err != nil {
		return res, err
	}

	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}
		res.Attempted++
		if err := send(ctx, op); err != nil {
			res.Failed++
			d.logger.Warn("pending send failed",
				zap.Error(err),
				zap.String("client_msg_id", op.ClientMessageID),
				zap.String("recipient", op.Recipient))
			if d.Retain != nil && d.Retain(err) {
				res.Retained++
				continue
			}
		} else {
			res.Sent++
		}
		if err := d.queue.Dequeue(op.ClientMessageID); err != nil {
			d.logger.Error("failed to dequeue pending send", zap.Error(err), zap.String("client_msg_id", op.ClientMessageID))
		}
	}

	if res.Attempted > 0 {
		d.logger.Info("pending queue drained",
			zap.Int("attempted", res.Attempted),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed))
		d.bus.Emit(bus.KindDrained, res)
	}
	return res, nil
}
