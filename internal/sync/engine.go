package sync

import (
	"context"
	stdsync "sync"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/cache"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/transport"
	"github.com/matheus3301/dmsync/internal/view"
	"go.uber.org/zap"
)

// Source streams inbound transport events.
type Source interface {
	Subscribe(buf int) (<-chan bus.Event, func())
}

// Engine applies inbound records to the cache and the view. Every path that
// brings a message in (poll results, send confirmations, pushed events)
// goes through Ingest so the same record is never drawn twice.
type Engine struct {
	conversation string
	cache        *cache.Cache
	projector    *view.Projector
	bus          *bus.Bus
	logger       *zap.Logger

	mu     stdsync.RWMutex
	peerID string

	// OnConnectivity is called when the transport reports the channel up or
	// down.
	OnConnectivity func(online bool)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates an engine for one conversation. projector may be nil.
func NewEngine(conversation string, c *cache.Cache, p *view.Projector, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		conversation: conversation,
		cache:        c,
		projector:    p,
		bus:          b,
		logger:       logger,
	}
}

// SetPeerID sets the counterpart's user id. Pushed messages are filtered
// by it once known.
func (e *Engine) SetPeerID(id string) {
	e.mu.Lock()
	e.peerID = id
	e.mu.Unlock()
}

func (e *Engine) belongs(m model.Message) bool {
	e.mu.RLock()
	peer := e.peerID
	e.mu.RUnlock()
	return peer == "" || m.SenderID == peer || m.RecipientID == peer
}

// Start subscribes to the transport's events.
func (e *Engine) Start(ctx context.Context, src Source) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := src.Subscribe(256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindNewMessage:
		msg, ok := evt.Payload.(model.Message)
		if !ok || !e.belongs(msg) {
			return
		}
		e.Ingest(msg)
	case bus.KindMessageDelivered:
		if u, ok := evt.Payload.(transport.StatusUpdate); ok {
			e.ApplyReceipt(u, model.Delivered)
		}
	case bus.KindMessageRead:
		if u, ok := evt.Payload.(transport.StatusUpdate); ok {
			e.ApplyReceipt(u, model.Read)
		}
	case bus.KindConnected, bus.KindDisconnected:
		if e.OnConnectivity != nil {
			e.OnConnectivity(evt.Kind == bus.KindConnected)
		}
	case bus.KindTypingStatus, bus.KindUserStatus, bus.KindConversationStatus:
		e.bus.Publish(evt)
	}
}

// Ingest merges msg into the conversation and updates the view.
func (e *Engine) Ingest(msg model.Message) cache.Result {
	res := e.cache.Put(e.conversation, msg)
	if res.Added {
		e.logger.Debug("message added", zap.String("key", res.Message.Key()), zap.String("match", res.Match.String()))
	}
	if e.projector != nil {
		if res.Rekeyed() {
			e.projector.Rekey(res.PrevKey, res.Message)
		} else {
			e.projector.Render(res.Message)
		}
	}
	return res
}

// ApplyReceipt records a delivered/read receipt. Unknown ids are ignored.
func (e *Engine) ApplyReceipt(u transport.StatusUpdate, status model.DeliveryStatus) bool {
	m, ok := e.cache.Update(u.MessageID, u.Patch(status))
	if !ok {
		e.logger.Debug("receipt for unknown message", zap.String("message_id", u.MessageID.String()))
		return false
	}
	if e.projector != nil && m.ConversationID == e.conversation {
		e.projector.Render(m)
	}
	return true
}
