package view

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/cache"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/tracker"
	"go.uber.org/zap"
)

// Renderer draws nodes. Calls are serialized by the Projector.
type Renderer interface {
	Insert(index int, n Node)
	Update(n Node)
	Rekey(oldKey string, n Node)
	Remove(key string)
}

// Receipts reports delivered/read receipts to the server.
type Receipts interface {
	SetStatus(ctx context.Context, messageID model.MessageID, status model.DeliveryStatus) (model.Message, error)
}

// Params configures a Projector.
type Params struct {
	ConversationID string
	SelfID         string
	Cache          *cache.Cache
	Renderer       Renderer
	Receipts       Receipts
	Tracker        *tracker.Tracker
	Bus            *bus.Bus
	Logger         *zap.Logger
	Timeout        time.Duration
}

// Projector keeps a Renderer in step with one conversation of the cache.
type Projector struct {
	conversationID string
	selfID         string
	cache          *cache.Cache
	renderer       Renderer
	receipts       Receipts
	tracker        *tracker.Tracker
	bus            *bus.Bus
	logger         *zap.Logger
	timeout        time.Duration

	mu      sync.Mutex
	nodes   map[string]Node
	visible atomic.Bool
	wg      sync.WaitGroup
}

// New creates a projector. Receipts and Tracker may be nil, in which case
// no receipts are sent.
func New(p Params) *Projector {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	pr := &Projector{
		conversationID: p.ConversationID,
		selfID:         p.SelfID,
		cache:          p.Cache,
		renderer:       p.Renderer,
		receipts:       p.Receipts,
		tracker:        p.Tracker,
		bus:            p.Bus,
		logger:         p.Logger,
		timeout:        p.Timeout,
		nodes:          make(map[string]Node),
	}
	pr.visible.Store(true)
	return pr
}

// ConversationID returns the conversation this projector draws.
func (p *Projector) ConversationID() string { return p.conversationID }

// Render inserts or updates the node for msg. A node whose visible state
// did not change is left alone.
func (p *Projector) Render(msg model.Message) {
	p.draw(msg)
	p.acknowledge(msg)
}

func (p *Projector) draw(msg model.Message) {
	n := NodeFor(msg, p.selfID)

	p.mu.Lock()
	prev, ok := p.nodes[n.Key]
	switch {
	case !ok:
		p.nodes[n.Key] = n
		p.renderer.Insert(p.indexOf(n.Key), n)
		p.bus.Emit(bus.KindMessageAdded, n)
	case differs(prev, n):
		p.nodes[n.Key] = n
		p.renderer.Update(n)
		p.bus.Emit(bus.KindMessageUpdated, n)
	}
	p.mu.Unlock()
}

// Rekey moves the node drawn under oldKey to msg's key. If no node exists
// under oldKey, msg is rendered normally.
func (p *Projector) Rekey(oldKey string, msg model.Message) {
	n := NodeFor(msg, p.selfID)
	if oldKey == n.Key {
		p.Render(msg)
		return
	}

	p.mu.Lock()
	_, hadOld := p.nodes[oldKey]
	_, hasNew := p.nodes[n.Key]
	if !hadOld || hasNew {
		if hadOld {
			p.remove(oldKey)
		}
		p.mu.Unlock()
		p.Render(msg)
		return
	}
	delete(p.nodes, oldKey)
	p.nodes[n.Key] = n
	p.renderer.Rekey(oldKey, n)
	p.bus.Emit(bus.KindMessageRekeyed, RekeyEvent{OldKey: oldKey, Node: n})
	p.mu.Unlock()

	p.acknowledge(msg)
}

// RekeyEvent is the payload of message.rekeyed.
type RekeyEvent struct {
	OldKey string
	Node   Node
}

// Remove takes the node drawn under key off the view.
func (p *Projector) Remove(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remove(key)
}

func (p *Projector) remove(key string) bool {
	if _, ok := p.nodes[key]; !ok {
		return false
	}
	delete(p.nodes, key)
	p.renderer.Remove(key)
	p.bus.Emit(bus.KindMessageRemoved, key)
	return true
}

// Has reports whether a node is drawn under key.
func (p *Projector) Has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.nodes[key]
	return ok
}

// Len returns the number of drawn nodes.
func (p *Projector) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nodes)
}

// SetVisible records whether the view is in the foreground. Becoming
// visible sends read receipts for everything already drawn.
func (p *Projector) SetVisible(visible bool) {
	was := p.visible.Swap(visible)
	if visible && !was && p.cache != nil {
		for _, m := range p.cache.GetMessages(p.conversationID) {
			p.acknowledge(m)
		}
	}
}

// Visible reports the last value passed to SetVisible.
func (p *Projector) Visible() bool { return p.visible.Load() }

// Wait blocks until in-flight receipt calls finish.
func (p *Projector) Wait() { p.wg.Wait() }

func (p *Projector) indexOf(key string) int {
	if p.cache != nil {
		if i := p.cache.IndexOf(p.conversationID, key); i >= 0 && i <= len(p.nodes)-1 {
			return i
		}
	}
	return len(p.nodes) - 1
}

// acknowledge sends delivered, and read when visible, for inbound messages.
func (p *Projector) acknowledge(msg model.Message) {
	if p.receipts == nil || !msg.ID.IsServer() || msg.Deleted {
		return
	}
	if p.selfID == "" || msg.SenderID == p.selfID {
		return
	}
	if !msg.Delivered {
		p.sendReceipt(msg.ID, model.Delivered)
	}
	if p.visible.Load() && !msg.Read {
		p.sendReceipt(msg.ID, model.Read)
	}
}

func (p *Projector) sendReceipt(id model.MessageID, status model.DeliveryStatus) {
	release := func() {}
	if p.tracker != nil {
		var ok bool
		release, ok = p.tracker.Acquire(tracker.StatusKey(id, status))
		if !ok {
			return
		}
	}
	p.wg.Go(func() {
		defer release()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		updated, err := p.receipts.SetStatus(ctx, id, status)
		if err != nil {
			p.logger.Warn("receipt failed",
				zap.String("message_id", id.String()),
				zap.String("status", string(status)),
				zap.Error(err))
			return
		}
		at := updated.DeliveredAt
		if status == model.Read {
			at = updated.ReadAt
		}
		if at == nil {
			now := time.Now().UTC()
			at = &now
		}
		if p.cache == nil {
			return
		}
		if m, ok := p.cache.Update(id, model.ReceiptPatch(status, at)); ok && m.ConversationID == p.conversationID {
			p.draw(m)
		}
	})
}
