package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/cache"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/outbox"
	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/tracker"
	"github.com/matheus3301/dmsync/internal/transport"
	"github.com/matheus3301/dmsync/internal/view"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateSubmission is returned when the same content is composed
	// twice within Config.DuplicateWindow. Nothing is recorded.
	ErrDuplicateSubmission = errors.New("sync: duplicate submission suppressed")
	// ErrEmptyMessage is returned for blank content.
	ErrEmptyMessage = errors.New("sync: message is empty")
)

// Config holds the controller's timing.
type Config struct {
	Recipient         string
	SelfID            string
	PollInterval      time.Duration
	MinPollGap        time.Duration
	PostSendPollDelay time.Duration
	DuplicateWindow   time.Duration
	InFlightWait      time.Duration
	RecentSendWindow  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MinPollGap <= 0 {
		c.MinPollGap = 8 * time.Second
	}
	if c.PostSendPollDelay <= 0 {
		c.PostSendPollDelay = 1500 * time.Millisecond
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = 2 * time.Second
	}
	if c.InFlightWait <= 0 {
		c.InFlightWait = 2 * time.Second
	}
	if c.RecentSendWindow <= 0 {
		c.RecentSendWindow = 5 * time.Second
	}
	return c
}

// Typer is implemented by transports that can relay typing notifications.
type Typer interface {
	Typing(ctx context.Context, recipient string, typing bool) error
}

// Params holds the controller's collaborators.
type Params struct {
	Config      Config
	Transport   transport.Transport
	Cache       *cache.Cache
	Tracker     *tracker.Tracker
	Queue       *outbox.Queue
	Projector   *view.Projector
	Machine     *status.Machine
	Checkpoints *Checkpoints
	Bus         *bus.Bus
	Logger      *zap.Logger
	Now         func() time.Time
}

// State is a snapshot of the controller.
type State struct {
	State         status.State
	Recipient     string
	LastPollTime  time.Time
	IsPolling     bool
	LastMessageID model.MessageID
	MessageCount  int
	Visible       bool
	Pending       int
}

// PollResult is the payload of sync.polled.
type PollResult struct {
	Recipient     string
	Count         int
	LastMessageID model.MessageID
}

// Controller drives synchronization of one conversation: periodic polls,
// optimistic sends, the offline queue and connectivity changes.
type Controller struct {
	cfg         Config
	transport   transport.Transport
	cache       *cache.Cache
	tracker     *tracker.Tracker
	queue       *outbox.Queue
	drainer     *outbox.Drainer
	projector   *view.Projector
	machine     *status.Machine
	checkpoints *Checkpoints
	engine      *Engine
	bus         *bus.Bus
	logger      *zap.Logger
	now         func() time.Time

	polling atomic.Bool
	visible atomic.Bool

	mu            stdsync.Mutex
	lastPoll      time.Time
	lastMessageID model.MessageID
	lastContent   string
	lastSubmit    time.Time
	pollTimer     *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// NewController creates a controller. Start begins background work.
func NewController(p Params) *Controller {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Machine == nil {
		p.Machine = status.NewMachine(p.Bus, status.OnlineIdle)
	}
	if p.Tracker == nil {
		p.Tracker = tracker.New(context.Background())
	}
	cfg := p.Config.withDefaults()
	logger := p.Logger.With(zap.String("recipient", cfg.Recipient))

	c := &Controller{
		cfg:         cfg,
		transport:   p.Transport,
		cache:       p.Cache,
		tracker:     p.Tracker,
		queue:       p.Queue,
		projector:   p.Projector,
		machine:     p.Machine,
		checkpoints: p.Checkpoints,
		bus:         p.Bus,
		logger:      logger,
		now:         p.Now,
		ctx:         context.Background(),
	}
	c.engine = NewEngine(cfg.Recipient, p.Cache, p.Projector, p.Bus, logger)
	c.engine.OnConnectivity = c.SetOnline
	if p.Queue != nil {
		c.drainer = outbox.NewDrainer(p.Queue, p.Bus, logger)
		c.drainer.Retain = func(err error) bool { return errors.Is(err, transport.ErrOffline) }
	}
	c.visible.Store(true)
	c.lastMessageID = p.Checkpoints.LastMessageID(cfg.Recipient)
	return c
}

// Engine returns the inbound path.
func (c *Controller) Engine() *Engine { return c.engine }

// Start subscribes to transport and connectivity events, starts the poll
// ticker and, when online, drains the queue and polls once.
func (c *Controller) Start(ctx context.Context) error {
	if c.transport == nil {
		return errors.New("sync: controller has no transport")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.ctx, c.cancel = ctx, cancel
	c.mu.Unlock()

	c.engine.Start(ctx, c.transport)

	netCh, unsubNet := c.bus.Subscribe("net.", 16)
	c.wg.Go(func() {
		defer unsubNet()
		for {
			select {
			case evt := <-netCh:
				c.SetOnline(evt.Kind == bus.KindOnline)
			case <-ctx.Done():
				return
			}
		}
	})

	c.wg.Go(func() {
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Tick()
			case <-ctx.Done():
				return
			}
		}
	})

	c.logger.Info("sync controller started",
		zap.String("state", string(c.machine.Current())),
		zap.String("last_message_id", c.lastMessageID.String()))

	if c.machine.Online() {
		c.wg.Go(func() {
			c.DrainPending(ctx)
			c.Poll(ctx)
		})
	}
	return nil
}

// Stop halts background work and waits for it to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	if c.pollTimer != nil {
		c.pollTimer.Stop()
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.engine.Stop()
	c.wg.Wait()
}

// SetOnline records a connectivity change. Coming back online drains the
// pending queue and polls once.
func (c *Controller) SetOnline(online bool) {
	if online {
		if !c.machine.TransitionFrom(status.OnlineIdle, status.Offline) {
			return
		}
		c.logger.Info("back online")
		ctx := c.context()
		c.wg.Go(func() {
			c.DrainPending(ctx)
			c.Poll(ctx)
		})
		return
	}
	if c.machine.TransitionFrom(status.Offline, status.OnlineIdle, status.OnlinePolling, status.Sending) {
		c.logger.Info("went offline")
	}
}

// SetVisible records whether the conversation is in the foreground.
// Becoming visible clears stale in-flight entries and polls.
func (c *Controller) SetVisible(visible bool) {
	was := c.visible.Swap(visible)
	if c.projector != nil {
		c.projector.SetVisible(visible)
	}
	if visible && !was {
		c.tracker.ClearAll()
		ctx := c.context()
		c.wg.Go(func() { c.Poll(ctx) })
	}
}

// Tick polls if the view is visible, no poll is running and the last one
// is older than MinPollGap.
func (c *Controller) Tick() {
	if !c.visible.Load() || c.polling.Load() {
		return
	}
	c.mu.Lock()
	due := c.now().Sub(c.lastPoll) >= c.cfg.MinPollGap
	c.mu.Unlock()
	if due {
		c.Poll(c.context())
	}
}

// Poll fetches records newer than the last seen id and merges them. It
// returns how many records the server sent. Failures are logged.
func (c *Controller) Poll(ctx context.Context) int {
	if !c.machine.Online() {
		return 0
	}
	if !c.polling.CompareAndSwap(false, true) {
		return 0
	}
	defer c.polling.Store(false)

	c.resolvePending()

	c.mu.Lock()
	c.lastPoll = c.now()
	since := c.lastMessageID
	c.mu.Unlock()

	release, ok := c.tracker.Acquire(tracker.PollKey(c.cfg.Recipient, since))
	if !ok {
		return 0
	}
	defer release()

	c.machine.TransitionFrom(status.OnlinePolling, status.OnlineIdle)
	defer c.machine.TransitionFrom(status.OnlineIdle, status.OnlinePolling)

	msgs, err := c.transport.FetchSince(ctx, c.cfg.Recipient, since)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			c.logger.Info("poll aborted", zap.Error(err))
		} else {
			c.logger.Warn("poll failed", zap.Error(err))
		}
		return 0
	}
	if len(msgs) == 0 {
		return 0
	}

	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	for _, m := range msgs {
		c.engine.Ingest(m)
	}

	// since_id is a server id, so the checkpoint is the highest id seen,
	// not the newest created_at.
	newest := since
	for _, m := range msgs {
		if m.ID.After(newest) {
			newest = m.ID
		}
	}
	if newest != since {
		c.mu.Lock()
		c.lastMessageID = newest
		c.mu.Unlock()
		c.checkpoints.SetLastMessageID(c.cfg.Recipient, newest)
	}
	c.bus.Emit(bus.KindPolled, PollResult{Recipient: c.cfg.Recipient, Count: len(msgs), LastMessageID: newest})
	c.logger.Debug("poll merged", zap.Int("count", len(msgs)), zap.String("last_message_id", newest.String()))
	return len(msgs)
}

// resolvePending re-keys view nodes still drawn under a client id whose
// record has since been confirmed.
func (c *Controller) resolvePending() {
	if c.projector == nil {
		return
	}
	for _, m := range c.cache.GetMessages(c.cfg.Recipient) {
		if m.ClientMessageID == "" || !m.ID.IsServer() {
			continue
		}
		if c.projector.Has(m.ClientMessageID) {
			c.projector.Rekey(m.ClientMessageID, m)
		}
	}
}

// Compose sends content to the recipient. The message is shown at once as
// a pending record; the result is the record after the send settled.
// Offline and timed-out sends are not errors: the record stays visible as
// offline or pending. A server rejection is returned.
func (c *Controller) Compose(ctx context.Context, content string) (model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Message{}, ErrEmptyMessage
	}

	now := c.now()
	c.mu.Lock()
	if content == c.lastContent && now.Sub(c.lastSubmit) < c.cfg.DuplicateWindow {
		c.mu.Unlock()
		c.logger.Debug("duplicate submission suppressed")
		return model.Message{}, ErrDuplicateSubmission
	}
	c.lastContent, c.lastSubmit = content, now
	c.mu.Unlock()

	cid := uuid.NewString()
	local := model.Message{
		ID:              model.TempID(cid),
		ClientMessageID: cid,
		SenderID:        c.cfg.SelfID,
		Content:         content,
		CreatedAt:       now,
		UpdatedAt:       now,
		Pending:         true,
	}
	c.engine.Ingest(local)

	op := model.PendingOp{Recipient: c.cfg.Recipient, Content: content, ClientMessageID: cid, Timestamp: now}
	sent, err := c.send(ctx, op)
	switch {
	case err == nil:
		res := c.engine.Ingest(sent)
		c.schedulePoll()
		return res.Message, nil

	case errors.Is(err, transport.ErrOffline):
		qerr := errors.New("no pending queue configured")
		if c.queue != nil {
			qerr = c.queue.Enqueue(op)
		}
		if qerr != nil {
			c.logger.Error("queue offline message", zap.String("client_message_id", cid), zap.Error(qerr))
			return c.markPending(local), fmt.Errorf("queue offline message: %w", qerr)
		}
		local.ID, local.Pending, local.Offline = model.OfflineID(cid), false, true
		res := c.engine.Ingest(local)
		c.logger.Info("message queued while offline", zap.String("client_message_id", cid))
		return res.Message, nil

	case errors.Is(err, transport.ErrTimeout):
		c.logger.Warn("send timed out, keeping pending record", zap.String("client_message_id", cid))
		c.schedulePoll()
		return c.markPending(local), nil

	default:
		c.logger.Error("send failed", zap.String("client_message_id", cid), zap.Error(err))
		c.bus.Emit(bus.KindSendFailed, SendFailure{ClientMessageID: cid, Err: err})
		return c.markPending(local), err
	}
}

// SendFailure is the payload of message.send_failed.
type SendFailure struct {
	ClientMessageID string
	Err             error
}

func (c *Controller) markPending(local model.Message) model.Message {
	local.ID, local.Pending, local.Offline = model.PendingID(local.ClientMessageID), true, false
	return c.engine.Ingest(local).Message
}

// send is the send path shared by Compose and queue replay.
func (c *Controller) send(ctx context.Context, op model.PendingOp) (model.Message, error) {
	if m, ok := c.confirmed(op.ClientMessageID); ok {
		return m, nil
	}
	if !c.machine.Online() {
		return model.Message{}, transport.ErrOffline
	}

	key := tracker.SendKey(op.Recipient, op.ClientMessageID)
	if c.tracker.IsInProgress(key) {
		c.logger.Debug("send already in flight, waiting", zap.String("client_message_id", op.ClientMessageID))
		select {
		case <-time.After(c.cfg.InFlightWait):
		case <-ctx.Done():
			return model.Message{}, ctx.Err()
		}
		if m, ok := c.confirmed(op.ClientMessageID); ok {
			return m, nil
		}
		c.tracker.Clear(key)
	}
	c.tracker.Track(key)
	defer c.tracker.Clear(key)

	c.machine.TransitionFrom(status.Sending, status.OnlineIdle, status.OnlinePolling)
	defer c.machine.TransitionFrom(status.OnlineIdle, status.Sending)

	return c.transport.Send(ctx, op.Recipient, op.Content, op.ClientMessageID)
}

func (c *Controller) confirmed(cid string) (model.Message, bool) {
	m, ok := c.cache.FindByClientID(c.cfg.Recipient, cid)
	if ok && m.ID.IsServer() && !m.Offline {
		return m, true
	}
	return model.Message{}, false
}

// SendPending replays a queued operation. A confirmed own message with the
// same content sent moments ago counts as delivered.
func (c *Controller) SendPending(ctx context.Context, op model.PendingOp) error {
	if dup, ok := c.recentDuplicate(op.Content); ok {
		c.logger.Info("queued message already sent",
			zap.String("client_message_id", op.ClientMessageID),
			zap.String("message_id", dup.ID.String()))
		c.discardPlaceholder(op.ClientMessageID)
		return nil
	}
	m, err := c.send(ctx, op)
	if err != nil {
		if !errors.Is(err, transport.ErrOffline) {
			if _, ok := c.cache.FindByClientID(c.cfg.Recipient, op.ClientMessageID); ok {
				c.markPending(model.Message{ClientMessageID: op.ClientMessageID})
			}
		}
		return err
	}
	c.engine.Ingest(m)
	return nil
}

func (c *Controller) recentDuplicate(content string) (model.Message, bool) {
	now := c.now()
	for _, m := range c.cache.GetMessages(c.cfg.Recipient) {
		if m.Content == content && m.SenderID == c.cfg.SelfID && m.Status() == model.StatusConfirmed &&
			now.Sub(m.CreatedAt) < c.cfg.RecentSendWindow {
			return m, true
		}
	}
	return model.Message{}, false
}

// discardPlaceholder drops the local record for a queued op that turned out
// to be a copy of a message already confirmed under another client id.
func (c *Controller) discardPlaceholder(cid string) {
	m, ok := c.cache.FindByClientID(c.cfg.Recipient, cid)
	if !ok || m.ID.IsServer() {
		return
	}
	c.cache.Remove(c.cfg.Recipient, m.Key())
	if c.projector != nil {
		c.projector.Remove(m.Key())
	}
}

// DrainPending replays the offline queue.
func (c *Controller) DrainPending(ctx context.Context) outbox.DrainResult {
	if c.drainer == nil || !c.machine.Online() {
		return outbox.DrainResult{}
	}
	res, err := c.drainer.Drain(ctx, c.SendPending)
	if err != nil {
		c.logger.Error("drain pending queue", zap.Error(err))
	}
	return res
}

// Typing relays a typing notification when the transport supports it.
func (c *Controller) Typing(ctx context.Context, typing bool) error {
	t, ok := c.transport.(Typer)
	if !ok || !c.machine.Online() {
		return nil
	}
	return t.Typing(ctx, c.cfg.Recipient, typing)
}

// State returns a snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	s := State{
		State:         c.machine.Current(),
		Recipient:     c.cfg.Recipient,
		LastPollTime:  c.lastPoll,
		IsPolling:     c.polling.Load(),
		LastMessageID: c.lastMessageID,
		Visible:       c.visible.Load(),
	}
	c.mu.Unlock()
	s.MessageCount = c.cache.Len(c.cfg.Recipient)
	if c.queue != nil {
		if n, err := c.queue.Len(); err == nil {
			s.Pending = n
		}
	}
	return s
}

func (c *Controller) schedulePoll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollTimer != nil {
		c.pollTimer.Stop()
	}
	ctx := c.ctx
	c.pollTimer = time.AfterFunc(c.cfg.PostSendPollDelay, func() {
		if ctx.Err() == nil {
			c.Poll(ctx)
		}
	})
}

func (c *Controller) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}
