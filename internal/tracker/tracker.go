package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c-pro/geche"
	"github.com/matheus3301/dmsync/internal/model"
)

// DefaultThreshold is how long a tracked call blocks duplicates without an
// explicit Clear.
const DefaultThreshold = 5 * time.Second

// Tracker is an advisory in-flight ledger keyed by logical operation. It
// collapses duplicate concurrent attempts but is not a lock: a stale entry
// expires on its own after the threshold.
type Tracker struct {
	mu        sync.Mutex
	calls     geche.Geche[string, time.Time]
	threshold time.Duration
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(d time.Duration) Option {
	return func(t *Tracker) { t.threshold = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker. Expired entries are swept in the background until
// ctx is done.
func New(ctx context.Context, opts ...Option) *Tracker {
	t := &Tracker{
		threshold: DefaultThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	// The sweep TTL is twice the threshold so the map never drops an entry
	// before IsInProgress would have considered it expired.
	t.calls = geche.NewMapTTLCache[string, time.Time](ctx, 2*t.threshold, t.threshold)
	return t
}

// IsInProgress reports whether key was tracked within the threshold and
// has not been cleared.
func (t *Tracker) IsInProgress(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inProgress(key)
}

func (t *Tracker) inProgress(key string) bool {
	started, err := t.calls.Get(key)
	if err != nil {
		return false
	}
	return t.now().Sub(started) < t.threshold
}

// Track records key as started now.
func (t *Tracker) Track(key string) {
	t.mu.Lock()
	t.calls.Set(key, t.now())
	t.mu.Unlock()
}

// Clear releases key.
func (t *Tracker) Clear(key string) {
	t.mu.Lock()
	_ = t.calls.Del(key)
	t.mu.Unlock()
}

// ClearAll drops every entry. Called when the view returns to the
// foreground so stale entries cannot suppress a legitimate retry.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.calls.Snapshot() {
		_ = t.calls.Del(key)
	}
}

// Acquire tracks key unless it is already in progress. The returned
// release func must be deferred by the caller so the key is cleared on
// every exit path.
func (t *Tracker) Acquire(key string) (release func(), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inProgress(key) {
		return func() {}, false
	}
	t.calls.Set(key, t.now())
	var once sync.Once
	return func() { once.Do(func() { t.Clear(key) }) }, true
}

// SendKey is the ledger key for posting a message.
func SendKey(recipient, clientMsgID string) string {
	return fmt.Sprintf("/messages/api/messages/%s-post-%s", recipient, clientMsgID)
}

// PollKey is the ledger key for fetching a conversation since an id.
func PollKey(recipient string, sinceID model.MessageID) string {
	return fmt.Sprintf("/messages/api/messages/%s?since_id=%s", recipient, sinceID)
}

// StatusKey is the ledger key for a receipt update.
func StatusKey(id model.MessageID, status model.DeliveryStatus) string {
	return fmt.Sprintf("/messages/api/messages/%s/status%s", id, status)
}
