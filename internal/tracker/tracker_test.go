package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTracker(t *testing.T) (*Tracker, *fakeClock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(ctx, WithClock(clock.Now)), clock
}

func TestTrackAndClear(t *testing.T) {
	tr, _ := newTracker(t)
	key := SendKey("bob", "c1")

	assert.False(t, tr.IsInProgress(key))
	tr.Track(key)
	assert.True(t, tr.IsInProgress(key))
	tr.Clear(key)
	assert.False(t, tr.IsInProgress(key))
}

func TestExpiresAfterThreshold(t *testing.T) {
	tr, clock := newTracker(t)
	key := PollKey("bob", "12")

	tr.Track(key)
	clock.Advance(4 * time.Second)
	assert.True(t, tr.IsInProgress(key))
	clock.Advance(time.Second)
	assert.False(t, tr.IsInProgress(key), "entry must expire at 5s without a clear")
}

func TestClearAll(t *testing.T) {
	tr, _ := newTracker(t)
	tr.Track("a")
	tr.Track("b")
	tr.ClearAll()
	assert.False(t, tr.IsInProgress("a"))
	assert.False(t, tr.IsInProgress("b"))
}

func TestAcquireCollapsesDuplicates(t *testing.T) {
	tr, _ := newTracker(t)

	release, ok := tr.Acquire("k")
	require.True(t, ok)
	_, again := tr.Acquire("k")
	assert.False(t, again)

	release()
	release()
	assert.False(t, tr.IsInProgress("k"))

	_, ok = tr.Acquire("k")
	assert.True(t, ok)
}

func TestAcquireAfterStaleEntry(t *testing.T) {
	tr, clock := newTracker(t)
	tr.Track("k")
	clock.Advance(6 * time.Second)

	release, ok := tr.Acquire("k")
	require.True(t, ok)
	defer release()
	assert.True(t, tr.IsInProgress("k"))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "/messages/api/messages/bob-post-c1", SendKey("bob", "c1"))
	assert.Equal(t, "/messages/api/messages/bob?since_id=7", PollKey("bob", "7"))
	assert.Equal(t, "/messages/api/messages/7/statusread", StatusKey("7", "read"))
}
