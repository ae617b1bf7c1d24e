// Package netwatch reports when the messaging server becomes reachable or
// unreachable.
package netwatch

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 3 * time.Second
)

// ProbeFunc reports whether the server answered.
type ProbeFunc func(ctx context.Context) bool

// Watcher probes the server periodically and publishes net.online and
// net.offline on transitions. With a stale check it also republishes
// net.online while the server answers but a subscriber still reports it
// down, e.g. after a failed request took the sync controller offline.
type Watcher struct {
	probe    ProbeFunc
	stale    func() bool
	interval time.Duration
	bus      *bus.Bus
	logger   *zap.Logger

	online atomic.Bool
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval sets the probe period.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) { w.interval = d }
}

// WithStaleCheck sets a function reporting whether subscribers still
// consider the server unreachable.
func WithStaleCheck(f func() bool) Option {
	return func(w *Watcher) { w.stale = f }
}

// WithProbe replaces the HTTP probe.
func WithProbe(p ProbeFunc) Option {
	return func(w *Watcher) { w.probe = p }
}

// New creates a watcher for baseURL. The server is assumed reachable until
// a probe says otherwise.
func New(baseURL string, b *bus.Bus, logger *zap.Logger, opts ...Option) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		probe:    HTTPProbe(baseURL, &http.Client{Timeout: DefaultTimeout}),
		interval: DefaultInterval,
		bus:      b,
		logger:   logger,
	}
	for _, o := range opts {
		o(w)
	}
	w.online.Store(true)
	return w
}

// HTTPProbe treats any HTTP response from baseURL as reachable.
func HTTPProbe(baseURL string, client *http.Client) ProbeFunc {
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/", nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}
}

// Online reports the last observed reachability.
func (w *Watcher) Online() bool { return w.online.Load() }

// Check runs one probe and publishes if the result changed, or if the
// server is up and the stale check says subscribers missed it.
func (w *Watcher) Check(ctx context.Context) bool {
	up := w.probe(ctx)
	if ctx.Err() != nil {
		return w.online.Load()
	}
	if w.online.Swap(up) == up {
		if up && w.stale != nil && w.stale() {
			w.logger.Info("server reachable, resyncing")
			w.bus.Emit(bus.KindOnline, nil)
		}
		return up
	}
	if up {
		w.logger.Info("server reachable")
		w.bus.Emit(bus.KindOnline, nil)
	} else {
		w.logger.Warn("server unreachable")
		w.bus.Emit(bus.KindOffline, nil)
	}
	return up
}

// Start probes immediately and then every interval until Stop.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Go(func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		w.Check(ctx)
		for {
			select {
			case <-ticker.C:
				w.Check(ctx)
			case <-ctx.Done():
				return
			}
		}
	})
}

// Stop ends probing and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}
