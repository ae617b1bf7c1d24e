package daemon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/cache"
	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/directory"
	"github.com/matheus3301/dmsync/internal/lock"
	"github.com/matheus3301/dmsync/internal/logging"
	"github.com/matheus3301/dmsync/internal/netwatch"
	"github.com/matheus3301/dmsync/internal/outbox"
	"github.com/matheus3301/dmsync/internal/session"
	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/store"
	intsync "github.com/matheus3301/dmsync/internal/sync"
	"github.com/matheus3301/dmsync/internal/tracker"
	"github.com/matheus3301/dmsync/internal/transport"
	"github.com/matheus3301/dmsync/internal/transport/httpapi"
	"github.com/matheus3301/dmsync/internal/transport/live"
	"github.com/matheus3301/dmsync/internal/view"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const lookupTimeout = 5 * time.Second

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile   string
	Recipient string

	// Owner names the binary in the lock file and log path. Defaults to
	// "dmsyncd".
	Owner string
	// Quiet keeps log lines off stderr.
	Quiet bool
	// Renderer draws the conversation. nil logs node changes instead.
	Renderer view.Renderer

	SocketPath string // optional override for testing; empty = use default
	ConfigPath string // optional override; empty = use default
}

// Identity is the signed-in user as resolved at startup.
type Identity struct {
	SelfID   string
	Username string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Owner == "" {
		p.Owner = "dmsyncd"
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTracker,
			cache.New,
			provideHTTPClient,
			provideDirectory,
			provideLive,
			provideTransport,
			provideQueue,
			provideIdentity,
			provideProjector,
			provideController,
			provideWatcher,
			provideHealth,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.NewWithOptions(session.LogPath(p.Profile, p.Owner), p.Profile, logging.Options{
		Stderr: !p.Quiet,
		Level:  zapcore.InfoLevel,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

// Start online until the watcher or a failed request says otherwise.
func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b, status.OnlineIdle)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile), p.Owner)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is only opened by its
// single writer.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTracker(lc fx.Lifecycle) *tracker.Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.StopHook(cancel))
	return tracker.New(ctx)
}

func provideHTTPClient(cfg *config.Config, logger *zap.Logger) (*httpapi.Client, error) {
	return httpapi.New(cfg.Server.BaseURL,
		httpapi.WithTimeout(cfg.Sync.RequestTimeout.Duration),
		httpapi.WithSessionCookie(cfg.Server.SessionCookie),
		httpapi.WithLogger(logger.Named("http")),
	)
}

func provideDirectory(hc *httpapi.Client, db *store.DB, logger *zap.Logger) *directory.Directory {
	return directory.New(hc, db, logger.Named("directory"))
}

// provideLive returns nil unless the live transport is configured.
func provideLive(cfg *config.Config, hc *httpapi.Client, dir *directory.Directory, logger *zap.Logger) (*live.Client, error) {
	if cfg.Sync.Transport != config.TransportLive {
		return nil, nil
	}
	u, err := live.URLFor(hc.BaseURL(), cfg.Live.Path)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if cfg.Server.SessionCookie != "" {
		header.Set("Cookie", cfg.Server.SessionCookie)
	}
	return live.New(live.Config{
		URL:               u,
		Header:            header,
		ReconnectAttempts: cfg.Live.ReconnectAttempts,
		ReconnectDelay:    cfg.Live.ReconnectDelay.Duration,
		Timeout:           cfg.Sync.RequestTimeout.Duration,
	}, dir, hc, logger.Named("live")), nil
}

func provideTransport(hc *httpapi.Client, lc *live.Client) transport.Transport {
	if lc != nil {
		return lc
	}
	return hc
}

func provideQueue(db *store.DB, b *bus.Bus) *outbox.Queue {
	return outbox.NewQueue(db, b)
}

// provideIdentity uses user.id when configured and otherwise looks the
// username up. A failed lookup leaves SelfID empty, which only disables
// receipts.
func provideIdentity(cfg *config.Config, dir *directory.Directory, logger *zap.Logger) Identity {
	id := Identity{SelfID: cfg.User.ID, Username: cfg.User.Username}
	if id.SelfID != "" || id.Username == "" {
		return id
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	selfID, err := dir.UserID(ctx, id.Username)
	if err != nil {
		logger.Warn("could not resolve own user id", zap.String("username", id.Username), zap.Error(err))
		return id
	}
	id.SelfID = selfID
	return id
}

func provideProjector(p Params, id Identity, c *cache.Cache, hc *httpapi.Client, tr *tracker.Tracker, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *view.Projector {
	r := p.Renderer
	if r == nil {
		r = view.LogRenderer{Logger: logger.Named("view")}
	}
	return view.New(view.Params{
		ConversationID: p.Recipient,
		SelfID:         id.SelfID,
		Cache:          c,
		Renderer:       r,
		Receipts:       hc,
		Tracker:        tr,
		Bus:            b,
		Logger:         logger.Named("view"),
		Timeout:        cfg.Sync.RequestTimeout.Duration,
	})
}

func provideController(
	p Params,
	cfg *config.Config,
	id Identity,
	t transport.Transport,
	c *cache.Cache,
	tr *tracker.Tracker,
	q *outbox.Queue,
	proj *view.Projector,
	m *status.Machine,
	db *store.DB,
	b *bus.Bus,
	logger *zap.Logger,
) *intsync.Controller {
	return intsync.NewController(intsync.Params{
		Config: intsync.Config{
			Recipient:         p.Recipient,
			SelfID:            id.SelfID,
			PollInterval:      cfg.Sync.PollInterval.Duration,
			MinPollGap:        cfg.Sync.MinPollGap.Duration,
			PostSendPollDelay: cfg.Sync.PostSendPollDelay.Duration,
		},
		Transport:   t,
		Cache:       c,
		Tracker:     tr,
		Queue:       q,
		Projector:   proj,
		Machine:     m,
		Checkpoints: intsync.NewCheckpoints(db, logger),
		Bus:         b,
		Logger:      logger.Named("sync"),
	})
}

// A failed request can take the controller offline while the probe keeps
// succeeding; the stale check brings it back.
func provideWatcher(hc *httpapi.Client, m *status.Machine, b *bus.Bus, logger *zap.Logger) *netwatch.Watcher {
	return netwatch.New(hc.BaseURL(), b, logger.Named("netwatch"),
		netwatch.WithStaleCheck(func() bool { return !m.Online() }))
}

func provideHealth(b *bus.Bus, m *status.Machine, logger *zap.Logger) *api.Health {
	return api.NewHealth(b, m, logger.Named("health"))
}

// followNetwork redials the live channel whenever the network returns.
type followNetwork struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (f *followNetwork) start(b *bus.Bus, lc *live.Client) {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	ch, unsub := b.Subscribe(bus.KindOnline, 4)
	f.wg.Go(func() {
		defer unsub()
		for {
			select {
			case <-ch:
				lc.Reconnect()
			case <-ctx.Done():
				return
			}
		}
	})
}

func (f *followNetwork) stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	dir *directory.Directory,
	liveClient *live.Client,
	t transport.Transport,
	ctrl *intsync.Controller,
	watcher *netwatch.Watcher,
	health *api.Health,
	b *bus.Bus,
	logger *zap.Logger,
) {
	var follow followNetwork
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			health.Start(ctx)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := dir.Warm(); err != nil {
				logger.Warn("warm directory", zap.Error(err))
			}

			if liveClient != nil {
				if err := liveClient.Start(ctx); err != nil {
					return err
				}
				follow.start(b, liveClient)
				go func() {
					jctx, jcancel := context.WithTimeout(ctx, lookupTimeout)
					defer jcancel()
					if err := liveClient.Join(jctx, p.Recipient); err != nil {
						logger.Warn("join conversation", zap.String("recipient", p.Recipient), zap.Error(err))
					}
				}()
			}

			go func() {
				lctx, lcancel := context.WithTimeout(ctx, lookupTimeout)
				defer lcancel()
				peerID, err := dir.UserID(lctx, p.Recipient)
				if err != nil {
					logger.Warn("resolve recipient", zap.String("recipient", p.Recipient), zap.Error(err))
					return
				}
				ctrl.Engine().SetPeerID(peerID)
			}()

			watcher.Start(ctx)
			if err := ctrl.Start(ctx); err != nil {
				return err
			}
			logger.Info("daemon started", zap.String("profile", p.Profile), zap.String("recipient", p.Recipient))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			ctrl.Stop()
			watcher.Stop()
			follow.stop()
			cancel()
			if err := t.Close(); err != nil {
				logger.Warn("error closing transport", zap.Error(err))
			}
			health.Stop()
			srv.Stop(stopCtx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
