package client

import (
	"context"

	"github.com/relaychat/relay/internal/auth"
	"github.com/relaychat/relay/internal/bus"
	"github.com/relaychat/relay/internal/cache"
	"github.com/relaychat/relay/internal/clock"
	"github.com/relaychat/relay/internal/config"
	"github.com/relaychat/relay/internal/conn"
	"github.com/relaychat/relay/internal/dispatch"
	"github.com/relaychat/relay/internal/lock"
	"github.com/relaychat/relay/internal/logging"
	"github.com/relaychat/relay/internal/outbox"
	"github.com/relaychat/relay/internal/session"
	"github.com/relaychat/relay/internal/store"
	intsync "github.com/relaychat/relay/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Tokens      auth.Tokens
}

// Module returns the fx module for the sync core, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("client",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideClock,
			provideConfig,
			provideLock,
			provideTokens,
			provideConn,
			provideStore,
			provideQueue,
			provideDispatcher,
			provideEngine,
			provideCacheDB,
			provideMirror,
			NewClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.NewBus()
}

func provideClock() clock.Clock {
	return clock.NewSystem()
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Info("config not loaded, using defaults", zap.Error(err))
	}
	return cfg
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideTokens(p Params, cfg *config.Config, logger *zap.Logger) auth.TokenProvider {
	return auth.NewRESTProvider(cfg.Server.APIURL, p.Tokens, logger)
}

func provideConn(cfg *config.Config, tokens auth.TokenProvider, b *bus.Bus, c clock.Clock, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(conn.Config{
		URL:                  cfg.Server.WSURL,
		HeartbeatInterval:    cfg.Conn.HeartbeatInterval(),
		PongWait:             cfg.Conn.PongWait(),
		ReconnectBase:        cfg.Conn.ReconnectBase(),
		ReconnectMax:         cfg.Conn.ReconnectMax(),
		MaxReconnectAttempts: cfg.Conn.MaxReconnectAttempts,
	}, conn.NewWebSocketDialer(), tokens, b, c, logger)
}

func provideStore(cfg *config.Config, b *bus.Bus, c clock.Clock, logger *zap.Logger) *store.Store {
	return store.NewStore(b, c, logger, store.WithTypingTTL(cfg.Store.TypingTTL()))
}

func provideQueue(s *store.Store, m *conn.Manager, b *bus.Bus, c clock.Clock, logger *zap.Logger) *outbox.Queue {
	return outbox.NewQueue(s, m, b, c, logger)
}

func provideDispatcher(logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(logger)
}

func provideEngine(s *store.Store, q *outbox.Queue, m *conn.Manager, b *bus.Bus, c clock.Clock, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(s, q, m, b, c, logger)
}

func provideCacheDB(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := cache.Open(dbPath)
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
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideMirror(db *cache.DB, s *store.Store, b *bus.Bus, logger *zap.Logger) *cache.Mirror {
	return cache.NewMirror(db, s, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, c *Client, lk *lock.Lock, m *conn.Manager, d *dispatch.Dispatcher, engine *intsync.Engine, mirror *cache.Mirror, db *cache.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Route inbound frames before anything can connect.
			engine.Register(d)
			m.OnFrame(d.Dispatch)

			// Render cached history before the first frame arrives.
			if err := mirror.Warm(); err != nil {
				logger.Warn("cache warm failed", zap.Error(err))
			}
			mirror.Start(context.Background())
			engine.Start(context.Background())

			go func() {
				if err := c.Connect(context.Background()); err != nil {
					logger.Error("connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			c.Disconnect()
			engine.Stop()
			mirror.Stop()
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
