package daemon

import (
	"context"

	"github.com/pdutra/cardex/internal/api"
	"github.com/pdutra/cardex/internal/auth"
	"github.com/pdutra/cardex/internal/backend"
	"github.com/pdutra/cardex/internal/bus"
	"github.com/pdutra/cardex/internal/config"
	"github.com/pdutra/cardex/internal/lock"
	"github.com/pdutra/cardex/internal/logging"
	"github.com/pdutra/cardex/internal/notify"
	"github.com/pdutra/cardex/internal/outbox"
	"github.com/pdutra/cardex/internal/presence"
	"github.com/pdutra/cardex/internal/profile"
	"github.com/pdutra/cardex/internal/store"
	"github.com/pdutra/cardex/internal/stream"
	"github.com/pdutra/cardex/internal/sync"
	"github.com/pdutra/cardex/internal/trade"
	"github.com/pdutra/cardex/internal/tradesession"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module assembles the daemon for one profile and session.
func Module(profileName string, cfg *config.Config, sess *auth.Session) fx.Option {
	return fx.Options(
		fx.Provide(
			func() (*zap.Logger, error) {
				return logging.New(profile.LogPath(profileName), profileName)
			},
			bus.New,
			func() (*lock.Lock, error) {
				return lock.Acquire(profile.Dir(profileName))
			},
			func(logger *zap.Logger) (*store.DB, error) {
				db, err := store.Open(profile.CacheDBPath(profileName))
				if err != nil {
					return nil, err
				}
				result, err := db.Migrate()
				if err != nil {
					_ = db.Close()
					return nil, err
				}
				logger.Info("cache ready",
					zap.Uint("schema_version", result.Version),
					zap.Bool("migrated", result.Changed))
				return db, nil
			},
			func(logger *zap.Logger) *backend.Client {
				return backend.New(backend.Config{
					BaseURL: cfg.Backend.URL,
					AnonKey: cfg.Backend.AnonKey,
				}, sess, logger)
			},
			func(b *bus.Bus, logger *zap.Logger) *notify.Client {
				return notify.NewClient(notify.ClientConfig{
					URL:         cfg.Realtime.URL,
					AccessToken: sess.AccessToken,
				}, b, logger)
			},
			func(db *store.DB, bc *backend.Client, b *bus.Bus, logger *zap.Logger) *sync.Engine {
				return sync.NewEngine(db, bc, b, logger)
			},
			func(db *store.DB, bc *backend.Client, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
				return presence.NewTracker(db, bc, b, sess.UserID, logger)
			},
			func(db *store.DB, b *bus.Bus, logger *zap.Logger) *stream.Stream {
				return stream.New(db, b, sess.UserID, logger)
			},
			func(db *store.DB, bc *backend.Client, logger *zap.Logger) *trade.Service {
				return trade.NewService(db, bc, sess.UserID, logger)
			},
			func(db *store.DB, bc *backend.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
				return outbox.NewSender(db, bc, b, sess.UserID, logger)
			},
			func(db *store.DB, engine *sync.Engine, nc *notify.Client, tracker *presence.Tracker, offers *trade.Service, b *bus.Bus, logger *zap.Logger) *tradesession.Coordinator {
				return tradesession.NewCoordinator(db, engine, nc, tracker, offers, b, logger)
			},
			func(offers *trade.Service, coord *tradesession.Coordinator, st *stream.Stream, tracker *presence.Tracker, nc *notify.Client, b *bus.Bus, logger *zap.Logger) *api.API {
				return api.New(offers, coord, st, tracker, b, api.Options{
					Profile:   profileName,
					UserID:    sess.UserID,
					Connected: nc.Connected,
				}, logger)
			},
			func(a *api.API, logger *zap.Logger) *Server {
				return NewServer(cfg.Daemon.Listen, a.Router(), logger)
			},
		),
		fx.Invoke(run),
	)
}

// run wires component lifecycles into the fx app. The notifier connection is
// allowed to fail at startup; the daemon then runs without realtime updates
// until the next reconnect succeeds.
func run(
	lc fx.Lifecycle,
	logger *zap.Logger,
	profileLock *lock.Lock,
	db *store.DB,
	nc *notify.Client,
	engine *sync.Engine,
	sender *outbox.Sender,
	coord *tradesession.Coordinator,
	server *Server,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := nc.Connect(ctx); err != nil {
				logger.Warn("notifier unavailable, starting without realtime updates", zap.Error(err))
			}
			engine.Start()
			sender.Start()
			coord.Start()
			if err := server.Start(); err != nil {
				return err
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := server.Stop(ctx); err != nil {
				logger.Warn("api shutdown", zap.Error(err))
			}
			coord.Stop()
			sender.Stop()
			engine.Stop()
			nc.Disconnect()
			if err := db.Close(); err != nil {
				logger.Warn("close cache", zap.Error(err))
			}
			if err := profileLock.Release(); err != nil {
				logger.Warn("release lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
