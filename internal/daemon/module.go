// Package daemon composes the relay out of its parts and manages their
// lifecycle.
package daemon

import (
	"context"
	"time"

	"github.com/rafaelmp2/zaprelay/internal/config"
	"github.com/rafaelmp2/zaprelay/internal/directory"
	"github.com/rafaelmp2/zaprelay/internal/docstore"
	"github.com/rafaelmp2/zaprelay/internal/gateway"
	"github.com/rafaelmp2/zaprelay/internal/hub"
	"github.com/rafaelmp2/zaprelay/internal/lock"
	"github.com/rafaelmp2/zaprelay/internal/logging"
	"github.com/rafaelmp2/zaprelay/internal/msglog"
	"github.com/rafaelmp2/zaprelay/internal/session"
	"github.com/rafaelmp2/zaprelay/internal/web"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the startup options passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the relay, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideHub,
			provideMachine,
			provideLock,
			provideDocstore,
			provideConn,
			provideLog,
			provideRecorder,
			provideDirectory,
			provideGateway,
			provideAPI,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath(), cfg.Session)
}

func provideHub() *hub.Hub {
	return hub.New()
}

func provideMachine(h *hub.Hub) *session.Machine {
	return session.NewMachine(h)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", cfg.Session))
	l, err := lock.Acquire(cfg.SessionDir())
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideDocstore(cfg *config.Config, logger *zap.Logger) (*docstore.Store, error) {
	store, err := docstore.Open(cfg.DataDBPath(), logger)
	if err != nil {
		return nil, err
	}
	result, err := store.Migrate()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("document store initialized", zap.String("path", cfg.DataDBPath()))
	return store, nil
}

func provideConn(cfg *config.Config, machine *session.Machine, h *hub.Hub, logger *zap.Logger) (*session.Conn, error) {
	return session.New(context.Background(), cfg.SessionDBPath(), machine, h, logger)
}

func provideLog(cfg *config.Config, store *docstore.Store, logger *zap.Logger) *msglog.Log {
	return msglog.New(store, cfg.LogCap, logger)
}

func provideRecorder(log *msglog.Log, h *hub.Hub, logger *zap.Logger) *msglog.Recorder {
	return msglog.NewRecorder(log, h, logger)
}

func provideDirectory(conn *session.Conn, h *hub.Hub, logger *zap.Logger) *directory.Cache {
	return directory.New(conn, h, logger)
}

func provideGateway(cfg *config.Config, conn *session.Conn, log *msglog.Log, h *hub.Hub, logger *zap.Logger) *gateway.Gateway {
	return gateway.New(conn, log, h, cfg.BulkDelay(), logger)
}

func provideAPI(conn *session.Conn, gw *gateway.Gateway, cache *directory.Cache, log *msglog.Log, store *docstore.Store, h *hub.Hub, logger *zap.Logger) *web.API {
	return web.NewAPI(conn, gw, cache, log, store, h, logger)
}

func provideServer(cfg *config.Config, api *web.API, logger *zap.Logger) *web.Server {
	return web.NewServer(cfg.Listen, api, logger)
}

type challengeSource interface {
	Challenge() string
}

type directorySnapshot interface {
	Contacts() []directory.Entry
	Groups() []directory.Entry
}

// snapshotEvents builds the replay sequence a freshly attached observer
// receives: the current connection status, the pending authentication
// challenge if one is outstanding, and the directory snapshot when the
// session is connected.
func snapshotEvents(machine *session.Machine, conn challengeSource, cache directorySnapshot) []hub.Event {
	now := time.Now()
	cur := machine.Current()
	events := []hub.Event{{
		Kind:      hub.KindStatus,
		Timestamp: now,
		Payload:   session.StatusChange{From: cur, To: cur},
	}}
	if code := conn.Challenge(); code != "" {
		events = append(events, hub.Event{Kind: hub.KindChallenge, Timestamp: now, Payload: code})
	}
	if machine.IsConnected() {
		events = append(events,
			hub.Event{Kind: hub.KindContacts, Timestamp: now, Payload: cache.Contacts()},
			hub.Event{Kind: hub.KindGroups, Timestamp: now, Payload: cache.Groups()},
		)
	}
	return events
}

func registerLifecycle(lc fx.Lifecycle, srv *web.Server, lk *lock.Lock, conn *session.Conn, rec *msglog.Recorder, cache *directory.Cache, machine *session.Machine, h *hub.Hub, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			h.SetReplay(func() []hub.Event {
				return snapshotEvents(machine, conn, cache)
			})

			rec.Start(context.Background())
			cache.Watch(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			conn.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			cache.Stop()
			rec.Stop()
			conn.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("relay stopped")
			return nil
		},
	})
}
