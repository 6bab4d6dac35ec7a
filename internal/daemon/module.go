// Package daemon composes the session daemon: store, ingestion engine, outbox
// and supporting infrastructure, wired as an fx module.
package daemon

import (
	"context"

	"github.com/lbrandao/mtx/internal/api"
	"github.com/lbrandao/mtx/internal/bus"
	"github.com/lbrandao/mtx/internal/lock"
	"github.com/lbrandao/mtx/internal/logging"
	"github.com/lbrandao/mtx/internal/outbox"
	"github.com/lbrandao/mtx/internal/session"
	"github.com/lbrandao/mtx/internal/status"
	"github.com/lbrandao/mtx/internal/store"
	intsync "github.com/lbrandao/mtx/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
// Sender is the event transport; nil runs the daemon without an outbox drain
// (cached state is still served and sync batches on the bus are ingested).
type Params struct {
	SessionName string
	Sender      outbox.EventSender
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideEngine,
			provideSender,
			provideQueryService,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
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

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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

	// Sends that were in flight when the process last stopped are lost.
	failed, err := db.FailInterruptedSends()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if failed > 0 {
		logger.Warn("marked interrupted sends as failed", zap.Int64("count", failed))
	}

	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideEngine(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, p.SessionName, b, logger)
}

func provideSender(p Params, db *store.DB, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	if p.Sender == nil {
		return nil
	}
	return outbox.NewSender(db, engine, p.SessionName, p.Sender, b, logger)
}

func provideQueryService(p Params, db *store.DB) *api.QueryService {
	return api.NewQueryService(db, p.SessionName)
}

func registerLifecycle(lc fx.Lifecycle, p Params, db *store.DB, engine *intsync.Engine, sender *outbox.Sender, machine *status.Machine, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Ingest sync batches published on the bus by the transport.
			engine.Start(context.Background())

			if sender != nil {
				sender.Start(context.Background())
			}

			client, err := db.GetClient(p.SessionName)
			if err != nil {
				return err
			}
			if client == nil {
				logger.Info("no client identity found, login required")
				return machine.Transition(status.LoggedOut)
			}
			logger.Info("client restored",
				zap.String("user_id", client.UserID),
				zap.String("device_id", client.DeviceID),
				zap.Bool("resumable", client.PrevBatch != ""))
			return machine.Transition(status.Ready)
		},
		OnStop: func(_ context.Context) error {
			if sender != nil {
				sender.Stop()
			}
			engine.Stop()
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
