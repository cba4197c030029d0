// Package daemon composes the conversad process from its parts.
package daemon

import (
	"context"
	"errors"
	"os"

	"github.com/rafaelmp/conversa/internal/account"
	"github.com/rafaelmp/conversa/internal/bus"
	"github.com/rafaelmp/conversa/internal/chats"
	"github.com/rafaelmp/conversa/internal/config"
	"github.com/rafaelmp/conversa/internal/fetch"
	"github.com/rafaelmp/conversa/internal/history"
	"github.com/rafaelmp/conversa/internal/lifecycle"
	"github.com/rafaelmp/conversa/internal/lock"
	"github.com/rafaelmp/conversa/internal/logging"
	"github.com/rafaelmp/conversa/internal/profile"
	"github.com/rafaelmp/conversa/internal/store"
	"github.com/rafaelmp/conversa/internal/xmpp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx
// module. Factory binds the protocol engine; the daemon never
// constructs one itself.
type Params struct {
	Profile string
	Factory xmpp.Factory
	// Budget reports the platform's remaining background execution
	// budget. nil means unbounded (desktop).
	Budget lifecycle.BudgetFunc
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideConfig,
			provideLock,
			provideStore,
			provideAccountRegistry,
			provideChatsRegistry,
			provideHistoryService,
			provideLifecycleManager,
			provideFetchCoordinator,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	path := profile.ConfigPath()
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
		if err := config.Save(path, cfg); err != nil {
			return nil, err
		}
		logger.Info("wrote default config", zap.String("path", path))
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	db.DedupWindow = cfg.DedupWindow()
	db.DedupWindowStanza = cfg.DedupWindowStanza()
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

func provideAccountRegistry(db *store.DB, b *bus.Bus, logger *zap.Logger) (*account.Registry, error) {
	return account.NewRegistry(db, b, logger)
}

func provideChatsRegistry(db *store.DB, b *bus.Bus, logger *zap.Logger) *chats.Registry {
	return chats.NewRegistry(db, b, logger)
}

func provideHistoryService(db *store.DB, r *chats.Registry, b *bus.Bus, logger *zap.Logger) *history.Service {
	return history.NewService(db, r, b, logger)
}

func provideLifecycleManager(p Params, accounts *account.Registry, conversations *chats.Registry, hist *history.Service, db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *lifecycle.Manager {
	return lifecycle.NewManager(p.Factory, accounts, conversations, hist, db, b, cfg, logger, p.Budget)
}

func provideFetchCoordinator(accounts *account.Registry, mgr *lifecycle.Manager, b *bus.Bus, logger *zap.Logger) *fetch.Coordinator {
	return fetch.NewCoordinator(accounts, mgr, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, accounts *account.Registry, conversations *chats.Registry, mgr *lifecycle.Manager, coord *fetch.Coordinator, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			for _, acct := range accounts.Active() {
				if err := conversations.Activate(acct.ID); err != nil {
					return err
				}
			}
			// Foreground first so the reachability flip sweeps into
			// connect attempts for every active account.
			mgr.SetForeground(true)
			mgr.SetReachable(true)
			logger.Info("daemon started", zap.Int("active_accounts", len(accounts.Active())))
			return nil
		},
		OnStop: func(_ context.Context) error {
			coord.Close()
			mgr.Shutdown()
			conversations.Shutdown()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
