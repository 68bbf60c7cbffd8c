// Package app wires the gateway together: config manager, logging service,
// event bus, registries, relay, ingress and the backend registrar, under one
// supervisor with hot config reload.
package app

import (
	"context"
	"fmt"
	"time"

	"notigate/internal/alert"
	"notigate/internal/backend"
	"notigate/internal/backend/enginews"
	"notigate/internal/backend/qrsrest"
	"notigate/internal/config"
	"notigate/internal/eventbus"
	"notigate/internal/ingress"
	"notigate/internal/plugin"
	"notigate/internal/plugin/builtin"
	"notigate/internal/registrar"
	"notigate/internal/registry"
	"notigate/internal/relay"
	"notigate/internal/runtime/supervisor"
	"notigate/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   *registry.Store
	plugins *plugin.Registry
	reg     *registrar.Registrar
	server  *ingress.Server

	factory registry.ClientFactory
	sinks   func() []plugin.Sink
}

type Option func(*App)

// WithClientFactory overrides how per-environment backend clients are built.
// Tests inject fakes through this.
func WithClientFactory(f registry.ClientFactory) Option {
	return func(a *App) { a.factory = f }
}

// WithSinks overrides the sink set registered on every (re)load.
func WithSinks(f func() []plugin.Sink) Option {
	return func(a *App) { a.sinks = f }
}

func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logCfg(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   registry.NewStore(),
		factory: defaultClientFactory(log),
		sinks:   builtin.All,
	}
	for _, o := range opts {
		o(a)
	}

	a.plugins = plugin.NewRegistry(log.With(logx.String("comp", "plugins")))
	a.reg = registrar.New(log.With(logx.String("comp", "registrar")), a.bus)

	dispatcher := relay.NewDispatcher(a.plugins, log.With(logx.String("comp", "relay")), a.bus)
	alerts := alert.NewRunner(log.With(logx.String("comp", "alert")))

	a.server = ingress.New(ingress.Options{
		Log:         log.With(logx.String("comp", "ingress")),
		Registry:    a.store,
		Dispatcher:  dispatcher,
		Alerts:      alerts,
		Bus:         a.bus,
		AdminSecret: cfg.General.AdminSecret,
		RatePerSec:  cfg.General.RatePerSec,
		Verify: func(context.Context) error {
			c, err := cfgm.Parse()
			if err != nil {
				return err
			}
			return config.Validate(c)
		},
		Deregister: func(ctx context.Context, id string) {
			a.reg.RemoveByID(ctx, a.store.Current(), id)
		},
	})

	return a, nil
}

func logCfg(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func defaultClientFactory(log logx.Logger) registry.ClientFactory {
	return func(env config.Environment) (backend.RepoClient, backend.EngineClient, error) {
		repo := qrsrest.New(env.Host, qrsrest.WithLogger(log.With(
			logx.String("comp", "repo"), logx.String("environment", env.Name))))
		engine := enginews.New(env.Host, enginews.WithLogger(log.With(
			logx.String("comp", "engine"), logx.String("environment", env.Name))))
		return repo, engine, nil
	}
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// Transactional reload: validation runs before commit/publish, so a bad
	// config never reaches the registries.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	cfg := a.cfgm.Get()
	if err := a.apply(a.sup.Context(), cfg); err != nil {
		a.sup.Cancel()
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.General.Port)
	a.sup.Go("ingress.serve", func(c context.Context) error {
		return a.server.Serve(c, addr)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("reload.loop", a.reloadLoop)
	a.sup.Go0("bus.commands", a.commandLoop)

	a.log.Info("gateway started", logx.String("addr", addr),
		logx.Int("notifications", len(cfg.Notifications)),
		logx.Int("environments", len(cfg.Environments)))
	return nil
}

// Stop cancels everything and waits for the supervisor to drain.
func (a *App) Stop(ctx context.Context) error {
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	a.reg.Stop()
	a.plugins.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// apply turns one validated config into live state: fresh environments, a
// rebuilt plugin set, an atomically swapped registry snapshot and re-asserted
// backend subscriptions. On error nothing is swapped and the previous
// registries remain active.
func (a *App) apply(ctx context.Context, cfg *config.Config) error {
	envs, err := registry.BuildEnvironments(cfg, a.factory)
	if err != nil {
		return err
	}
	if err := a.plugins.Rebuild(logCfg(cfg), cfg.Plugins, a.sinks()); err != nil {
		return err
	}

	a.logs.Apply(logCfg(cfg))
	snap := a.store.Swap(cfg.Notifications, envs)
	a.log.Info("registry swapped",
		logx.Int("version", int(snap.Version)),
		logx.Int("notifications", len(snap.Notifications)),
		logx.String("plugins", fmt.Sprint(a.plugins.Names())))

	general := cfg.General
	a.sup.Go0("registrar.assert", func(c context.Context) {
		rctx, cancel := context.WithTimeout(c, 60*time.Second)
		defer cancel()
		_ = a.reg.Assert(rctx, snap, general)
	})
	if err := a.reg.StartSweep(cfg.Registrar.Sweep, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		_ = a.reg.Assert(sctx, a.store.Current(), general)
	}); err != nil {
		a.log.Warn("registration sweep not scheduled", logx.Err(err))
	}
	return nil
}
