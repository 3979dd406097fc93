package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/contractflow/contractflow/pkg/config"
	"github.com/contractflow/contractflow/pkg/policy"
	"github.com/contractflow/contractflow/pkg/stores"
	"github.com/contractflow/contractflow/pkg/telemetry"
	"github.com/contractflow/contractflow/pkg/workflow"
)

const defaultConfigFile = "cflow.cue"

// app is the fully wired process: config, telemetry, store, permission
// oracle and workflow engine.
type app struct {
	cfg     *config.Config
	baseDir string
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	store   *stores.SQLiteStore
	loader  *policy.Loader
	oracle  *policy.Engine
	engine  *workflow.Engine
}

// loadConfig parses --config, ./cflow.cue, or the built-in defaults. It
// returns the directory relative paths in the config resolve against.
func loadConfig() (*config.Config, string, error) {
	parser, err := config.NewCUEParser()
	if err != nil {
		return nil, "", err
	}

	path := configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path == "" {
		cfg, err := parser.Default()
		return cfg, ".", err
	}

	cfg, err := parser.Parse(path)
	if err != nil {
		return nil, "", err
	}
	base := path
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		base = filepath.Dir(path)
	}
	return cfg, base, nil
}

func resolvePath(base, p string) string {
	if p == "" || p == stores.MemoryPath || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// openApp wires every component from configuration. The store is migrated
// to the latest schema before the engine is built.
func openApp(ctx context.Context) (a *app, err error) {
	cfg, base, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(buildVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a = &app{cfg: cfg, baseDir: base, tel: tel, logger: tel.Logger.Zerolog()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	storeCfg := cfg.StoreConfig()
	storeCfg.Path = resolvePath(base, storeCfg.Path)
	a.store, err = stores.NewSQLiteStore(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := a.store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := a.store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a.loader = policy.NewLoader(a.logger)
	bindings, opts, err := a.loadPolicy()
	if err != nil {
		return nil, err
	}
	opts = append(opts, policy.WithMetrics(tel.Metrics))
	a.oracle, err = policy.NewEngine(a.logger, bindings, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build permission oracle: %w", err)
	}

	engineOpts := []workflow.Option{
		workflow.WithLogger(a.logger),
		workflow.WithMetrics(tel.Metrics),
		workflow.WithTracer(tel.Tracer.OTel()),
		workflow.WithNotifier(workflow.NewEventNotifier(tel.Events, tel.Metrics, tel.Logger.Component("notifier"))),
	}
	if script := cfg.Workflow.RoutingScript; script != "" {
		router, err := config.LoadStarlarkRouter(resolvePath(base, script), cfg.RoutingTimeout())
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, workflow.WithRouter(router))
	}

	a.engine, err = workflow.NewEngine(a.store, a.oracle, cfg.EngineConfig(), engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow engine: %w", err)
	}

	a.subscribeNotifications()
	return a, nil
}

// loadPolicy returns the role bindings and the custom Rego module, if any.
func (a *app) loadPolicy() (*policy.Bindings, []policy.Option, error) {
	var opts []policy.Option
	if f := a.cfg.Policy.ModuleFile; f != "" {
		module, err := a.loader.LoadModule(resolvePath(a.baseDir, f))
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, policy.WithModule(module))
	}

	f := a.cfg.Policy.BindingsFile
	if f == "" {
		a.logger.Warn().Msg("No role bindings configured, every command will be forbidden")
		return policy.DefaultBindings(), opts, nil
	}
	b, err := a.loader.LoadBindings(resolvePath(a.baseDir, f))
	if err != nil {
		return nil, nil, err
	}
	return b, opts, nil
}

// watchPolicy hot-reloads the role bindings file when policy.watch is set.
func (a *app) watchPolicy(ctx context.Context) error {
	f := a.cfg.Policy.BindingsFile
	if !a.cfg.Policy.Watch || f == "" {
		return nil
	}
	return a.loader.Watch(ctx, resolvePath(a.baseDir, f), func(b *policy.Bindings) error {
		return a.oracle.SetBindings(ctx, b)
	})
}

// subscribeNotifications logs every notification trigger point. Delivery
// to people is left to external subscribers of the event stream.
func (a *app) subscribeNotifications() {
	logger := a.tel.Logger.Component("notifications")
	a.tel.Events.Subscribe(func(ev telemetry.Event) {
		logger.Info().
			Str("action", ev.Action).
			Str("contract_id", ev.ContractID).
			Str("track_id", ev.TrackID).
			Str("actor", ev.ActorID).
			Str("from", ev.From).
			Str("to", ev.To).
			Msg("Notification")
	})
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if a.loader != nil {
		errs = append(errs, a.loader.StopWatching())
	}
	if a.tel != nil {
		errs = append(errs, a.tel.Shutdown(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("Shutdown incomplete")
	}
}

// withApp runs fn against a wired app and tears it down afterwards.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
