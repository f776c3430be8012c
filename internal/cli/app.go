package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/config"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/connectivity"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/engine"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/logging"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/remote"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/schema"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/store"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

// app is the wired object graph shared by the queue commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	registry *schema.Registry // nil without a schema file
	monitor  *connectivity.Monitor
	engine   *engine.Engine
	router   *engine.Router
	reporter *engine.Reporter

	closers []io.Closer
}

// loadConfig reads the configuration and sets up logging. The returned
// closer releases the log file.
func loadConfig(opts *RootOptions, stderr io.Writer) (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.DatabasePath = opts.Database
	}

	logger, closer, err := logging.New(stderr, logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Verbose:    opts.Verbose,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}
	return cfg, logger, closer, nil
}

func loadRegistry(cfg *config.Config) (*schema.Registry, error) {
	if cfg.SchemaFile == "" {
		return nil, nil
	}
	reg, err := schema.Load(cfg.SchemaFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load collection schemas", err)
	}
	return reg, nil
}

// openApp wires config, store, remote client and engine. The monitor starts
// reachable only when a remote is configured; callers feed it afterwards.
func openApp(ctx context.Context, opts *RootOptions, stderr io.Writer) (*app, error) {
	cfg, logger, logCloser, err := loadConfig(opts, stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	if a.registry, err = loadRegistry(cfg); err != nil {
		a.Close()
		return nil, err
	}

	logger.Debug("opening database", "path", cfg.DatabasePath)
	a.store, err = store.Open(cfg.DatabasePath)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	a.closers = append([]io.Closer{a.store}, a.closers...)

	var uploader remote.Uploader = unconfiguredRemote{}
	var creator remote.Creator = unconfiguredRemote{}
	if cfg.RemoteConfigured() {
		client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token)
		client.HTTP = &http.Client{Timeout: cfg.Remote.Timeout}
		uploader, creator = client, client
	}

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithAttachmentsKey(cfg.Remote.AttachmentsKey),
	}
	routerOpts := []engine.RouterOption{engine.WithRouterLogger(logger)}
	if a.registry != nil {
		engineOpts = append(engineOpts, engine.WithValidator(a.registry))
		routerOpts = append(routerOpts, engine.WithRouterValidator(a.registry))
	}

	a.monitor = connectivity.NewMonitor(cfg.RemoteConfigured())
	a.engine = engine.New(a.store, uploader, creator, engineOpts...)
	a.router = engine.NewRouter(a.engine, a.store, a.monitor, routerOpts...)
	a.reporter, err = engine.NewReporter(ctx, a.engine, a.store)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load sync status", err)
	}
	return a, nil
}

// connSource is the one source feeding the monitor.
type connSource struct {
	kind string // "signal_file" or "tcp"
	run  func(ctx context.Context) error
	read func(ctx context.Context)
}

// connectivitySource returns the configured source, or nil when there is
// none. A signal file takes precedence over a TCP address.
func (a *app) connectivitySource() *connSource {
	path, addr := a.cfg.Connectivity.SignalFile, a.cfg.Connectivity.ProbeAddress
	switch {
	case path != "":
		if addr != "" {
			a.logger.Warn("tcp address ignored, signal file takes precedence", "signal_file", path, "address", addr)
		}
		signal := connectivity.NewFileSignal(path, a.monitor, a.logger)
		return &connSource{
			kind: "signal_file",
			run:  signal.Run,
			read: func(context.Context) {
				if err := signal.Poll(); err != nil {
					a.logger.Warn("connectivity status unreadable", "path", path, "error", err)
				}
			},
		}
	case addr != "":
		prober := a.prober(addr)
		return &connSource{
			kind: "tcp",
			run:  prober.Run,
			read: func(ctx context.Context) { prober.ProbeOnce(ctx) },
		}
	default:
		return nil
	}
}

// refreshConnectivity takes one reading from the configured source. With
// none configured the monitor keeps its initial state.
func (a *app) refreshConnectivity(ctx context.Context) {
	if !a.cfg.RemoteConfigured() {
		return
	}
	if src := a.connectivitySource(); src != nil {
		src.read(ctx)
	}
}

func (a *app) prober(addr string) *connectivity.Prober {
	p := connectivity.NewProber(addr, a.monitor)
	p.Interval = a.cfg.Connectivity.ProbeInterval
	p.Timeout = a.cfg.Connectivity.ProbeTimeout
	p.Logger = a.logger
	return p
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// unconfiguredRemote fails every call as a network error so captures stay
// queued until a remote is configured.
type unconfiguredRemote struct{}

func (unconfiguredRemote) Upload(context.Context, []byte, string) (string, error) {
	return "", syncerr.New(syncerr.CodeNetwork, "remote.upload", "no remote configured")
}

func (unconfiguredRemote) Create(context.Context, string, map[string]any) (string, error) {
	return "", syncerr.New(syncerr.CodeNetwork, "remote.create", "no remote configured")
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or when parent
// is done.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
