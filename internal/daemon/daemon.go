package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Fullex26/autowatch/internal/analysers"
	"github.com/Fullex26/autowatch/internal/autowatch"
	"github.com/Fullex26/autowatch/internal/config"
	"github.com/Fullex26/autowatch/internal/eventbus"
	"github.com/Fullex26/autowatch/internal/jira"
	"github.com/Fullex26/autowatch/internal/registration"
	"github.com/Fullex26/autowatch/internal/server"
	"github.com/Fullex26/autowatch/internal/store"
)

// Version is set at build time via ldflags: -X github.com/Fullex26/autowatch/internal/daemon.Version=<tag>
var Version = "dev"

// activityRetentionDays bounds the activity journal
const activityRetentionDays = 30

// Daemon is the main autowatch process
type Daemon struct {
	cfg      *config.Config
	bus      *eventbus.Bus
	store    *store.Store
	registry autowatch.WatcherRegistry
	shim     *registration.Shim
	dedup    *analysers.Deduplicator
	server   *server.Server
}

// New creates a new daemon instance
func New(cfg *config.Config) (*Daemon, error) {
	// Open the journal (and local watcher registry)
	if err := os.MkdirAll(filepath.Dir(cfg.Registry.DBPath), 0750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := store.Open(cfg.Registry.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	d := &Daemon{
		cfg:   cfg,
		bus:   eventbus.New(),
		store: db,
		dedup: analysers.NewDeduplicator(config.Duration(cfg.Dedup.Cooldown, 10*time.Minute)),
	}

	if cfg.UsesJira() {
		d.registry = jira.NewClient(cfg.Jira)
	} else {
		d.registry = db
	}

	// The host table builds the listener on demand from its implementation id
	d.bus.RegisterFactory(autowatch.ImplementationID, func(params map[string]string) (eventbus.Listener, error) {
		l := autowatch.NewListener(d.registry, d.store)
		l.Init(params)
		r := l.Rule()
		slog.Info("autowatch listener created",
			"include", r.Include(),
			"exclude", r.Exclude(),
		)
		return l, nil
	})
	d.bus.SetParams(cfg.Listener.Name, cfg.Listener.Params())

	d.shim = registration.New(d.bus, cfg.Listener.Name, autowatch.ImplementationID)

	d.server, err = server.New(server.Config{
		ListenAddr:   cfg.Server.ListenAddr,
		Secret:       cfg.Server.Secret,
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout, 30*time.Second),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout, 30*time.Second),
	}, d.bus, d.dedup, d.shim)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating server: %w", err)
	}

	return d, nil
}

// Shim exposes the registration shim, mainly for tests
func (d *Daemon) Shim() *registration.Shim { return d.shim }

// Bus exposes the listener table, mainly for tests
func (d *Daemon) Bus() *eventbus.Bus { return d.bus }

// Start enables the plugin and completes host startup, which registers the
// listener. The enable call comes first and is a no-op, as with a host that
// loads plugins before it has finished starting.
func (d *Daemon) Start() {
	d.shim.OnPluginEnable()
	d.shim.OnHostStartup()
	d.saveListenerState()
}

// Stop disables the plugin and closes the store
func (d *Daemon) Stop() error {
	d.shim.OnPluginDisable()
	d.saveListenerState()
	return d.store.Close()
}

// saveListenerState records the shim state for `autowatch status`
func (d *Daemon) saveListenerState() {
	if err := d.store.SetState(store.KeyListenerState, d.shim.State().String()); err != nil {
		slog.Warn("failed to save listener state", "error", err)
	}
}

// Run starts the daemon and blocks until interrupted
func (d *Daemon) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Register before accepting webhooks so no delivery arrives with nobody listening
	d.Start()

	var wg sync.WaitGroup
	srvErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.server.Start(ctx); err != nil {
			srvErr <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.runCleanup(ctx)
	}()

	backend := "sqlite"
	if d.cfg.UsesJira() {
		backend = "jira"
	}
	slog.Info("autowatch started",
		"version", Version,
		"listener", d.cfg.Listener.Name,
		"state", d.shim.State(),
		"registry", backend,
		"addr", d.cfg.Server.ListenAddr,
	)

	var runErr error
	select {
	case <-sigCh:
		slog.Info("shutting down...")
	case runErr = <-srvErr:
		slog.Error("webhook server failed", "error", runErr)
	}

	cancel()
	wg.Wait()

	if err := d.Stop(); err != nil {
		slog.Error("closing store", "error", err)
	}

	slog.Info("autowatch stopped")
	return runErr
}

func (d *Daemon) runCleanup(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.cleanup()
		}
	}
}

func (d *Daemon) cleanup() {
	d.dedup.Cleanup()

	pruned, err := d.store.Prune(activityRetentionDays)
	if err != nil {
		slog.Warn("failed to prune activity", "error", err)
	} else if pruned > 0 {
		slog.Info("pruned old activity", "count", pruned)
	}

	if err := d.store.SetState(store.KeyLastCleanup, time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("failed to save cleanup time", "error", err)
	}
}
