// Command entityd is the host-resident topology and telemetry agent: it
// runs the collection cycle against whichever collector plugins are
// compiled in, and streams the resulting entities out over the
// configured transport.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/cobeio/entityd-sub000/internal/config"
	"github.com/cobeio/entityd-sub000/internal/dot"
	"github.com/cobeio/entityd-sub000/internal/health"
	"github.com/cobeio/entityd-sub000/internal/hookspec"
	"github.com/cobeio/entityd-sub000/internal/kvstore"
	"github.com/cobeio/entityd-sub000/internal/monitor"
	"github.com/cobeio/entityd-sub000/internal/pm"
	"github.com/cobeio/entityd-sub000/internal/sender"
	"github.com/cobeio/entityd-sub000/plugins/declentity"
	"github.com/cobeio/entityd-sub000/plugins/docker"
	"github.com/cobeio/entityd-sub000/plugins/host"
	"github.com/cobeio/entityd-sub000/plugins/kubernetes"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseArgs(os.Args[1:])
	if err != nil {
		if config.ErrVersionRequested(err) {
			fmt.Println("entityd (dev build)")
			return 0
		}
		fmt.Fprintln(os.Stderr, "entityd:", err)
		return 1
	}

	log := newLogger(cfg.LogLevel)

	sess, err := config.New(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		return 1
	}
	mgr := sess.PluginManager

	store, err := kvstore.Open(cfg.Database)
	if err != nil {
		log.Error().Err(err).Msg("failed to open key-value store")
		return 1
	}
	defer store.Close()
	sess.AddService("kvstore", store)

	mon := monitor.New(mgr, store, cfg, log)
	if err := registerPlugins(mgr, cfg, log, store, mon); err != nil {
		log.Error().Err(err).Msg("plugin registration failed")
		return 1
	}
	sess.AddService("monitor", mon)

	checker := health.New(".")
	defer checker.Die()

	var interrupted atomic.Bool
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Warn().Str("signal", sig.String()).Msg("shutting down")
		interrupted.Store(true)
		sess.Shutdown()
	}()

	if err := hookspec.CallSessionStart(mgr, sess); err != nil {
		log.Error().Err(err).Msg("entityd_sessionstart failed")
		return 1
	}
	if err := checker.Heartbeat(); err != nil {
		log.Warn().Err(err).Msg("could not write health marker")
	}

	if err := sess.Run(mon); err != nil {
		log.Error().Err(err).Msg("run loop exited with error")
		return 1
	}

	if interrupted.Load() {
		return 130
	}
	return 0
}

// registerPlugins wires every core and example collector plugin into mgr,
// skipping any whose name matches a --disable pattern.
func registerPlugins(mgr *pm.Manager, cfg *config.Config, log zerolog.Logger, store *kvstore.Store, mon *monitor.Monitor) error {
	register := func(name string, fn func() (*pm.Plugin, error)) error {
		if cfg.Disabled(name) {
			log.Info().Str("plugin", name).Msg("disabled by configuration")
			return nil
		}
		_, err := fn()
		if err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
		return nil
	}

	if err := register("monitor", func() (*pm.Plugin, error) { return mon.Register(mgr, "monitor") }); err != nil {
		return err
	}

	snd := sender.New(sender.Config{
		Dest:                    cfg.Dest,
		KeyDir:                  cfg.KeyDir,
		StreamOptimise:          cfg.StreamOptimise,
		StreamOptimiseFrequency: cfg.StreamOptimiseFrequency,
	}, log)
	if err := register("sender", func() (*pm.Plugin, error) { return snd.Register(mgr, "sender") }); err != nil {
		return err
	}

	exporter := dot.New(cfg.DotPath, cfg.DotForeign, cfg.DotPretty, log)
	if err := register("dot", func() (*pm.Plugin, error) {
		return hookspec.RegisterCollectionObserver(mgr, "dot", exporter, hookspec.RegisterOpts{})
	}); err != nil {
		return err
	}

	hostPlugin := host.New(store)
	if err := register("host", func() (*pm.Plugin, error) {
		if err := cfg.AddEntity("Host", "host"); err != nil {
			return nil, err
		}
		return hookspec.RegisterFindEntity(mgr, "host", hostPlugin, hookspec.RegisterOpts{})
	}); err != nil {
		return err
	}

	dockerPlugin := docker.New()
	if err := register("docker", func() (*pm.Plugin, error) {
		return hookspec.RegisterEntityEmitter(mgr, "docker", dockerPlugin, hookspec.RegisterOpts{})
	}); err != nil {
		return err
	}

	k8sPlugin := kubernetes.New("", "")
	if err := register("kubernetes", func() (*pm.Plugin, error) {
		return hookspec.RegisterEntityEmitter(mgr, "kubernetes", k8sPlugin, hookspec.RegisterOpts{})
	}); err != nil {
		return err
	}

	if cfg.DeclEntityDir != "" {
		decl := declentity.New(cfg.DeclEntityDir, mgr, store)
		if err := register("declentity", func() (*pm.Plugin, error) { return decl.Register(mgr, "declentity") }); err != nil {
			return err
		}
	}

	return nil
}

// newLogger builds a zerolog.Logger matching the agent's --log-level
// convention (10=DEBUG .. 50=CRIT), writing pretty console output since
// this is the interactive entrypoint.
func newLogger(level int) zerolog.Logger {
	zerolog.SetGlobalLevel(zerologLevel(level))
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("service", "entityd").Logger()
}

func zerologLevel(level int) zerolog.Level {
	switch {
	case level <= 10:
		return zerolog.DebugLevel
	case level <= 20:
		return zerolog.InfoLevel
	case level <= 30:
		return zerolog.WarnLevel
	case level <= 40:
		return zerolog.ErrorLevel
	default:
		return zerolog.FatalLevel
	}
}
