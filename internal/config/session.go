package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cobeio/entityd-sub000/internal/hookspec"
	"github.com/cobeio/entityd-sub000/internal/pm"
)

// Session is created once per run. It owns the plugin manager, the parsed
// Config, the shutdown signal and a registry of named services that core
// plugins publish (kvstore, monitor) for others to look up.
type Session struct {
	PluginManager *pm.Manager
	Config        *Config
	Log           zerolog.Logger

	mu       sync.RWMutex
	services map[string]interface{}

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New creates a Session bound to cfg, with hook definitions installed and
// the plugin-registered hook wired to entityd_plugin_registered.
func New(cfg *Config, log zerolog.Logger) (*Session, error) {
	mgr := pm.New(log)
	if err := hookspec.AddHookDefs(mgr); err != nil {
		return nil, fmt.Errorf("installing hook definitions: %w", err)
	}
	s := &Session{
		PluginManager: mgr,
		Config:        cfg,
		Log:           log,
		services:      make(map[string]interface{}),
		shutdownCh:    make(chan struct{}),
	}
	mgr.SetRegisterCallback(func(p *pm.Plugin) {
		if err := hookspec.CallPluginRegistered(mgr, p.Name); err != nil {
			log.Warn().Err(err).Str("plugin", p.Name).Msg("entityd_plugin_registered failed")
		}
	})
	return s, nil
}

// AddService publishes obj under name for later lookup via Service.
func (s *Session) AddService(name string, obj interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[name] = obj
}

// Service looks up a previously published service by name.
func (s *Session) Service(name string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.services[name]
	return obj, ok
}

// Shutdown signals the run loop to stop after the current collection
// cycle finishes. Safe to call more than once and from a signal handler.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// Done returns the channel that closes when Shutdown has been called.
func (s *Session) Done() <-chan struct{} {
	return s.shutdownCh
}

// Collector is implemented by whatever owns the collection cycle (the
// monitor plugin); Session.Run only knows how to call it on a schedule.
type Collector interface {
	CollectEntities() error
}

// Run drives the fixed 60-second collection loop until Shutdown is
// called: collect, then sleep until the next tick or shutdown. Cycles
// never overlap — if a cycle overruns the period, the next one starts
// immediately rather than stacking up. On return, entityd_sessionfinish
// has already been dispatched so plugins can persist final state.
func (s *Session) Run(collector Collector) error {
	for {
		cycleStart := time.Now()
		if err := collector.CollectEntities(); err != nil {
			s.Log.Error().Err(err).Msg("collection cycle failed")
		}

		elapsed := time.Since(cycleStart)
		wait := CollectPeriod - elapsed
		if wait < 0 {
			wait = 0
		}

		select {
		case <-s.shutdownCh:
			return s.finish()
		case <-time.After(wait):
		}

		select {
		case <-s.shutdownCh:
			return s.finish()
		default:
		}
	}
}

func (s *Session) finish() error {
	return hookspec.CallSessionFinish(s.PluginManager)
}
