// Package sender implements the emission pipeline: encoding an EntityUpdate
// to its wire payload, optionally trimming it to only the attributes that
// changed since the last send, and handing the result to a bounded,
// fire-and-forget transport.
package sender

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cobeio/entityd-sub000/internal/entity"
	"github.com/cobeio/entityd-sub000/internal/entityerr"
	"github.com/cobeio/entityd-sub000/internal/hookspec"
	"github.com/cobeio/entityd-sub000/internal/pm"
)

// Subject is the NATS subject entities are published to.
const Subject = "entityd.streamapi.v5"

// Config is what the sender needs at session start.
type Config struct {
	Dest                    string
	KeyDir                  string
	StreamOptimise          bool
	StreamOptimiseFrequency int
}

// Sender is the entityd_send_entity plugin.
type Sender struct {
	log     zerolog.Logger
	dest    string
	keyDir  string
	subject string

	optimiser *optimiser
	transport *Transport
}

// New creates a Sender that connects lazily on SessionStart.
func New(cfg Config, log zerolog.Logger) *Sender {
	return &Sender{
		log:       log.With().Str("component", "sender").Logger(),
		dest:      cfg.Dest,
		keyDir:    cfg.KeyDir,
		subject:   Subject,
		optimiser: newOptimiser(cfg.StreamOptimise, cfg.StreamOptimiseFrequency),
	}
}

// Register installs the sender as a plugin, contributing the send-entity,
// session-start and session-finish hooks under one identity.
func (s *Sender) Register(mgr *pm.Manager, name string) (*pm.Plugin, error) {
	specs := []pm.HookImplSpec{
		{
			Hook:   hookspec.SendEntity,
			Params: []string{"entity"},
			Fn: func(args pm.Args) (interface{}, error) {
				e, _ := args["entity"].(*entity.Update)
				return nil, s.SendEntity(e)
			},
		},
		{
			Hook: hookspec.SessionStart,
			Fn: func(pm.Args) (interface{}, error) {
				return nil, s.SessionStart()
			},
		},
		{
			Hook: hookspec.SessionFinish,
			Fn: func(pm.Args) (interface{}, error) {
				return nil, s.SessionFinish()
			},
		},
	}
	return mgr.Register(name, s, specs)
}

// SessionStart opens the transport connection. An empty keyDir connects
// without NKey authentication, for local or unauthenticated destinations.
func (s *Sender) SessionStart() error {
	var keys *Keys
	if s.keyDir != "" {
		k, err := LoadKeys(s.keyDir)
		if err != nil {
			return err
		}
		keys = k
	}
	t, err := Connect(s.dest, s.subject, keys, s.log)
	if err != nil {
		return err
	}
	s.transport = t
	return nil
}

// SessionFinish closes the transport, allowing its linger period to drain
// any buffered messages before the connection is torn down.
func (s *Sender) SessionFinish() error {
	if s.transport == nil {
		return nil
	}
	err := s.transport.Close()
	s.transport = nil
	return err
}

// SendEntity encodes e, applying delta optimisation unconditionally (the
// optimiser itself no-ops when disabled), and hands the wire payload to
// the transport. The transport never blocks or reports delivery failure
// synchronously — it owns its own drop-on-full backpressure.
func (s *Sender) SendEntity(e *entity.Update) error {
	if e == nil {
		return nil
	}
	send := s.optimiser.apply(e)
	payload, err := encodeEntity(e, send)
	if err != nil {
		return fmt.Errorf("%w: encoding entity %s: %v", entityerr.ErrSerialization, e.UEID(), err)
	}
	if s.transport == nil {
		return fmt.Errorf("%w: sender not connected", entityerr.ErrTransport)
	}
	s.transport.Send(payload)
	return nil
}
