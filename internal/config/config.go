// Package config implements the agent's Config and Session: parsed CLI
// options, the entity-type-to-plugin registry, the plugin manager,
// shutdown signaling and the service registry plugins publish into.
package config

import (
	"flag"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cobeio/entityd-sub000/internal/entityerr"
)

// DotForeign controls how a DOT export renders UEIDs that only appear as
// a cross-cycle reference (a parent/child from a previous cycle that
// wasn't itself emitted this cycle).
type DotForeign string

const (
	DotForeignDefault   DotForeign = "default"
	DotForeignUEID      DotForeign = "ueid"
	DotForeignUEIDShort DotForeign = "ueid-short"
	DotForeignExclude   DotForeign = "exclude"
)

// CollectPeriod is the fixed interval between collection cycles. Per the
// design notes this is a hard-coded constant, not a CLI knob, until a
// configuration option is added deliberately.
const CollectPeriod = 60 * time.Second

// Config holds parsed CLI options and the live entity-type registry.
type Config struct {
	LogLevel   int
	Trace      bool
	Dest       string
	KeyDir     string
	Database   string
	DeclEntityDir string
	DotPath    string
	DotForeign DotForeign
	DotPretty  bool

	StreamOptimise          bool
	StreamOptimiseFrequency int

	Disable []string

	entities map[string]string
}

// New returns a Config with defaults matching the documented CLI flags.
func New() *Config {
	return &Config{
		LogLevel:                30,
		Dest:                    "nats://127.0.0.1:4222",
		Database:                "entityd.db",
		DotForeign:              DotForeignDefault,
		StreamOptimiseFrequency: 1,
		entities:                make(map[string]string),
	}
}

// AddEntity registers plugin as responsible for entity type name.
// Registering a type twice fails.
func (c *Config) AddEntity(name, plugin string) error {
	if _, exists := c.entities[name]; exists {
		return fmt.Errorf("%w: entity type already registered: %s", entityerr.ErrConfiguration, name)
	}
	c.entities[name] = plugin
	return nil
}

// RemoveEntity deregisters a previously registered entity type.
func (c *Config) RemoveEntity(name string) {
	delete(c.entities, name)
}

// Entities returns the currently configured entity type names.
func (c *Config) Entities() []string {
	out := make([]string, 0, len(c.entities))
	for name := range c.entities {
		out = append(out, name)
	}
	return out
}

// PluginFor returns the plugin responsible for an entity type, if any.
func (c *Config) PluginFor(name string) (string, bool) {
	p, ok := c.entities[name]
	return p, ok
}

// Disabled reports whether pluginName (optionally "module:class") matches
// any of the --disable glob patterns.
func (c *Config) Disabled(pluginName string) bool {
	for _, pattern := range c.Disable {
		if ok, _ := filepath.Match(pattern, pluginName); ok {
			return true
		}
	}
	return false
}

// ParseArgs parses CLI arguments into a new Config. addOptions lets
// plugins contribute flags before parsing, mirroring entityd_addoption.
func ParseArgs(args []string, addOptions ...func(*flag.FlagSet)) (*Config, error) {
	cfg := New()
	fs := flag.NewFlagSet("entityd", flag.ContinueOnError)

	version := fs.Bool("version", false, "print version and exit")
	fs.IntVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level: 10=DEBUG 20=INFO 30=WARN 40=ERROR 50=CRIT")
	fs.IntVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: 10=DEBUG 20=INFO 30=WARN 40=ERROR 50=CRIT")
	fs.BoolVar(&cfg.Trace, "trace", cfg.Trace, "enable plugin manager trace output")
	fs.StringVar(&cfg.Dest, "dest", cfg.Dest, "sender destination address")
	fs.StringVar(&cfg.KeyDir, "key-dir", cfg.KeyDir, "key directory for authenticated transport")
	fs.StringVar(&cfg.Database, "database", cfg.Database, "key-value store location")
	fs.StringVar(&cfg.DeclEntityDir, "declentity-dir", cfg.DeclEntityDir, "directory of declarative entity files")
	fs.StringVar(&cfg.DotPath, "dot", cfg.DotPath, "write a DOT graph of each cycle here")
	dotForeign := fs.String("dot-foreign", string(cfg.DotForeign), "default|ueid|ueid-short|exclude")
	fs.BoolVar(&cfg.DotPretty, "dot-pretty", cfg.DotPretty, "indent DOT output")
	fs.BoolVar(&cfg.StreamOptimise, "stream-optimise", cfg.StreamOptimise, "enable attribute delta optimisation")
	fs.IntVar(&cfg.StreamOptimiseFrequency, "stream-optimise-frequency", cfg.StreamOptimiseFrequency, "cycles between full refreshes")

	var disable disableFlags
	fs.Var(&disable, "disable", "suppress matching plugins at startup (mod[:cls], glob allowed); repeatable")

	for _, add := range addOptions {
		add(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", entityerr.ErrConfiguration, err)
	}
	if *version {
		return nil, errVersionRequested
	}

	cfg.DotForeign = DotForeign(*dotForeign)
	switch cfg.DotForeign {
	case DotForeignDefault, DotForeignUEID, DotForeignUEIDShort, DotForeignExclude:
	default:
		return nil, fmt.Errorf("%w: invalid --dot-foreign value: %s", entityerr.ErrConfiguration, *dotForeign)
	}
	if cfg.StreamOptimiseFrequency < 1 {
		return nil, fmt.Errorf("%w: --stream-optimise-frequency must be >= 1", entityerr.ErrConfiguration)
	}
	cfg.Disable = disable

	return cfg, nil
}

// errVersionRequested signals that --version was given; main prints the
// version and exits 0 without treating this as a configuration failure.
var errVersionRequested = fmt.Errorf("version requested")

// ErrVersionRequested reports whether err is the --version sentinel.
func ErrVersionRequested(err error) bool {
	return err == errVersionRequested
}

// disableFlags implements flag.Value to collect repeatable --disable
// patterns into a slice.
type disableFlags []string

func (d *disableFlags) String() string {
	if d == nil {
		return ""
	}
	return fmt.Sprint([]string(*d))
}

func (d *disableFlags) Set(value string) error {
	*d = append(*d, value)
	return nil
}
