// Package cfg resolves pipeline configuration.
//
// Configuration is assembled from defaults, an optional TOML file, and
// PVM_-prefixed environment variables, then validated into an immutable
// Config. Resolution is pure: no shared state is touched until an engine is
// constructed from the result.
package cfg

import (
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/sysprov/pvm/errors"
)

// Mode selects how much of the pipeline is tuned automatically.
type Mode string

const (
	// ModeAuto derives worker counts and buffer sizes from the host
	ModeAuto Mode = "auto"
	// ModeManual uses the explicitly configured values
	ModeManual Mode = "manual"
)

// Persistence describes a configured durable graph backend. A nil
// *Persistence on Config means no backend: the engine uses the null adapter.
type Persistence struct {
	// Target is the backend location, e.g. a SQLite database path
	Target string `mapstructure:"target"`
	// Principal and Secret are the backend credentials, if any
	Principal string `mapstructure:"principal"`
	Secret    string `mapstructure:"secret"`
	// Namespace isolates this pipeline's entities within a shared backend
	Namespace string `mapstructure:"namespace"`
}

// Config is the resolved pipeline configuration. Immutable once returned by
// Resolve; the engine copies what it needs at construction time.
type Config struct {
	Mode       Mode   `mapstructure:"mode"`
	PluginPath string `mapstructure:"plugin_path"`

	Persistence *Persistence `mapstructure:"persistence"`

	// StrictMode turns degradable failures (unreachable backend, malformed
	// plugin descriptors) into fatal errors.
	StrictMode bool `mapstructure:"strict_mode"`

	// SuppressDefaultViews skips registration of the builtin view types and
	// activation of the default persistence view at pipeline start.
	SuppressDefaultViews bool `mapstructure:"suppress_default_views"`

	// Workers is the view delivery worker count. Zero in auto mode means
	// detect from the host CPU count.
	Workers int `mapstructure:"workers"`

	// Reserved is kept for wire compatibility with older callers.
	Reserved int `mapstructure:"reserved"`
}

// Validate checks structural validity. Returns errors wrapping ErrConfig so
// callers can test the class with errors.Is.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAuto, ModeManual:
	case "":
		return errors.Wrap(errors.ErrConfig, "mode is required")
	default:
		return errors.Wrapf(errors.ErrConfig, "unrecognized mode %q", c.Mode)
	}

	if c.Mode == ModeManual && c.Workers <= 0 {
		return errors.Wrap(errors.ErrConfig, "manual mode requires a positive worker count")
	}
	if c.Workers < 0 {
		return errors.Wrapf(errors.ErrConfig, "negative worker count %d", c.Workers)
	}

	if c.Persistence != nil && c.Persistence.Target == "" {
		return errors.Wrap(errors.ErrConfig, "persistence configured without a target")
	}
	if c.Persistence != nil && c.Persistence.Secret != "" && c.Persistence.Principal == "" {
		return errors.Wrap(errors.ErrConfig, "persistence secret supplied without a principal")
	}

	return nil
}

// Resolve validates the config and fills in auto-detected values. The
// receiver is not modified; the returned Config is the immutable result.
func (c Config) Resolve() (Config, error) {
	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	if c.Mode == ModeAuto && c.Workers == 0 {
		n, err := cpu.Counts(true)
		if err != nil || n < 1 {
			// Host detection is best-effort; a single worker is always safe.
			n = 1
		}
		c.Workers = n
	}

	return c, nil
}
