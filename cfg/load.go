package cfg

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/sysprov/pvm/errors"
)

// Defaults applied before any file or environment source is merged.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModeAuto))
	v.SetDefault("plugin_path", "")
	v.SetDefault("strict_mode", false)
	v.SetDefault("suppress_default_views", false)
	v.SetDefault("workers", 0)
	v.SetDefault("reserved", 0)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PVM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load resolves configuration from defaults and environment variables only.
func Load() (Config, error) {
	return LoadWithViper(newViper())
}

// LoadFromFile resolves configuration from a specific TOML file, layered
// over defaults and environment variables.
func LoadFromFile(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrapf(errors.ErrConfig, "reading config file %s: %v", path, err)
	}
	return LoadWithViper(v)
}

// LoadWithViper resolves configuration from a caller-prepared Viper
// instance. Used by the CLI to layer flag bindings on top of file and
// environment sources.
func LoadWithViper(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrapf(errors.ErrConfig, "unmarshaling config: %v", err)
	}

	// An empty persistence table means no backend, not a zero-value one.
	if c.Persistence != nil && c.Persistence.Target == "" &&
		c.Persistence.Principal == "" && c.Persistence.Namespace == "" {
		c.Persistence = nil
	}

	return c.Resolve()
}
