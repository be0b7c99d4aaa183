// Package commands holds the pvm CLI command implementations.
package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/sysprov/pvm/cfg"
	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/view"
)

// loadConfig resolves configuration from the optional --config file plus
// environment variables.
func loadConfig(cmd *cobra.Command) (cfg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return cfg.LoadFromFile(path)
	}
	return cfg.Load()
}

// parseViewParams groups repeated --param values of the form
// "View.key=value" by view name.
func parseViewParams(raw []string) (map[string]view.Params, error) {
	out := make(map[string]view.Params)
	for _, item := range raw {
		eq := strings.Index(item, "=")
		if eq < 0 {
			return nil, errors.Wrapf(errors.ErrInvalidArgument,
				"parameter %q is not of the form View.key=value", item)
		}
		dot := strings.Index(item[:eq], ".")
		if dot < 1 {
			return nil, errors.Wrapf(errors.ErrInvalidArgument,
				"parameter %q is not of the form View.key=value", item)
		}
		name, key, value := item[:dot], item[dot+1:eq], item[eq+1:]
		if out[name] == nil {
			out[name] = view.Params{}
		}
		out[name][key] = value
	}
	return out, nil
}
