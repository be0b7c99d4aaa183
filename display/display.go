// Package display renders pipeline state for the terminal.
package display

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/sysprov/pvm/cfg"
	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/ingest"
	"github.com/sysprov/pvm/view"
)

// Catalog writes a human-readable listing of the view catalog: name,
// description, and parameter schema per view type.
func Catalog(w io.Writer, descs []view.Descriptor) {
	if len(descs) == 0 {
		fmt.Fprintln(w, "No views available")
		return
	}
	for _, d := range descs {
		fmt.Fprintf(w, "%s  %s\n", pterm.LightCyan(d.Name), d.Description)
		for _, p := range d.Params {
			required := ""
			if p.Required {
				required = pterm.Red(" (required)")
			}
			fmt.Fprintf(w, "    %s%s  %s\n", pterm.Green(p.Key), required, p.Description)
		}
	}
}

type catalogEntry struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Params      []catalogParam `json:"params,omitempty"`
}

type catalogParam struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// CatalogJSON writes the catalog as indented JSON for scripted consumers.
func CatalogJSON(w io.Writer, descs []view.Descriptor) error {
	entries := make([]catalogEntry, 0, len(descs))
	for _, d := range descs {
		e := catalogEntry{Name: d.Name, Description: d.Description}
		for _, p := range d.Params {
			e.Params = append(e.Params, catalogParam{
				Key:         p.Key,
				Description: p.Description,
				Required:    p.Required,
			})
		}
		entries = append(entries, e)
	}

	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding catalog")
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}

// ConfigSummary writes the resolved configuration so operators can confirm
// what a run will actually use.
func ConfigSummary(w io.Writer, c cfg.Config) {
	fmt.Fprintf(w, "%s  mode=%s workers=%d strict=%t\n",
		pterm.LightCyan("config"), c.Mode, c.Workers, c.StrictMode)
	if c.PluginPath != "" {
		fmt.Fprintf(w, "    plugin_path=%s\n", c.PluginPath)
	}
	if c.Persistence != nil {
		fmt.Fprintf(w, "    persistence=%s namespace=%s\n",
			c.Persistence.Target, c.Persistence.Namespace)
	} else {
		fmt.Fprintln(w, "    persistence=none")
	}
	if c.SuppressDefaultViews {
		fmt.Fprintln(w, "    default views suppressed")
	}
}

// IngestSummary writes the outcome of one ingestion run.
func IngestSummary(w io.Writer, stats ingest.Stats, processes int) {
	fmt.Fprintf(w, "✅ Applied %s events, %s processes in graph\n",
		pterm.Green(fmt.Sprintf("%d", stats.Applied)),
		pterm.Green(fmt.Sprintf("%d", processes)),
	)
	if stats.Corrupt > 0 {
		fmt.Fprintf(w, "⚠️  Skipped %s corrupt records\n",
			pterm.Yellow(fmt.Sprintf("%d", stats.Corrupt)))
	}
	for name, count := range stats.Unhandled {
		fmt.Fprintf(w, "   %s unmapped records of type %s\n",
			pterm.Gray(fmt.Sprintf("%d", count)), pterm.Gray(name))
	}
}

// InstanceList writes the active view instances with their status.
func InstanceList(w io.Writer, insts []*view.Instance) {
	if len(insts) == 0 {
		fmt.Fprintln(w, "No active view instances")
		return
	}
	for _, inst := range insts {
		st := inst.Status()
		line := fmt.Sprintf("[%d] %s  %s", inst.ID(), inst.Descriptor().Name, st.State)
		if st.Err != nil {
			line += "  " + pterm.Red(st.Err.Error())
		}
		fmt.Fprintln(w, line)
	}
}
