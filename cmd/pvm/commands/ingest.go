package commands

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sysprov/pvm/display"
	"github.com/sysprov/pvm/engine"
	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/ingest/cadets"
	"github.com/sysprov/pvm/logger"
)

// stdinPath is the reserved path argument selecting standard input.
const stdinPath = "-"

// IngestCmd represents the ingest command
var IngestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Ingest a CADETS audit trace into the provenance graph",
	Long: `Ingest a CADETS JSON audit trace, building the provenance graph and
feeding every activated view. Pass "-" as the path to read the trace from
standard input. Views are activated before ingestion with --view and
parameterized with --param View.key=value.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	IngestCmd.Flags().StringArrayP("view", "w", nil, "Activate a view type before ingestion (repeatable)")
	IngestCmd.Flags().StringArrayP("param", "p", nil, "View parameter as View.key=value (repeatable)")
	IngestCmd.Flags().Bool("no-default-views", false, "Skip the builtin view types and the default persistence view")
	IngestCmd.Flags().Bool("show-config", false, "Print the resolved configuration before ingesting")
}

func runIngest(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if noDefaults, _ := cmd.Flags().GetBool("no-default-views"); noDefaults {
		c.SuppressDefaultViews = true
	}
	if show, _ := cmd.Flags().GetBool("show-config"); show {
		display.ConfigSummary(cmd.OutOrStdout(), c)
	}

	e, err := engine.New(c, logger.Logger)
	if err != nil {
		return err
	}
	defer e.Cleanup()

	viewNames, _ := cmd.Flags().GetStringArray("view")
	rawParams, _ := cmd.Flags().GetStringArray("param")
	params, err := parseViewParams(rawParams)
	if err != nil {
		return err
	}
	for name := range params {
		found := false
		for _, vn := range viewNames {
			if vn == name {
				found = true
				break
			}
		}
		if !found {
			return errors.Wrapf(errors.ErrInvalidArgument,
				"parameters supplied for view %q, which was not activated with --view", name)
		}
	}
	for _, name := range viewNames {
		if _, err := e.CreateViewByName(name, params[name]); err != nil {
			return err
		}
	}

	if err := e.Start(cmd.Context()); err != nil {
		return err
	}

	var in io.Reader
	if args[0] == stdinPath {
		in = cmd.InOrStdin()
	} else {
		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "opening trace %s", args[0])
		}
		defer f.Close()
		in = f
	}

	stats, ingestErr := e.IngestStream(cmd.Context(), in, cadets.NewDecoder)

	// Views flush even when the stream failed partway.
	if err := e.Shutdown(); err != nil {
		return err
	}
	if ingestErr != nil {
		return ingestErr
	}

	processes, err := e.CountProcesses()
	if err != nil {
		return err
	}
	display.IngestSummary(cmd.OutOrStdout(), stats, processes)

	insts, err := e.ListViewInstances()
	if err != nil {
		return err
	}
	for _, inst := range insts {
		if st := inst.Status(); st.Err != nil {
			return errors.Wrapf(st.Err, "view %s failed", inst.Descriptor().Name)
		}
	}
	return nil
}
