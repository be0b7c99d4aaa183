package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sysprov/pvm/cmd/pvm/commands"
	"github.com/sysprov/pvm/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pvm",
	Short: "pvm - Provenance graph pipeline",
	Long: `pvm - Provenance graph pipeline.

pvm ingests system audit traces, builds a causal provenance graph of
processes, files, and network endpoints, and exposes the graph to
pluggable views that derive output artifacts from it.

Available commands:
  ingest  - Ingest an audit trace and run the activated views
  views   - List the available view types
  version - Show version information

Examples:
  pvm views                                # List the view catalog
  pvm ingest trace.json                    # Ingest a trace file
  cat trace.json | pvm ingest -            # Ingest from standard input
  pvm ingest trace.json -w ProcTreeView \
      -p ProcTreeView.output=tree.json     # Ingest with a process tree view`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a TOML configuration file")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console output")

	rootCmd.AddCommand(commands.IngestCmd)
	rootCmd.AddCommand(commands.ViewsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
