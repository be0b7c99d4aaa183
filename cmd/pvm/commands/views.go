package commands

import (
	"github.com/spf13/cobra"

	"github.com/sysprov/pvm/display"
	"github.com/sysprov/pvm/engine"
	"github.com/sysprov/pvm/logger"
)

// ViewsCmd represents the views command
var ViewsCmd = &cobra.Command{
	Use:   "views",
	Short: "List the available view types",
	Long: `List every view type in the catalog: builtins plus any plugins
discovered on the configured plugin path, with their parameter schemas.`,
	RunE: runViews,
}

func init() {
	ViewsCmd.Flags().BoolP("json", "j", false, "Output the catalog as JSON")
}

func runViews(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	e, err := engine.New(c, logger.Logger)
	if err != nil {
		return err
	}
	defer e.Cleanup()

	descs, err := e.ListViewTypes()
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return display.CatalogJSON(cmd.OutOrStdout(), descs)
	}
	display.Catalog(cmd.OutOrStdout(), descs)
	return nil
}
