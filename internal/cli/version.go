package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/databind/pkg/databind"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the databind version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version": databind.Version,
					"module":  databind.ModulePath,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "databind v%s\nmodule: %s\n", databind.Version, databind.ModulePath)
			return nil
		},
	}
}
