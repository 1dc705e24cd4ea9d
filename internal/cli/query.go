package cli

import (
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/databind/internal/query"
)

func newQueryCmd() *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "query FILE",
		Short: "Filter, sort, group, aggregate and page a data file",
		Long: "Run the query engine over the records of a .json, .jsonl, .yaml or .toml file.\n" +
			"Nothing is stored; the result is printed.",
		Example: "  databind query products.json --filter price:gte:10 --sort name --take 5\n" +
			"  databind query products.toml --group category --aggregate price:sum",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := qf.build()
			if err != nil {
				return userError(err)
			}
			records, err := readRecords(args[0])
			if err != nil {
				return userError(err)
			}
			res, err := query.Process(asItems(records), q)
			if err != nil {
				return userError(err)
			}
			return printListing(cmd.OutOrStdout(), listing{
				Data:       res.Data,
				Total:      res.Total,
				Aggregates: res.Aggregates,
			})
		},
	}
	qf.register(cmd, true)
	return cmd
}
