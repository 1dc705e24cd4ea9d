package cli

import (
	"errors"
	"fmt"
	"maps"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/databind/internal/datasource"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// importCounts reports what an import changed.
type importCounts struct {
	Collection string `json:"collection"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Total      int    `json:"total"`
}

func newImportCmd() *cobra.Command {
	var collection string
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load a data file into a SQLite collection",
		Long: "Read a data file and sync its records into a SQLite collection through\n" +
			"a Data Source. Records whose id already exists update the stored\n" +
			"record; all others are created and get a new id.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readRecords(args[0])
			if err != nil {
				return userError(err)
			}
			c := cfg
			c.Transport = types.TransportSQLite
			if collection != "" {
				c.Collection = collection
			}
			counts, err := importRecords(cmd, c, records)
			if err != nil {
				return err
			}
			if flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), counts)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records into %s (%d created, %d updated, %d total)\n",
				counts.Created+counts.Updated, counts.Collection, counts.Created, counts.Updated, counts.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "target collection (default: collection from config)")
	return cmd
}

func importRecords(cmd *cobra.Command, c types.Config, records []map[string]any) (importCounts, error) {
	counts := importCounts{Collection: c.Collection}
	s, err := openSession(c)
	if err != nil {
		return counts, sysError(err)
	}
	defer s.Close()

	opts, err := dataSourceOptions(c, bind, s.transport)
	if err != nil {
		return counts, userError(err)
	}
	opts.PageSize, opts.Server = 0, types.ServerOptions{}
	ds, err := datasource.New(opts)
	if err != nil {
		return counts, userError(err)
	}
	ctx := cmd.Context()
	if err := ds.Read(ctx, nil); err != nil {
		return counts, sysError(err)
	}

	idField := ds.Model().IDField()
	for _, rec := range records {
		if id := rec[idField]; id != nil {
			if existing := ds.Get(id); existing != nil {
				for field, v := range rec {
					if field != idField {
						existing.Set(field, v)
					}
				}
				continue
			}
		}
		fresh := maps.Clone(rec)
		delete(fresh, idField)
		ds.Add(fresh)
	}
	counts.Created, counts.Updated = len(ds.Created()), len(ds.Updated())

	if err := ds.Sync(ctx); err != nil {
		var se *types.SyncError
		if errors.As(err, &se) {
			return counts, userError(err)
		}
		return counts, sysError(err)
	}
	if err := s.Close(); err != nil {
		return counts, sysError(err)
	}
	counts.Total = ds.Total()
	return counts, nil
}
