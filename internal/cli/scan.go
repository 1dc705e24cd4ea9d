package cli

import (
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/databind/internal/buffer"
	"github.com/mesh-intelligence/databind/internal/datasource"
	"github.com/mesh-intelligence/databind/internal/observable"
)

type scanFlags struct {
	query    queryFlags
	viewSize int
	batch    int
	limit    int
	pageSize int
}

func newScanCmd() *cobra.Command {
	var sf scanFlags
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Walk the whole collection through a window buffer",
		Long: "Page through the configured collection with server paging, the way a\n" +
			"virtualized list would: records are pulled by index through a window\n" +
			"buffer that prefetches the next page. --batch reads fixed-size blocks.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, &sf)
		},
	}
	sf.query.register(cmd, false)
	f := cmd.Flags()
	f.IntVar(&sf.viewSize, "view-size", 0, "records in the window (default: half a page)")
	f.IntVar(&sf.batch, "batch", 0, "read blocks of this many records")
	f.IntVar(&sf.limit, "limit", 0, "stop after this many records (0 for all)")
	f.IntVar(&sf.pageSize, "page-size", 0, "page size (default: page_size from config)")
	return cmd
}

func runScan(cmd *cobra.Command, sf *scanFlags) error {
	q, err := sf.query.build()
	if err != nil {
		return userError(err)
	}
	c := cfg
	s, err := openSession(c)
	if err != nil {
		return sysError(err)
	}
	defer s.Close()

	opts, err := dataSourceOptions(c, bind, s.transport)
	if err != nil {
		return userError(err)
	}
	if sf.pageSize > 0 {
		opts.PageSize = sf.pageSize
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	// A paged scan must sort and filter across pages, not within one.
	opts.Server.Paging = true
	opts.Server.Sorting = opts.Server.Sorting || len(q.Sort) > 0
	opts.Server.Filtering = opts.Server.Filtering || q.Filter != nil
	opts.Sort, opts.Filter = q.Sort, q.Filter
	ds, err := datasource.New(opts)
	if err != nil {
		return userError(err)
	}
	if err := ds.Read(cmd.Context(), nil); err != nil {
		return sysError(err)
	}

	viewSize := sf.viewSize
	if viewSize <= 0 {
		viewSize = max(opts.PageSize/2, 1)
	}
	w := &scanWriter{out: cmd.OutOrStdout(), limit: sf.limit}
	if sf.batch > 0 {
		err = scanBatches(ds, sf.batch, w)
	} else {
		err = scanRecords(ds, viewSize, w)
	}
	if err != nil {
		return sysError(err)
	}
	if flags.jsonMode {
		return printJSON(cmd.OutOrStdout(), listing{Data: w.items, Total: ds.Total()})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "total: %d\n", ds.Total())
	return nil
}

// scanWriter prints records as they are scanned, or collects them for a
// single JSON document.
type scanWriter struct {
	out   io.Writer
	limit int
	n     int
	items []any
}

func (w *scanWriter) full() bool { return w.limit > 0 && w.n >= w.limit }

func (w *scanWriter) write(item any) error {
	w.n++
	item = plain(item)
	if flags.jsonMode {
		w.items = append(w.items, item)
		return nil
	}
	return printItems(w.out, []any{item}, 0)
}

func scanRecords(ds *datasource.DataSource, viewSize int, w *scanWriter) error {
	b := buffer.New(ds, buffer.Options{ViewSize: viewSize})
	defer b.Close()
	b.Bind(buffer.EventPrefetching, func(e *observable.Event) {
		glog.V(2).Infof("scan prefetching %d+%d", e.Skip, e.Take)
	})

	for i := 0; i < ds.Total() && !w.full(); i++ {
		item, ok := b.At(i)
		if !ok {
			ds.Wait()
			if item, ok = b.At(i); !ok {
				return fmt.Errorf("record %d did not load", i)
			}
		}
		if err := w.write(item); err != nil {
			return err
		}
	}
	return nil
}

func scanBatches(ds *datasource.DataSource, size int, w *scanWriter) error {
	bb := buffer.NewBatch(ds, size)
	defer bb.Close()

	for i := 0; !w.full(); i++ {
		batch := bb.At(i)
		if len(batch) == 0 {
			return nil
		}
		for _, item := range batch {
			if w.full() {
				return nil
			}
			if err := w.write(item); err != nil {
				return err
			}
		}
		if len(batch) < size && (i+1)*size < ds.Total() {
			return fmt.Errorf("batch %d is short", i)
		}
	}
	return nil
}
