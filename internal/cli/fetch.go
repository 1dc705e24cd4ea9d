package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/databind/internal/datasource"
	"github.com/mesh-intelligence/databind/internal/observable"
	"github.com/mesh-intelligence/databind/internal/offline"
	"github.com/mesh-intelligence/databind/internal/paths"
	"github.com/mesh-intelligence/databind/internal/transport"
	"github.com/mesh-intelligence/databind/pkg/types"
)

type fetchFlags struct {
	query     queryFlags
	offline   bool
	noCache   bool
	follow    bool
	feedURL   string
	transport string
	endpoint  string
}

func newFetchCmd() *cobra.Command {
	var ff fetchFlags
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Read one page of the configured collection through a Data Source",
		Long: "Read through the configured transport with the configured server options.\n" +
			"The loaded page is kept in the offline cache under the data directory;\n" +
			"--offline serves the cached page without touching the transport.\n" +
			"--follow keeps running and applies server pushes from the remote feed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, &ff)
		},
	}
	ff.query.register(cmd, false)
	f := cmd.Flags()
	f.IntVar(&ff.query.page, "page", 1, "page number, 1-based")
	f.IntVar(&ff.query.pageSize, "page-size", 0, "page size (default: page_size from config)")
	f.BoolVar(&ff.offline, "offline", false, "serve the last cached page without reading the transport")
	f.BoolVar(&ff.noCache, "no-cache", false, "do not keep the page in the offline cache")
	f.BoolVar(&ff.follow, "follow", false, "apply pushes from the remote feed until interrupted")
	f.StringVar(&ff.feedURL, "feed", "", "feed URL for --follow (default: endpoint + /feed over ws)")
	f.StringVar(&ff.transport, "transport", "", "transport override (memory, remote, sqlite)")
	f.StringVar(&ff.endpoint, "endpoint", "", "remote endpoint override")
	return cmd
}

func runFetch(cmd *cobra.Command, ff *fetchFlags) error {
	c := cfg
	if ff.transport != "" {
		c.Transport = ff.transport
	}
	if ff.endpoint != "" {
		c.Endpoint = ff.endpoint
	}
	if err := c.Validate(); err != nil {
		return userError(err)
	}
	q, err := ff.query.build()
	if err != nil {
		return userError(err)
	}

	s, err := openSession(c)
	if err != nil {
		return sysError(err)
	}
	defer s.Close()

	opts, err := dataSourceOptions(c, bind, s.transport)
	if err != nil {
		return userError(err)
	}
	if q.PageSize > 0 {
		opts.PageSize = q.PageSize
	}
	opts.Page = max(q.Page, 1)
	opts.Sort, opts.Filter, opts.Group, opts.Aggregate = q.Sort, q.Filter, q.Group, q.Aggregate
	if !ff.noCache && c.Collection != "" {
		opts.Offline = offline.NewFile(paths.OfflineFile(c.DataDir, c.Collection))
	}
	ds, err := datasource.New(opts)
	if err != nil {
		return userError(err)
	}
	ds.Bind(datasource.EventError, func(e *observable.Event) {
		glog.Warningf("fetch %s: %v", c.Collection, e.Err)
	})

	ctx := cmd.Context()
	if ff.offline {
		if opts.Offline == nil {
			return userError(errors.New("--offline needs the offline cache"))
		}
		if err := ds.SetOnline(ctx, false); err != nil {
			return sysError(err)
		}
	}
	if err := ds.Read(ctx, nil); err != nil {
		return sysError(err)
	}

	out := cmd.OutOrStdout()
	if err := printListing(out, listing{Data: ds.View(), Total: ds.Total(), Aggregates: ds.Aggregates()}); err != nil {
		return sysError(err)
	}
	if !ff.follow {
		return nil
	}
	return follow(ctx, cmd, ds, c, ff.feedURL)
}

// follow subscribes to the remote feed and applies every change to ds,
// printing the affected records, until interrupted.
func follow(ctx context.Context, cmd *cobra.Command, ds *datasource.DataSource, c types.Config, feedURL string) error {
	if feedURL == "" {
		if c.Transport != types.TransportRemote {
			return userError(errors.New("--follow needs the remote transport or --feed"))
		}
		feedURL = feedFor(c.Endpoint)
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	ds.Bind(datasource.EventPush, func(e *observable.Event) {
		items := e.Items
		if flags.jsonMode {
			printJSON(out, map[string]any{"verb": e.Type, "records": plainItems(items)})
			return
		}
		for _, item := range plainItems(items) {
			fmt.Fprintf(out, "%s ", e.Type)
			printItems(out, []any{item}, 0)
		}
	})
	glog.V(1).Infof("following %s", feedURL)
	err := transport.Subscribe(ctx, feedURL, func(ch transport.Change) {
		ds.Apply(ch.Verb, ch.Records)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return sysError(err)
	}
	return nil
}

// feedFor derives the websocket feed URL of a REST collection endpoint.
func feedFor(endpoint string) string {
	u := strings.TrimRight(endpoint, "/") + "/feed"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
