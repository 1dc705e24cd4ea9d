package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/databind/internal/transport"
	"github.com/mesh-intelligence/databind/pkg/types"
)

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	addr   string
	noFeed bool
}

func newServeCmd() *cobra.Command {
	var sf serveFlags
	cmd := &cobra.Command{
		Use:   "serve [COLLECTION...]",
		Short: "Serve collections over HTTP for remote Data Sources",
		Long: "Serve each collection at /<collection> with the REST protocol the remote\n" +
			"transport speaks, a websocket change feed at /<collection>/feed and\n" +
			"Prometheus metrics at /metrics. Collections default to the configured one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, &sf, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&sf.addr, "addr", "127.0.0.1:8080", "listen address")
	f.BoolVar(&sf.noFeed, "no-feed", false, "disable the websocket change feed")
	return cmd
}

func runServe(cmd *cobra.Command, sf *serveFlags, collections []string) error {
	if cfg.Transport == types.TransportRemote {
		return userError(errors.New("serve needs a local transport (sqlite or memory)"))
	}
	if len(collections) == 0 {
		collections = []string{cfg.Collection}
	}

	s, err := openSession(cfg)
	if err != nil {
		return sysError(err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			glog.Warningf("serve close: %v", err)
		}
	}()

	mux := http.NewServeMux()
	for _, name := range collections {
		tr := s.transport
		if name != cfg.Collection {
			if tr, err = s.Open(name); err != nil {
				return userError(err)
			}
		}
		h := transport.NewHandler(tr)
		if !sf.noFeed {
			h.Feed = transport.NewFeed()
		}
		mux.Handle("/"+name, h)
		mux.Handle("/"+name+"/", h)
	}
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	ln, err := net.Listen("tcp", sf.addr)
	if err != nil {
		return sysError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "serving %v on http://%s\n", collections, ln.Addr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serveUntilDone(ctx, &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}, ln)
}

// serveUntilDone runs srv on ln until ctx is done, then shuts it down.
func serveUntilDone(ctx context.Context, srv *http.Server, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		glog.V(1).Infof("shutting down %s", ln.Addr())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return sysError(err)
	}
	return nil
}
