// Package cli implements the databind command-line interface.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/VictoriaMetrics/metrics"
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/databind/pkg/databind"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	metrics   bool
}

var flags rootFlags

// cfg is the configuration resolved by the root command before any
// subcommand runs.
var (
	cfg  types.Config
	bind binding
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error { return &exitError{code: exitUserError, err: err} }
func sysError(err error) error  { return &exitError{code: exitSysError, err: err} }

// NewRootCmd creates the top-level "databind" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	flags = rootFlags{}
	cfg, bind = types.Config{}, binding{}

	root := &cobra.Command{
		Use:   "databind",
		Short: "Query, import, page and serve record collections",
		Long: "databind reads record collections through Data Sources over memory,\n" +
			"SQLite or remote REST transports, and serves them back over HTTP.",
		Version:       databind.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			loaded, b, err := loadConfig()
			if err != nil {
				return sysError(err)
			}
			cfg, bind = loaded, b
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if flags.metrics {
				metrics.WritePrometheus(cmd.ErrOrStderr(), false)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: platform config dir, or $DATABIND_CONFIG_DIR)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/.databind)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVar(&flags.metrics, "metrics", false, "print transport metrics to stderr on exit")
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newQueryCmd(),
		newImportCmd(),
		newFetchCmd(),
		newScanCmd(),
		newTreeCmd(),
		newServeCmd(),
	)
	return root
}

// Run executes the command line args and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	glog.Flush()
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(stderr, "databind:", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUserError
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}
