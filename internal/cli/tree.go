package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/databind/internal/datasource"
	"github.com/mesh-intelligence/databind/internal/hierarchy"
)

type treeFlags struct {
	childrenField    string
	hasChildrenField string
	depth            int
}

func newTreeCmd() *cobra.Command {
	var tf treeFlags
	cmd := &cobra.Command{
		Use:   "tree FILE",
		Short: "Print a data file with nested child records as a tree",
		Long: "Load a data file whose records carry their children inline and walk it\n" +
			"through a hierarchical Data Source, one level at a time.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readRecords(args[0])
			if err != nil {
				return userError(err)
			}
			def, err := definition(cfg, bind)
			if err != nil {
				return userError(err)
			}
			root, err := hierarchy.New(hierarchy.Options{
				Options: datasource.Options{
					Data:     records,
					Model:    def,
					Executor: datasource.Synchronous,
				},
				ChildrenField:    tf.childrenField,
				HasChildrenField: tf.hasChildrenField,
			})
			if err != nil {
				return userError(err)
			}
			ctx := cmd.Context()
			if err := root.Read(ctx, nil); err != nil {
				return sysError(err)
			}
			if flags.jsonMode {
				nodes, err := treeOf(ctx, root, tf.depth, tf.childrenField)
				if err != nil {
					return sysError(err)
				}
				return printJSON(cmd.OutOrStdout(), nodes)
			}
			if err := printTree(ctx, cmd.OutOrStdout(), root, tf.depth); err != nil {
				return sysError(err)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&tf.childrenField, "children-field", hierarchy.DefaultChildrenField, "field holding inline children")
	f.StringVar(&tf.hasChildrenField, "has-children-field", hierarchy.DefaultHasChildrenField, "boolean field telling whether a record has children")
	f.IntVar(&tf.depth, "depth", 0, "levels to expand (0 for all)")
	return cmd
}

func expand(depth, level int) bool { return depth <= 0 || level+1 < depth }

func printTree(ctx context.Context, w io.Writer, level *hierarchy.DataSource, depth int) error {
	indent := strings.Repeat("  ", level.Level())
	for _, n := range level.Nodes() {
		line, err := json.Marshal(n.ToMap())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s%s\n", indent, line)
		if !n.HasChildren() || !expand(depth, level.Level()) {
			continue
		}
		if err := n.Load(ctx); err != nil {
			return err
		}
		if err := printTree(ctx, w, n.Children(), depth); err != nil {
			return err
		}
	}
	return nil
}

// treeOf rebuilds the nested records, children under childrenField.
func treeOf(ctx context.Context, level *hierarchy.DataSource, depth int, childrenField string) ([]map[string]any, error) {
	var out []map[string]any
	for _, n := range level.Nodes() {
		rec := n.ToMap()
		if n.HasChildren() && expand(depth, level.Level()) {
			if err := n.Load(ctx); err != nil {
				return nil, err
			}
			children, err := treeOf(ctx, n.Children(), depth, childrenField)
			if err != nil {
				return nil, err
			}
			rec[childrenField] = children
		}
		out = append(out, rec)
	}
	return out, nil
}
