package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/mesh-intelligence/databind/pkg/types"
)

// listing is the JSON shape of a query, fetch or scan result.
type listing struct {
	Data       []any            `json:"data"`
	Total      int              `json:"total"`
	Aggregates types.Aggregates `json:"aggregates,omitempty"`
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// plain converts models and groups to maps so they encode as records.
func plain(item any) any {
	switch t := item.(type) {
	case types.Model:
		return t.ToMap()
	case *types.Group:
		g := *t
		g.Items = plainItems(t.Items)
		return &g
	default:
		return item
	}
}

func plainItems(items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = plain(item)
	}
	return out
}

// printListing writes items in JSON mode as one document, otherwise one
// compact record per line with groups indented under their headers.
func printListing(w io.Writer, l listing) error {
	l.Data = plainItems(l.Data)
	if flags.jsonMode {
		return printJSON(w, l)
	}
	if err := printItems(w, l.Data, 0); err != nil {
		return err
	}
	fmt.Fprintf(w, "total: %d\n", l.Total)
	printAggregates(w, "", l.Aggregates)
	return nil
}

func printItems(w io.Writer, items []any, depth int) error {
	indent := strings.Repeat("  ", depth)
	for _, item := range items {
		if g, ok := item.(*types.Group); ok {
			fmt.Fprintf(w, "%s%s = %v (%d)\n", indent, g.Field, g.Value, g.LeafCount())
			printAggregates(w, indent+"  ", g.Aggregates)
			if err := printItems(w, g.Items, depth+1); err != nil {
				return err
			}
			continue
		}
		line, err := json.Marshal(item)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s%s\n", indent, line)
	}
	return nil
}

func printAggregates(w io.Writer, indent string, aggs types.Aggregates) {
	fields := make([]string, 0, len(aggs))
	for field := range aggs {
		fields = append(fields, field)
	}
	slices.Sort(fields)
	for _, field := range fields {
		fns := make([]string, 0, len(aggs[field]))
		for fn := range aggs[field] {
			fns = append(fns, fn)
		}
		slices.Sort(fns)
		for _, fn := range fns {
			fmt.Fprintf(w, "%s%s(%s) = %v\n", indent, fn, field, aggs[field][fn])
		}
	}
}
