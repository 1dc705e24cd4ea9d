package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/databind/pkg/types"
)

// queryFlags are the query options shared by query, fetch and scan.
type queryFlags struct {
	file       string
	filters    []string
	logic      string
	sorts      []string
	groups     []string
	aggregates []string
	skip       int
	take       int
	page       int
	pageSize   int
}

func (qf *queryFlags) register(cmd *cobra.Command, paging bool) {
	f := cmd.Flags()
	f.StringVar(&qf.file, "query", "", "YAML or JSON file holding query options")
	f.StringArrayVar(&qf.filters, "filter", nil, "filter as field:operator[:value] (repeatable)")
	f.StringVar(&qf.logic, "logic", types.LogicAnd, "logic combining --filter flags (and, or)")
	f.StringArrayVar(&qf.sorts, "sort", nil, "sort as field[:asc|desc] (repeatable)")
	f.StringArrayVar(&qf.groups, "group", nil, "group as field[:asc|desc] (repeatable)")
	f.StringArrayVar(&qf.aggregates, "aggregate", nil, "aggregate as field:function (repeatable)")
	if paging {
		f.IntVar(&qf.skip, "skip", 0, "records to skip")
		f.IntVar(&qf.take, "take", 0, "records to take (0 for all)")
		f.IntVar(&qf.page, "page", 0, "page number, 1-based")
		f.IntVar(&qf.pageSize, "page-size", 0, "page size")
	}
}

// build turns the flags into query options. Flags add to the options read
// from --query.
func (qf *queryFlags) build() (types.QueryOptions, error) {
	var q types.QueryOptions
	if qf.file != "" {
		data, err := os.ReadFile(qf.file)
		if err != nil {
			return q, err
		}
		if err := yaml.Unmarshal(data, &q); err != nil {
			return q, fmt.Errorf("parse %s: %w", qf.file, err)
		}
	}

	var leaves []*types.FilterDescriptor
	for _, s := range qf.filters {
		f, err := parseFilter(s)
		if err != nil {
			return q, err
		}
		leaves = append(leaves, f)
	}
	if len(leaves) > 0 {
		if q.Filter != nil {
			leaves = append([]*types.FilterDescriptor{q.Filter}, leaves...)
		}
		if len(leaves) == 1 {
			q.Filter = leaves[0]
		} else {
			q.Filter = &types.FilterDescriptor{Logic: qf.logic, Filters: leaves}
		}
	}

	for _, s := range qf.sorts {
		field, dir := splitDir(s)
		q.Sort = append(q.Sort, types.SortDescriptor{Field: field, Dir: dir})
	}
	for _, s := range qf.groups {
		field, dir := splitDir(s)
		q.Group = append(q.Group, types.GroupDescriptor{Field: field, Dir: dir})
	}
	for _, s := range qf.aggregates {
		field, fn, ok := strings.Cut(s, ":")
		if !ok || field == "" || fn == "" {
			return q, fmt.Errorf("%w: %q, want field:function", types.ErrInvalidAggregate, s)
		}
		q.Aggregate = append(q.Aggregate, types.AggregateDescriptor{Field: field, Aggregate: fn})
	}

	if qf.skip > 0 {
		q.Skip = qf.skip
	}
	if qf.take > 0 {
		q.Take = qf.take
	}
	if qf.page > 0 {
		q.Page = qf.page
	}
	if qf.pageSize > 0 {
		q.PageSize = qf.pageSize
	}
	return q, nil
}

func parseFilter(s string) (*types.FilterDescriptor, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 || parts[0] == "" {
		return nil, fmt.Errorf("%w: %q, want field:operator[:value]", types.ErrInvalidFilter, s)
	}
	f := &types.FilterDescriptor{Field: parts[0], Operator: parts[1]}
	if len(parts) == 3 {
		f.Value = parseScalar(parts[2])
	}
	return f, nil
}

func splitDir(s string) (field, dir string) {
	field, dir, _ = strings.Cut(s, ":")
	if dir == "" {
		dir = types.SortAsc
	}
	return field, strings.ToLower(dir)
}

// parseScalar reads a command-line value as null, a boolean, a number or,
// failing those, a string.
func parseScalar(s string) any {
	switch s {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
