package query

import (
	"github.com/mesh-intelligence/databind/pkg/types"
)

// Result is the output of Process. Total counts the filtered records before
// paging; Aggregates are computed over the same unpaged set.
type Result struct {
	Data       []any            `json:"data"`
	Total      int              `json:"total"`
	Aggregates types.Aggregates `json:"aggregates,omitempty"`
}

// Window returns the skip and take implied by opts. Explicit Skip/Take win
// over Page/PageSize; take <= 0 means unlimited.
func Window(opts types.QueryOptions) (skip, take int) {
	skip, take = opts.Skip, opts.Take
	if take <= 0 && opts.PageSize > 0 {
		page := max(opts.Page, 1)
		skip, take = (page-1)*opts.PageSize, opts.PageSize
	}
	return max(skip, 0), take
}

// Page slices data to the window [skip, skip+take).
func Page(data []any, skip, take int) []any {
	if skip >= len(data) {
		return []any{}
	}
	end := len(data)
	if take > 0 && skip+take < end {
		end = skip + take
	}
	return data[skip:end]
}

// Process runs filter, sort (group keys first), page and group in that order.
func Process(data []any, opts types.QueryOptions) (*Result, error) {
	filtered := data
	if opts.Filter != nil {
		var err error
		if filtered, err = Filter(data, opts.Filter); err != nil {
			return nil, err
		}
	}

	sorts := append(GroupSorts(opts.Group), opts.Sort...)
	sorted, err := Sort(filtered, sorts)
	if err != nil {
		return nil, err
	}

	aggregates, err := Aggregate(filtered, opts.Aggregate)
	if err != nil {
		return nil, err
	}

	skip, take := Window(opts)
	paged := Page(sorted, skip, take)

	out := paged
	if len(opts.Group) > 0 {
		if out, err = Group(paged, opts.Group, filtered); err != nil {
			return nil, err
		}
	}
	return &Result{Data: out, Total: len(filtered), Aggregates: aggregates}, nil
}
