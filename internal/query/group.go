package query

import (
	"fmt"

	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// Group partitions data by the first descriptor and recurses for the rest.
// Aggregates of each group are computed over the records of full that share
// the group value, so a paged slice still reports whole-dataset aggregates.
// The result holds *types.Group values.
func Group(data []any, groups []types.GroupDescriptor, full []any) ([]any, error) {
	if len(groups) == 0 {
		return data, nil
	}
	desc := groups[0]
	if desc.Field == "" {
		return nil, fmt.Errorf("%w: missing field", types.ErrInvalidGroup)
	}
	if err := validateDir(desc.Dir); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidGroup, err)
	}
	if err := ValidateAggregates(desc.Aggregates); err != nil {
		return nil, err
	}

	sorted, err := Sort(data, GroupSorts(groups[:1]))
	if err != nil {
		return nil, err
	}

	var out []*types.Group
	var current *types.Group
	for _, item := range sorted {
		v := value.Unwrap(value.Get(item, desc.Field))
		if current == nil || !equalValues(current.Value, v, false) {
			current = &types.Group{Field: desc.Field, Value: v}
			out = append(out, current)
		}
		current.Items = append(current.Items, item)
	}

	result := make([]any, len(out))
	for i, g := range out {
		members := make([]any, 0, len(g.Items))
		for _, item := range full {
			if equalValues(value.Get(item, desc.Field), g.Value, false) {
				members = append(members, item)
			}
		}
		if g.Aggregates, err = Aggregate(members, desc.Aggregates); err != nil {
			return nil, err
		}
		if len(groups) > 1 {
			g.HasSubgroups = true
			if g.Items, err = Group(g.Items, groups[1:], members); err != nil {
				return nil, err
			}
		}
		result[i] = g
	}
	return result, nil
}
