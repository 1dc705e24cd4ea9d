package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// Comparer orders two records.
type Comparer func(a, b any) int

func validateDir(dir string) error {
	switch strings.ToLower(dir) {
	case "", types.SortAsc, types.SortDesc:
		return nil
	}
	return fmt.Errorf("unknown direction %q", dir)
}

// CompileSort validates descriptors and combines them into one comparer that
// falls through to the next key on ties.
func CompileSort(sorts []types.SortDescriptor) (Comparer, error) {
	keys := make([]Comparer, 0, len(sorts))
	for _, s := range sorts {
		if s.Field == "" {
			return nil, fmt.Errorf("%w: missing field", types.ErrInvalidSort)
		}
		if err := validateDir(s.Dir); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidSort, err)
		}
		keys = append(keys, fieldComparer(s.Field, strings.ToLower(s.Dir) == types.SortDesc, s.Compare))
	}
	return func(a, b any) int {
		for _, key := range keys {
			if r := key(a, b); r != 0 {
				return r
			}
		}
		return 0
	}, nil
}

func fieldComparer(field string, desc bool, custom func(a, b any) int) Comparer {
	compare := custom
	if compare == nil {
		compare = Compare
	}
	return func(a, b any) int {
		r := compare(value.Get(a, field), value.Get(b, field))
		if desc {
			return -r
		}
		return r
	}
}

// Sort returns a stably sorted copy of data.
func Sort(data []any, sorts []types.SortDescriptor) ([]any, error) {
	out := slices.Clone(data)
	if len(sorts) == 0 {
		return out, nil
	}
	compare, err := CompileSort(sorts)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, compare)
	return out, nil
}

// GroupSorts returns the sort keys implied by group descriptors.
func GroupSorts(groups []types.GroupDescriptor) []types.SortDescriptor {
	out := make([]types.SortDescriptor, 0, len(groups))
	for _, g := range groups {
		dir := g.Dir
		if dir == "" {
			dir = types.SortAsc
		}
		out = append(out, types.SortDescriptor{Field: g.Field, Dir: dir, Compare: g.Compare})
	}
	return out
}
