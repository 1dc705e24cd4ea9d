// Package query is the pure, stateless query engine: filter compilation,
// stable multi-key sorting, recursive grouping, streaming aggregates and the
// combined Process pipeline. It works on records held as maps or anything
// exposing Get(path).
package query

import (
	"cmp"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/mesh-intelligence/databind/internal/value"
)

// A collate.Collator is not safe for concurrent use.
var collators = sync.Pool{
	New: func() any { return collate.New(language.Und) },
}

// CompareStrings orders strings by the root locale collation.
func CompareStrings(a, b string) int {
	c := collators.Get().(*collate.Collator)
	defer collators.Put(c)
	if r := c.CompareString(a, b); r != 0 {
		return r
	}
	return strings.Compare(a, b)
}

// Compare is the default comparer: nil first, times by instant, numbers
// numerically (numeric strings coerce against numbers), strings by
// collation, false before true.
func Compare(a, b any) int {
	a, b = value.Unwrap(a), value.Unwrap(b)
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if r, ok := compareTyped(a, b); ok {
		return r
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// compareTyped compares a and b when their kinds are compatible.
func compareTyped(a, b any) (int, bool) {
	_, at := a.(time.Time)
	_, bt := b.(time.Time)
	if at || bt {
		ta, okA := value.ParseTime(a)
		tb, okB := value.ParseTime(b)
		if okA && okB {
			return ta.Compare(tb), true
		}
		return 0, false
	}

	af, aNum := value.Float(a)
	bf, bNum := value.Float(b)
	switch {
	case aNum && bNum:
		return cmp.Compare(af, bf), true
	case aNum:
		if bf, ok := value.ParseFloat(b); ok {
			return cmp.Compare(af, bf), true
		}
		return 0, false
	case bNum:
		if af, ok := value.ParseFloat(a); ok {
			return cmp.Compare(af, bf), true
		}
		return 0, false
	}

	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return CompareStrings(as, bs), true
		}
		return 0, false
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0, true
			case !ab:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	return 0, false
}

// equalValues is the equality used by eq/neq and group keys.
func equalValues(a, b any, ignoreCase bool) bool {
	a, b = value.Unwrap(a), value.Unwrap(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			if ignoreCase {
				return strings.EqualFold(as, bs)
			}
			return as == bs
		}
	}
	if r, ok := compareTyped(a, b); ok {
		return r == 0
	}
	return value.Equal(a, b)
}
