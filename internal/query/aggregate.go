package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// accumulator folds one aggregate over a stream of values.
type accumulator interface {
	add(v any)
	result() any
}

type sumAcc struct {
	total float64
	seen  bool
}

func (a *sumAcc) add(v any) {
	if f, ok := value.Float(v); ok {
		a.total += f
		a.seen = true
	}
}

func (a *sumAcc) result() any {
	if !a.seen {
		return nil
	}
	return a.total
}

type countAcc struct{ n int }

func (a *countAcc) add(any)     { a.n++ }
func (a *countAcc) result() any { return a.n }

// averageAcc keeps its own numeric count and divides once at the end.
type averageAcc struct {
	total float64
	n     int
}

func (a *averageAcc) add(v any) {
	if f, ok := value.Float(v); ok {
		a.total += f
		a.n++
	}
}

func (a *averageAcc) result() any {
	if a.n == 0 {
		return nil
	}
	return a.total / float64(a.n)
}

type extremeAcc struct {
	best any
	keep func(r int) bool
}

func (a *extremeAcc) add(v any) {
	if !orderable(v) {
		return
	}
	if a.best == nil || a.keep(Compare(v, a.best)) {
		a.best = v
	}
}

func (a *extremeAcc) result() any { return a.best }

func orderable(v any) bool {
	if _, ok := v.(time.Time); ok {
		return true
	}
	_, ok := value.Float(v)
	return ok
}

func newAccumulator(name string) (accumulator, error) {
	switch strings.ToLower(name) {
	case types.AggregateSum:
		return &sumAcc{}, nil
	case types.AggregateCount:
		return &countAcc{}, nil
	case types.AggregateAverage:
		return &averageAcc{}, nil
	case types.AggregateMin:
		return &extremeAcc{keep: func(r int) bool { return r < 0 }}, nil
	case types.AggregateMax:
		return &extremeAcc{keep: func(r int) bool { return r > 0 }}, nil
	}
	return nil, fmt.Errorf("%w: %q", types.ErrInvalidAggregate, name)
}

// ValidateAggregates checks every descriptor without touching data.
func ValidateAggregates(descs []types.AggregateDescriptor) error {
	for _, d := range descs {
		if d.Field == "" {
			return fmt.Errorf("%w: missing field", types.ErrInvalidAggregate)
		}
		if _, err := newAccumulator(d.Aggregate); err != nil {
			return err
		}
	}
	return nil
}

// Aggregate computes the descriptors over data in one pass.
func Aggregate(data []any, descs []types.AggregateDescriptor) (types.Aggregates, error) {
	if len(descs) == 0 {
		return nil, nil
	}
	type slot struct {
		field, name string
		acc         accumulator
	}
	slots := make([]slot, 0, len(descs))
	for _, d := range descs {
		if d.Field == "" {
			return nil, fmt.Errorf("%w: missing field", types.ErrInvalidAggregate)
		}
		acc, err := newAccumulator(d.Aggregate)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot{field: d.Field, name: strings.ToLower(d.Aggregate), acc: acc})
	}
	for _, item := range data {
		for _, s := range slots {
			s.acc.add(value.Unwrap(value.Get(item, s.field)))
		}
	}
	out := make(types.Aggregates, len(slots))
	for _, s := range slots {
		if out[s.field] == nil {
			out[s.field] = make(map[string]any)
		}
		out[s.field][s.name] = s.acc.result()
	}
	return out, nil
}
