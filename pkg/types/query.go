package types

// Sort directions.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Filter logic operators.
const (
	LogicAnd = "and"
	LogicOr  = "or"
)

// Aggregate function names.
const (
	AggregateSum     = "sum"
	AggregateCount   = "count"
	AggregateAverage = "average"
	AggregateMin     = "min"
	AggregateMax     = "max"
)

// SortDescriptor orders records by one field. Compare, when set, replaces the
// default comparer; Dir still applies on top of it.
type SortDescriptor struct {
	Field   string             `json:"field" yaml:"field"`
	Dir     string             `json:"dir,omitempty" yaml:"dir,omitempty"`
	Compare func(a, b any) int `json:"-" yaml:"-"`
}

// Descending reports whether the descriptor sorts in reverse order.
func (s SortDescriptor) Descending() bool { return s.Dir == SortDesc }

// FilterDescriptor is either a leaf predicate (Field, Operator, Value) or a
// composite (Logic over Filters). Func supplies a custom operator and takes
// precedence over Operator.
type FilterDescriptor struct {
	Logic      string                       `json:"logic,omitempty" yaml:"logic,omitempty"`
	Filters    []*FilterDescriptor          `json:"filters,omitempty" yaml:"filters,omitempty"`
	Field      string                       `json:"field,omitempty" yaml:"field,omitempty"`
	Operator   string                       `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      any                          `json:"value,omitempty" yaml:"value,omitempty"`
	IgnoreCase *bool                        `json:"ignoreCase,omitempty" yaml:"ignoreCase,omitempty"`
	Func       func(value, target any) bool `json:"-" yaml:"-"`
}

// IsComposite reports whether the descriptor combines child filters.
func (f *FilterDescriptor) IsComposite() bool {
	return f.Logic != "" || len(f.Filters) > 0
}

// CaseInsensitive reports whether string operators ignore case. Defaults to true.
func (f *FilterDescriptor) CaseInsensitive() bool {
	return f.IgnoreCase == nil || *f.IgnoreCase
}

// HasFunc reports whether the descriptor tree contains a custom operator.
func (f *FilterDescriptor) HasFunc() bool {
	if f == nil {
		return false
	}
	if f.Func != nil {
		return true
	}
	for _, child := range f.Filters {
		if child.HasFunc() {
			return true
		}
	}
	return false
}

// Where builds a leaf filter.
func Where(field, operator string, value any) *FilterDescriptor {
	return &FilterDescriptor{Field: field, Operator: operator, Value: value}
}

// And combines filters with logical and.
func And(filters ...*FilterDescriptor) *FilterDescriptor {
	return &FilterDescriptor{Logic: LogicAnd, Filters: filters}
}

// Or combines filters with logical or.
func Or(filters ...*FilterDescriptor) *FilterDescriptor {
	return &FilterDescriptor{Logic: LogicOr, Filters: filters}
}

// GroupDescriptor groups records by one field and names the aggregates
// computed for every group at that level.
type GroupDescriptor struct {
	Field      string                `json:"field" yaml:"field"`
	Dir        string                `json:"dir,omitempty" yaml:"dir,omitempty"`
	Aggregates []AggregateDescriptor `json:"aggregates,omitempty" yaml:"aggregates,omitempty"`
	Compare    func(a, b any) int    `json:"-" yaml:"-"`
}

// AggregateDescriptor names one aggregate function over one field.
type AggregateDescriptor struct {
	Field     string `json:"field" yaml:"field"`
	Aggregate string `json:"aggregate" yaml:"aggregate"`
}

// QueryOptions is the full query surface. Take <= 0 means unlimited.
// Page and PageSize are Data Source paging state; the query engine uses
// Skip and Take.
type QueryOptions struct {
	Page      int                   `json:"page,omitempty" yaml:"page,omitempty"`
	PageSize  int                   `json:"pageSize,omitempty" yaml:"pageSize,omitempty"`
	Skip      int                   `json:"skip,omitempty" yaml:"skip,omitempty"`
	Take      int                   `json:"take,omitempty" yaml:"take,omitempty"`
	Sort      []SortDescriptor      `json:"sort,omitempty" yaml:"sort,omitempty"`
	Filter    *FilterDescriptor     `json:"filter,omitempty" yaml:"filter,omitempty"`
	Group     []GroupDescriptor     `json:"group,omitempty" yaml:"group,omitempty"`
	Aggregate []AggregateDescriptor `json:"aggregate,omitempty" yaml:"aggregate,omitempty"`
}

// IsZero reports whether the options request nothing beyond the raw data.
func (q QueryOptions) IsZero() bool {
	return q.Skip == 0 && q.Take <= 0 && q.Page == 0 && q.PageSize == 0 &&
		len(q.Sort) == 0 && q.Filter == nil && len(q.Group) == 0 && len(q.Aggregate) == 0
}

// Aggregates maps field name to aggregate name to result.
type Aggregates map[string]map[string]any

// Group is one node of a grouped result. Items holds records at the leaf
// level and *Group values when HasSubgroups is set.
type Group struct {
	Field        string     `json:"field"`
	Value        any        `json:"value"`
	HasSubgroups bool       `json:"hasSubgroups"`
	Items        []any      `json:"items"`
	Aggregates   Aggregates `json:"aggregates,omitempty"`
}

// Leaves returns the records under g in order.
func (g *Group) Leaves() []any {
	if !g.HasSubgroups {
		return g.Items
	}
	var out []any
	for _, item := range g.Items {
		if sub, ok := item.(*Group); ok {
			out = append(out, sub.Leaves()...)
		}
	}
	return out
}

// LeafCount returns the number of records under g.
func (g *Group) LeafCount() int {
	if !g.HasSubgroups {
		return len(g.Items)
	}
	n := 0
	for _, item := range g.Items {
		if sub, ok := item.(*Group); ok {
			n += sub.LeafCount()
		}
	}
	return n
}

// Flatten returns the records of a view that may mix records and groups.
func Flatten(items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if g, ok := item.(*Group); ok {
			out = append(out, g.Leaves()...)
			continue
		}
		out = append(out, item)
	}
	return out
}
