package types

// Model is the record contract the Data Source works with: an observable
// entity with identity and change tracking.
type Model interface {
	UID() string
	ID() any
	IsNew() bool
	Dirty() bool
	SetDirty(dirty bool)
	Get(field string) any
	Set(field string, value any) bool
	Accept(values map[string]any)
	ToMap() map[string]any
}
