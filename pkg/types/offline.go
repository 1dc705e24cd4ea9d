package types

// Offline record states.
const (
	OfflineCreate  = "create"
	OfflineUpdate  = "update"
	OfflineDestroy = "destroy"
)

// OfflineRecord is one stored record and its pending change, if any.
type OfflineRecord struct {
	State string         `json:"state,omitempty"`
	Data  map[string]any `json:"data"`
}

// OfflineState is the snapshot a Data Source hands to offline storage.
type OfflineState struct {
	Records []OfflineRecord `json:"records"`
	Total   int             `json:"total"`
}

// OfflineStorage persists Data Source state while offline. GetItem returns
// nil and no error when nothing is stored.
type OfflineStorage interface {
	GetItem() (*OfflineState, error)
	SetItem(state *OfflineState) error
}
