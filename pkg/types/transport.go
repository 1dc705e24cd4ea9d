package types

import "context"

// CRUD verbs.
const (
	VerbRead    = "read"
	VerbCreate  = "create"
	VerbUpdate  = "update"
	VerbDestroy = "destroy"
	VerbSubmit  = "submit"
)

// Request carries one transport call. Query holds only the operations the
// Data Source delegates to the server. Records holds serialized records for
// create, update and destroy. Params carries extra protocol parameters.
type Request struct {
	Query   QueryOptions
	Records []map[string]any
	Params  map[string]any
}

// Transport performs the four CRUD verbs against a store. Calls block until
// the store answers or ctx is done; the returned payload is handed to the
// Data Reader.
type Transport interface {
	Read(ctx context.Context, req *Request) (any, error)
	Create(ctx context.Context, req *Request) (any, error)
	Update(ctx context.Context, req *Request) (any, error)
	Destroy(ctx context.Context, req *Request) (any, error)
}

// Batch groups all pending changes of one sync.
type Batch struct {
	Created   []map[string]any
	Updated   []map[string]any
	Destroyed []map[string]any
}

// BatchResponse holds the server echo per verb.
type BatchResponse struct {
	Created   any
	Updated   any
	Destroyed any
}

// Submitter is implemented by transports that can apply a whole batch in a
// single call. A Submit failure fails the batch as a whole.
type Submitter interface {
	Submit(ctx context.Context, batch *Batch) (*BatchResponse, error)
}
