package transport

import (
	"context"
	"maps"

	"github.com/mesh-intelligence/databind/pkg/types"
)

type paramTransport struct {
	inner  types.Transport
	params map[string]any
}

var (
	_ types.Transport = (*paramTransport)(nil)
	_ types.Submitter = (*paramTransport)(nil)
)

// WithParams wraps t so every request carries params. Request params with
// the same name win over params. Submit is delegated when t supports it.
func WithParams(t types.Transport, params map[string]any) types.Transport {
	return &paramTransport{inner: t, params: maps.Clone(params)}
}

func (p *paramTransport) with(req *types.Request) *types.Request {
	out := &types.Request{}
	if req != nil {
		*out = *req
	}
	merged := maps.Clone(p.params)
	if merged == nil {
		merged = make(map[string]any)
	}
	maps.Copy(merged, out.Params)
	out.Params = merged
	return out
}

func (p *paramTransport) Read(ctx context.Context, req *types.Request) (any, error) {
	return p.inner.Read(ctx, p.with(req))
}

func (p *paramTransport) Create(ctx context.Context, req *types.Request) (any, error) {
	return p.inner.Create(ctx, p.with(req))
}

func (p *paramTransport) Update(ctx context.Context, req *types.Request) (any, error) {
	return p.inner.Update(ctx, p.with(req))
}

func (p *paramTransport) Destroy(ctx context.Context, req *types.Request) (any, error) {
	return p.inner.Destroy(ctx, p.with(req))
}

func (p *paramTransport) Submit(ctx context.Context, batch *types.Batch) (*types.BatchResponse, error) {
	s, ok := p.inner.(types.Submitter)
	if !ok {
		return nil, types.ErrUnsupported
	}
	return s.Submit(ctx, batch)
}
