package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/jellydator/ttlcache/v3"

	"github.com/mesh-intelligence/databind/pkg/types"
)

// Endpoint is one HTTP operation.
type Endpoint struct {
	URL    string `json:"url" yaml:"url"`
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
}

// RemoteOptions configures a Remote transport. Empty endpoint methods
// default to GET for read, POST for create and submit, PUT for update and
// DELETE for destroy.
type RemoteOptions struct {
	Read         Endpoint
	Create       Endpoint
	Update       Endpoint
	Destroy      Endpoint
	Submit       Endpoint
	Client       *http.Client
	Headers      map[string]string
	ParameterMap ParameterMap
	CacheTTL     time.Duration
}

// Remote talks to an HTTP service. Read responses may be cached by their
// encoded parameters.
type Remote struct {
	opts  RemoteOptions
	cache *ttlcache.Cache[string, any]
}

var (
	_ types.Transport = (*Remote)(nil)
	_ types.Submitter = (*Remote)(nil)
)

// NewRemote creates a Remote transport.
func NewRemote(opts RemoteOptions) *Remote {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.ParameterMap == nil {
		opts.ParameterMap = DefaultParameterMap
	}
	r := &Remote{opts: opts}
	if opts.CacheTTL > 0 {
		r.cache = ttlcache.New[string, any](ttlcache.WithTTL[string, any](opts.CacheTTL))
	}
	return r
}

// RemoteForBase derives the five endpoints from a REST collection URL.
func RemoteForBase(base string, opts RemoteOptions) *Remote {
	base = strings.TrimRight(base, "/")
	opts.Read = Endpoint{URL: base, Method: http.MethodGet}
	opts.Create = Endpoint{URL: base, Method: http.MethodPost}
	opts.Update = Endpoint{URL: base, Method: http.MethodPut}
	opts.Destroy = Endpoint{URL: base, Method: http.MethodDelete}
	opts.Submit = Endpoint{URL: base + "/submit", Method: http.MethodPost}
	return NewRemote(opts)
}

// ClearCache drops every cached read.
func (r *Remote) ClearCache() {
	if r.cache != nil {
		r.cache.DeleteAll()
	}
}

// Read issues the read request, answering from the cache when possible.
func (r *Remote) Read(ctx context.Context, req *types.Request) (any, error) {
	ep := withMethod(r.opts.Read, http.MethodGet)
	params := r.opts.ParameterMap(types.VerbRead, req)

	var key string
	if r.cache != nil {
		encoded, err := EncodeQuery(params)
		if err != nil {
			return nil, &types.TransportError{Verb: types.VerbRead, Cause: err}
		}
		key = ep.Method + " " + ep.URL + "?" + encoded
		if item := r.cache.Get(key); item != nil {
			countCache(true)
			glog.V(2).Infof("remote read cache hit %s", key)
			return item.Value(), nil
		}
		countCache(false)
	}

	payload, err := r.do(ctx, types.VerbRead, ep, params)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Set(key, payload, ttlcache.DefaultTTL)
	}
	return payload, nil
}

// Create posts new records.
func (r *Remote) Create(ctx context.Context, req *types.Request) (any, error) {
	return r.write(ctx, types.VerbCreate, withMethod(r.opts.Create, http.MethodPost), req)
}

// Update puts changed records.
func (r *Remote) Update(ctx context.Context, req *types.Request) (any, error) {
	return r.write(ctx, types.VerbUpdate, withMethod(r.opts.Update, http.MethodPut), req)
}

// Destroy deletes records.
func (r *Remote) Destroy(ctx context.Context, req *types.Request) (any, error) {
	return r.write(ctx, types.VerbDestroy, withMethod(r.opts.Destroy, http.MethodDelete), req)
}

// Submit sends a whole batch to the submit endpoint. Without one it returns
// ErrUnsupported so callers fall back to per-verb requests.
func (r *Remote) Submit(ctx context.Context, batch *types.Batch) (*types.BatchResponse, error) {
	if r.opts.Submit.URL == "" {
		return nil, types.ErrUnsupported
	}
	body := map[string]any{
		"created":   nonNil(batch.Created),
		"updated":   nonNil(batch.Updated),
		"destroyed": nonNil(batch.Destroyed),
	}
	payload, err := r.do(ctx, types.VerbSubmit, withMethod(r.opts.Submit, http.MethodPost), body)
	if err != nil {
		return nil, err
	}
	r.ClearCache()
	m, _ := payload.(map[string]any)
	return &types.BatchResponse{
		Created:   m["created"],
		Updated:   m["updated"],
		Destroyed: m["destroyed"],
	}, nil
}

func nonNil(records []map[string]any) []map[string]any {
	if records == nil {
		return []map[string]any{}
	}
	return records
}

func (r *Remote) write(ctx context.Context, verb string, ep Endpoint, req *types.Request) (any, error) {
	if ep.URL == "" {
		return nil, &types.TransportError{Verb: verb, Cause: types.ErrUnsupported}
	}
	payload, err := r.do(ctx, verb, ep, r.opts.ParameterMap(verb, req))
	if err != nil {
		return nil, err
	}
	r.ClearCache()
	return payload, nil
}

func withMethod(ep Endpoint, def string) Endpoint {
	if ep.Method == "" {
		ep.Method = def
	}
	return ep
}

func (r *Remote) do(ctx context.Context, verb string, ep Endpoint, params map[string]any) (any, error) {
	countRequest("remote", verb)
	httpReq, err := r.newRequest(ctx, ep, params)
	if err != nil {
		countFailure("remote", verb)
		return nil, &types.TransportError{Verb: verb, Cause: err}
	}

	glog.V(2).Infof("remote %s %s %s", verb, httpReq.Method, httpReq.URL)
	resp, err := r.opts.Client.Do(httpReq)
	if err != nil {
		countFailure("remote", verb)
		return nil, &types.TransportError{Verb: verb, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		countFailure("remote", verb)
		return nil, &types.TransportError{Verb: verb, Status: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		countFailure("remote", verb)
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		glog.Warningf("remote %s failed: %d %s", verb, resp.StatusCode, msg)
		return nil, &types.TransportError{Verb: verb, Status: resp.StatusCode, Cause: errors.New(msg)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		countFailure("remote", verb)
		return nil, &types.TransportError{Verb: verb, Status: resp.StatusCode, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return payload, nil
}

func (r *Remote) newRequest(ctx context.Context, ep Endpoint, params map[string]any) (*http.Request, error) {
	var httpReq *http.Request
	var err error
	if ep.Method == http.MethodGet {
		encoded, encErr := EncodeQuery(params)
		if encErr != nil {
			return nil, encErr
		}
		target := ep.URL
		if encoded != "" {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + encoded
		}
		httpReq, err = http.NewRequestWithContext(ctx, ep.Method, target, nil)
	} else {
		body, encErr := json.Marshal(params)
		if encErr != nil {
			return nil, encErr
		}
		httpReq, err = http.NewRequestWithContext(ctx, ep.Method, ep.URL, bytes.NewReader(body))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range r.opts.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}
