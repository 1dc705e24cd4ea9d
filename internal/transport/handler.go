package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/databind/pkg/types"
)

// Handler serves a Transport over HTTP using the protocol Remote speaks:
// GET reads, POST creates, PUT updates, DELETE destroys and POST .../submit
// applies a batch. Successful writes are published on Feed when set.
type Handler struct {
	Transport types.Transport
	Feed      *Feed
}

var _ http.Handler = (*Handler)(nil)

// NewHandler returns a Handler for t.
func NewHandler(t types.Transport) *Handler {
	return &Handler{Transport: t}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/submit") {
		h.submit(ctx, w, r)
		return
	}
	if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/feed") && h.Feed != nil {
		h.Feed.ServeHTTP(w, r)
		return
	}

	var (
		verb    string
		payload any
		err     error
	)
	switch r.Method {
	case http.MethodGet:
		verb = types.VerbRead
		var q types.QueryOptions
		var params map[string]any
		q, params, err = DecodeQuery(r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		payload, err = h.Transport.Read(ctx, &types.Request{Query: q, Params: params})
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		verb = methodVerb(r.Method)
		var records []map[string]any
		records, err = decodeRecords(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req := &types.Request{Records: records}
		switch verb {
		case types.VerbCreate:
			payload, err = h.Transport.Create(ctx, req)
		case types.VerbUpdate:
			payload, err = h.Transport.Update(ctx, req)
		default:
			payload, err = h.Transport.Destroy(ctx, req)
		}
	default:
		w.Header().Set("Allow", "GET, POST, PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s", r.Method))
		return
	}
	if err != nil {
		glog.Warningf("handler %s: %v", verb, err)
		writeError(w, statusOf(err), err)
		return
	}
	if verb != types.VerbRead {
		h.Feed.Publish(verb, payload)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) submit(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var body struct {
		Created   []map[string]any `json:"created"`
		Updated   []map[string]any `json:"updated"`
		Destroyed []map[string]any `json:"destroyed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode batch: %w", err))
		return
	}
	batch := &types.Batch{Created: body.Created, Updated: body.Updated, Destroyed: body.Destroyed}
	resp, err := SubmitBatch(ctx, h.Transport, batch)
	if err != nil {
		glog.Warningf("handler submit: %v", err)
		writeError(w, statusOf(err), err)
		return
	}
	h.Feed.Publish(types.VerbCreate, resp.Created)
	h.Feed.Publish(types.VerbUpdate, resp.Updated)
	h.Feed.Publish(types.VerbDestroy, resp.Destroyed)
	writeJSON(w, http.StatusOK, map[string]any{
		"created":   resp.Created,
		"updated":   resp.Updated,
		"destroyed": resp.Destroyed,
	})
}

// SubmitBatch applies batch through t, using Submit when t supports it and
// one call per non-empty verb otherwise.
func SubmitBatch(ctx context.Context, t types.Transport, batch *types.Batch) (*types.BatchResponse, error) {
	if s, ok := t.(types.Submitter); ok {
		resp, err := s.Submit(ctx, batch)
		if !errors.Is(err, types.ErrUnsupported) {
			return resp, err
		}
	}
	resp := &types.BatchResponse{}
	var err error
	if len(batch.Created) > 0 {
		if resp.Created, err = t.Create(ctx, &types.Request{Records: batch.Created}); err != nil {
			return nil, err
		}
	}
	if len(batch.Updated) > 0 {
		if resp.Updated, err = t.Update(ctx, &types.Request{Records: batch.Updated}); err != nil {
			return nil, err
		}
	}
	if len(batch.Destroyed) > 0 {
		if resp.Destroyed, err = t.Destroy(ctx, &types.Request{Records: batch.Destroyed}); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func methodVerb(method string) string {
	switch method {
	case http.MethodPost:
		return types.VerbCreate
	case http.MethodPut:
		return types.VerbUpdate
	default:
		return types.VerbDestroy
	}
}

// decodeRecords accepts a single record, an array of records or
// {"models": [...]}.
func decodeRecords(body io.Reader) ([]map[string]any, error) {
	var raw any
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		if models, ok := v["models"].([]any); ok {
			items = models
		} else {
			return []map[string]any{v}, nil
		}
	default:
		return nil, fmt.Errorf("decode records: %w", types.ErrInvalidData)
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("decode records: %w", types.ErrInvalidData)
		}
		out = append(out, rec)
	}
	return out, nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrCollectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidID), errors.Is(err, types.ErrInvalidData),
		errors.Is(err, types.ErrInvalidFilter), errors.Is(err, types.ErrInvalidSort),
		errors.Is(err, types.ErrInvalidGroup), errors.Is(err, types.ErrInvalidAggregate):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		glog.Warningf("handler encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	http.Error(w, err.Error(), status)
}
