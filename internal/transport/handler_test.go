package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHandlerStatusCodes(t *testing.T) {
	h := NewHandler(NewMemory(sampleRecords(), MemoryOptions{}))

	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"update unknown id", http.MethodPut, `{"id": 99, "name": "ghost"}`, http.StatusNotFound},
		{"body is not a record", http.MethodDelete, `"oops"`, http.StatusBadRequest},
		{"malformed json", http.MethodPost, `{`, http.StatusBadRequest},
		{"unknown method", http.MethodPatch, ``, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.method, "/items", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, "GET, POST, PUT, DELETE", serve(h, http.MethodPatch, "/items", "").Header().Get("Allow"))
}

func TestHandlerSubmitAppliesBatch(t *testing.T) {
	h := NewHandler(NewMemory(sampleRecords(), MemoryOptions{}))

	rec := serve(h, http.MethodPost, "/items/submit", `{"created": [{"name": "delta", "qty": 1}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Created []map[string]any `json:"created"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Created, 1)
	assert.NotEmpty(t, resp.Created[0]["id"])
	assert.Equal(t, "delta", resp.Created[0]["name"])

	read := serve(h, http.MethodGet, "/items", "")
	require.Equal(t, http.StatusOK, read.Code)
	var all []map[string]any
	require.NoError(t, json.Unmarshal(read.Body.Bytes(), &all))
	assert.Len(t, all, 4)
}
