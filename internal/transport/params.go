package transport

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"slices"

	"github.com/mesh-intelligence/databind/pkg/types"
)

// ParameterMap turns a request into the protocol parameters sent for verb.
// For reads the result becomes the query string; for writes it is the JSON
// body.
type ParameterMap func(verb string, req *types.Request) map[string]any

// DefaultParameterMap sends query descriptors for reads and records for
// writes: a single record as the body itself, several as {"models": [...]}.
// Request params are merged on top.
func DefaultParameterMap(verb string, req *types.Request) map[string]any {
	out := make(map[string]any)
	if verb == types.VerbRead {
		q := req.Query
		if q.Take > 0 {
			out["skip"] = q.Skip
			out["take"] = q.Take
		}
		if q.PageSize > 0 {
			out["page"] = max(q.Page, 1)
			out["pageSize"] = q.PageSize
		}
		if len(q.Sort) > 0 {
			out["sort"] = q.Sort
		}
		if q.Filter != nil {
			out["filter"] = q.Filter
		}
		if len(q.Group) > 0 {
			out["group"] = q.Group
		}
		if len(q.Aggregate) > 0 {
			out["aggregate"] = q.Aggregate
		}
	} else if len(req.Records) == 1 {
		maps.Copy(out, req.Records[0])
	} else {
		out["models"] = req.Records
	}
	maps.Copy(out, req.Params)
	return out
}

// EncodeQuery renders parameters as a query string. Strings and numbers are
// written as is; everything else is JSON encoded.
func EncodeQuery(params map[string]any) (string, error) {
	values := url.Values{}
	for _, k := range slices.Sorted(maps.Keys(params)) {
		switch v := params[k].(type) {
		case string:
			values.Set(k, v)
		case int, int64, float64, bool:
			values.Set(k, fmt.Sprint(v))
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("encode %s: %w", k, err)
			}
			values.Set(k, string(b))
		}
	}
	return values.Encode(), nil
}

// DecodeQuery is the inverse of DefaultParameterMap and EncodeQuery for
// reads: it rebuilds QueryOptions from a query string. Unknown keys are
// returned as params.
func DecodeQuery(values url.Values) (types.QueryOptions, map[string]any, error) {
	var q types.QueryOptions
	params := make(map[string]any)
	for key := range values {
		raw := values.Get(key)
		var err error
		switch key {
		case "skip":
			_, err = fmt.Sscan(raw, &q.Skip)
		case "take":
			_, err = fmt.Sscan(raw, &q.Take)
		case "page":
			_, err = fmt.Sscan(raw, &q.Page)
		case "pageSize":
			_, err = fmt.Sscan(raw, &q.PageSize)
		case "sort":
			err = json.Unmarshal([]byte(raw), &q.Sort)
		case "filter":
			q.Filter = &types.FilterDescriptor{}
			err = json.Unmarshal([]byte(raw), q.Filter)
		case "group":
			err = json.Unmarshal([]byte(raw), &q.Group)
		case "aggregate":
			err = json.Unmarshal([]byte(raw), &q.Aggregate)
		default:
			params[key] = raw
		}
		if err != nil {
			return q, nil, fmt.Errorf("decode %s: %w", key, err)
		}
	}
	return q, params, nil
}
