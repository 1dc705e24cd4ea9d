package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for data files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported data file format")

// tomlRecords is the layout of a TOML data file: an array of [[records]]
// tables.
type tomlRecords struct {
	Records []map[string]any `toml:"records"`
}

// readRecords loads the records of a data file. JSON and YAML files hold
// either an array of objects or an object with a data array; JSONL files
// hold one object per line; TOML files hold [[records]] tables.
func readRecords(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return recordsOf(doc)
	case ".jsonl", ".ndjson":
		return readJSONLines(bytes.NewReader(data))
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return recordsOf(doc)
	case ".toml":
		var doc tomlRecords
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return doc.Records, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func recordsOf(doc any) ([]map[string]any, error) {
	if obj, ok := doc.(map[string]any); ok {
		doc = obj["data"]
	}
	items, ok := doc.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected an array of records", ErrUnsupportedFormat)
	}
	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: record %d is not an object", ErrUnsupportedFormat, i)
		}
		out = append(out, rec)
	}
	return out, nil
}

func readJSONLines(r io.Reader) ([]map[string]any, error) {
	var out []map[string]any
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

// asItems converts records to the []any form the query engine takes.
func asItems(records []map[string]any) []any {
	out := make([]any, len(records))
	for i, rec := range records {
		out[i] = rec
	}
	return out
}
