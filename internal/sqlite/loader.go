package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// loadAllJSONL reads every <collection>.jsonl in dataDir into the documents
// table and returns the collection names found. Loading is transactional:
// all files load or the table stays empty. Malformed lines and records that
// are not JSON objects are skipped; records without an id get one.
func loadAllJSONL(db *sql.DB, dataDir, idField string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dataDir, "*"+jsonlExt))
	if err != nil {
		return nil, fmt.Errorf("listing data files: %w", err)
	}
	sort.Strings(matches)

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO documents (collection, id, seq, doc) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	var names []string
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), jsonlExt)
		if !validCollection(name) {
			continue
		}
		records, err := readJSONL(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
		}
		for seq, raw := range records {
			var doc map[string]any
			if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
				continue
			}
			id, encoded, err := identify(doc, idField)
			if err != nil {
				continue
			}
			if _, err := stmt.Exec(name, id, seq+1, encoded); err != nil {
				return nil, fmt.Errorf("loading %s: %w", filepath.Base(path), err)
			}
		}
		names = append(names, name)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing load transaction: %w", err)
	}
	return names, nil
}

// initJSONLFile creates an empty data file for a collection when missing.
func initJSONLFile(dataDir, collection string) error {
	path := collectionPath(dataDir, collection)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
