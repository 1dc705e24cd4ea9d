package datasource

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// pristineSet holds the last server-confirmed record of every saved model
// loaded by the DataSource, keyed by id. Entries survive window changes, so
// a model reverted after the view moved away and back still gets the values
// the server last confirmed.
type pristineSet struct {
	idField string
	records map[string]map[string]any
}

func newPristineSet(idField string) *pristineSet {
	return &pristineSet{idField: idField, records: make(map[string]map[string]any)}
}

// idKey normalizes an id so that ids equal under value.Equal share a key.
func idKey(id any) (string, bool) {
	id = value.Unwrap(id)
	if id == nil {
		return "", false
	}
	if f, ok := value.Float(id); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64), true
	}
	if t, ok := id.(time.Time); ok {
		return "t:" + t.UTC().Format(time.RFC3339Nano), true
	}
	return fmt.Sprintf("%T:%v", id, id), true
}

// get returns a copy of the confirmed record for id.
func (p *pristineSet) get(id any) (map[string]any, bool) {
	key, ok := idKey(id)
	if !ok {
		return nil, false
	}
	rec, ok := p.records[key]
	if !ok {
		return nil, false
	}
	return value.CloneMap(rec), true
}

// put records rec as confirmed. Records without an id are ignored.
func (p *pristineSet) put(rec map[string]any) {
	if key, ok := idKey(rec[p.idField]); ok {
		p.records[key] = value.CloneMap(rec)
	}
}

func (p *pristineSet) remove(id any) {
	if key, ok := idKey(id); ok {
		delete(p.records, key)
	}
}

// add records the current values of saved models.
func (p *pristineSet) add(models []types.Model) {
	for _, m := range models {
		if !m.IsNew() {
			p.put(m.ToMap())
		}
	}
}

// reset replaces every entry with the current values of models.
func (p *pristineSet) reset(models []types.Model) {
	clear(p.records)
	p.add(models)
}

func (p *pristineSet) len() int { return len(p.records) }
