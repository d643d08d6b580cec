// Package form holds the in-memory state of a wizard screen: flat records,
// repeating collections keyed by id, field binding and validation.
//
// Every operation is copy-on-write. Callers get a new Collection or State
// back and the input is never mutated, so records that did not change stay
// shared between the old and the new value.
package form

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IDField is the reserved record field carrying the record's identity.
const IDField = "id"

// Record is a flat mapping of field name to scalar value.
type Record map[string]any

// ID returns the record identity, or "" when unset.
func (r Record) ID() string {
	id, _ := r[IDField].(string)
	return id
}

// Clone returns a shallow copy; values are scalars so this is a full copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the field as a string. Non-string scalars are rendered with fmt.
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Bool reports whether the field holds boolean true.
func (r Record) Bool(field string) bool {
	v, _ := r[field].(bool)
	return v
}

// IsScalar reports whether v may be stored in a Record.
func IsScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, json.Number,
		float32, float64, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

// present reports whether a value counts as filled in.
func present(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(value) != ""
	default:
		return true
	}
}

// Collection is an ordered list of records of one shape.
type Collection []Record

// IDs returns record ids in display order.
func (c Collection) IDs() []string {
	ids := make([]string, len(c))
	for i, r := range c {
		ids[i] = r.ID()
	}
	return ids
}

// Index returns the position of id, or -1.
func (c Collection) Index(id string) int {
	for i, r := range c {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

// Find returns the record with id.
func (c Collection) Find(id string) (Record, bool) {
	if i := c.Index(id); i >= 0 {
		return c[i], true
	}
	return nil, false
}

// Clone deep-copies the collection.
func (c Collection) Clone() Collection {
	if c == nil {
		return nil
	}
	out := make(Collection, len(c))
	for i, r := range c {
		out[i] = r.Clone()
	}
	return out
}
