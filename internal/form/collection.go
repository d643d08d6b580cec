package form

import "grandfinale/api/internal/util"

// Limits bounds the size of a collection. MaxItems == 0 means unbounded.
type Limits struct {
	MinItems int `yaml:"min_items" json:"minItems"`
	MaxItems int `yaml:"max_items" json:"maxItems"`
}

// CanAdd reports whether a collection of length n may grow.
func (l Limits) CanAdd(n int) bool {
	return l.MaxItems <= 0 || n < l.MaxItems
}

// CanRemove reports whether a collection of length n may shrink.
func (l Limits) CanRemove(n int) bool {
	floor := l.MinItems
	if floor < 0 {
		floor = 0
	}
	return n > floor
}

// Append adds a copy of template with a fresh id at the end of c. At the
// MaxItems cap c is returned unchanged.
func Append(c Collection, template Record, limits Limits, ids util.IDGenerator) Collection {
	if !limits.CanAdd(len(c)) {
		return c
	}
	if ids == nil {
		ids = util.UUIDGenerator{}
	}

	record := template.Clone()
	id := ids.NewID()
	for id == "" || c.Index(id) >= 0 {
		id = ids.NewID()
	}
	record[IDField] = id

	out := make(Collection, len(c), len(c)+1)
	copy(out, c)
	return append(out, record)
}

// UpdateField sets field on the record matching id. Other records are shared
// with c. Unknown ids and writes to the id field leave c unchanged.
func UpdateField(c Collection, id, field string, value any) Collection {
	if field == IDField {
		return c
	}
	i := c.Index(id)
	if i < 0 {
		return c
	}

	record := c[i].Clone()
	record[field] = value

	out := make(Collection, len(c))
	copy(out, c)
	out[i] = record
	return out
}

// Remove drops the record matching id. Callers check CanRemove first; Remove
// itself does not enforce the minimum.
func Remove(c Collection, id string) Collection {
	i := c.Index(id)
	if i < 0 {
		return c
	}
	out := make(Collection, 0, len(c)-1)
	out = append(out, c[:i]...)
	return append(out, c[i+1:]...)
}

// CanRemove reports whether one more record may be removed from c.
func CanRemove(c Collection, limits Limits) bool {
	return limits.CanRemove(len(c))
}

// SetExclusive sets field to true on the record matching id and to false on
// every other record, in one pass. An unknown id leaves c unchanged.
func SetExclusive(c Collection, id, field string) Collection {
	if field == IDField || c.Index(id) < 0 {
		return c
	}
	out := make(Collection, len(c))
	for i, r := range c {
		want := r.ID() == id
		if current, ok := r[field].(bool); ok && current == want {
			out[i] = r
			continue
		}
		record := r.Clone()
		record[field] = want
		out[i] = record
	}
	return out
}
