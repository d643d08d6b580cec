package form

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// State is the full value of one screen: singleton fields plus any named
// repeating collections. A pure list screen has a single list and no fields.
type State struct {
	Fields Record
	Lists  map[string]Collection
}

// NewState returns an empty, initialized State.
func NewState() State {
	return State{Fields: Record{}, Lists: map[string]Collection{}}
}

// List returns the named collection (nil when absent).
func (s State) List(name string) Collection {
	return s.Lists[name]
}

// HasList reports whether the state carries the named collection.
func (s State) HasList(name string) bool {
	_, ok := s.Lists[name]
	return ok
}

// Clone deep-copies the state. Used to take save snapshots.
func (s State) Clone() State {
	out := State{
		Fields: s.Fields.Clone(),
		Lists:  make(map[string]Collection, len(s.Lists)),
	}
	for name, c := range s.Lists {
		out.Lists[name] = c.Clone()
	}
	return out
}

// SetField returns a copy of s with field replaced. Lists are shared.
func SetField(s State, field string, value any) State {
	fields := s.Fields.Clone()
	fields[field] = value
	return State{Fields: fields, Lists: s.Lists}
}

// WithList returns a copy of s whose named list is c. Fields and the other
// lists are shared.
func WithList(s State, name string, c Collection) State {
	lists := make(map[string]Collection, len(s.Lists)+1)
	for k, v := range s.Lists {
		lists[k] = v
	}
	lists[name] = c
	return State{Fields: s.Fields, Lists: lists}
}

// MarshalJSON renders the state as one flat object: fields as scalars and
// lists as arrays of records.
func (s State) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Fields)+len(s.Lists))
	for k, v := range s.Fields {
		out[k] = v
	}
	for name, c := range s.Lists {
		if c == nil {
			c = Collection{}
		}
		out[name] = c
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the flat object written by MarshalJSON. Arrays become
// lists; any nested object or non-scalar record value is rejected.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := decodeNumbers(data, &raw); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("decode state: payload is not an object")
	}

	next := NewState()
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch value := raw[key].(type) {
		case []any:
			c, err := collectionFromJSON(value)
			if err != nil {
				return fmt.Errorf("decode list %q: %w", key, err)
			}
			next.Lists[key] = c
		default:
			if !IsScalar(value) {
				return fmt.Errorf("decode field %q: unsupported %T value", key, value)
			}
			next.Fields[key] = value
		}
	}
	*s = next
	return nil
}

// DecodeCollection parses a bare JSON array of flat records.
func DecodeCollection(data []byte) (Collection, error) {
	var raw []any
	if err := decodeNumbers(data, &raw); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("decode collection: payload is not an array")
	}
	return collectionFromJSON(raw)
}

// decodeNumbers decodes exactly one JSON value, keeping numbers as json.Number.
func decodeNumbers(data []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func collectionFromJSON(items []any) (Collection, error) {
	out := make(Collection, 0, len(items))
	for i, item := range items {
		object, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d: expected object, got %T", i, item)
		}
		record := make(Record, len(object))
		for field, value := range object {
			if !IsScalar(value) {
				return nil, fmt.Errorf("item %d field %q: unsupported %T value", i, field, value)
			}
			record[field] = value
		}
		out = append(out, record)
	}
	return out, nil
}
