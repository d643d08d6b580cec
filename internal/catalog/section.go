package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	"grandfinale/api/internal/form"
	"grandfinale/api/internal/util"
)

// Section is one compiled wizard screen.
type Section struct {
	Key      string
	Title    string
	Order    int
	Kind     Kind
	Autosave time.Duration

	// FieldNames lists the singleton fields in declaration order.
	FieldNames []string
	Fields     form.Record
	Lists      []List

	binder form.Binder
	policy form.Policy
}

// List describes one repeating collection of a section.
type List struct {
	Name       string
	Title      string
	Limits     form.Limits
	FieldNames []string
	Template   form.Record
}

// List returns the named list definition.
func (s *Section) List(name string) (List, bool) {
	for _, l := range s.Lists {
		if l.Name == name {
			return l, true
		}
	}
	return List{}, false
}

// Binder returns the field binder configured for this section.
func (s *Section) Binder() form.Binder { return s.binder }

// Policy returns the ordered validation rules.
func (s *Section) Policy() form.Policy { return s.policy }

// Validate runs the section policy against state.
func (s *Section) Validate(state form.State) form.Result {
	return s.policy.Validate(state)
}

// Default builds the initial state: the field template plus, for every list,
// as many blank records as its minimum requires.
func (s *Section) Default(ids util.IDGenerator) form.State {
	state := form.NewState()
	for k, v := range s.Fields {
		state.Fields[k] = v
	}
	for _, l := range s.Lists {
		c := form.Collection{}
		for len(c) < l.Limits.MinItems {
			c = form.Append(c, l.Template, l.Limits, ids)
		}
		state.Lists[l.Name] = c
	}
	return state
}

// Decode parses a persisted payload and overlays it onto the section
// default. Missing template fields are filled in and records without a
// usable id receive a fresh one. Lists holding more records than MaxItems
// are kept as loaded. A nil ids falls back to random UUIDs.
func (s *Section) Decode(payload []byte, ids util.IDGenerator) (form.State, error) {
	if ids == nil {
		ids = util.UUIDGenerator{}
	}
	loaded := form.NewState()
	if s.Kind == KindList {
		c, err := form.DecodeCollection(payload)
		if err != nil {
			return form.State{}, fmt.Errorf("%s: %w", s.Key, err)
		}
		loaded.Lists[s.Lists[0].Name] = c
	} else if err := json.Unmarshal(payload, &loaded); err != nil {
		return form.State{}, fmt.Errorf("%s: %w", s.Key, err)
	}

	state := s.Default(ids)
	for k, v := range loaded.Fields {
		state.Fields[k] = v
	}
	for name, c := range loaded.Lists {
		var template form.Record
		if l, ok := s.List(name); ok {
			template = l.Template
		}
		state.Lists[name] = repair(c, template, ids)
	}
	return state, nil
}

// Encode renders state in the section's persisted shape.
func (s *Section) Encode(state form.State) ([]byte, error) {
	if s.Kind == KindList {
		c := state.List(s.Lists[0].Name)
		if c == nil {
			c = form.Collection{}
		}
		return json.Marshal(c)
	}
	return json.Marshal(state)
}

func repair(c form.Collection, template form.Record, ids util.IDGenerator) form.Collection {
	out := make(form.Collection, 0, len(c))
	seen := make(map[string]bool, len(c))
	for _, loaded := range c {
		record := template.Clone()
		for k, v := range loaded {
			record[k] = v
		}
		id := record.ID()
		for id == "" || seen[id] {
			id = ids.NewID()
		}
		record[form.IDField] = id
		seen[id] = true
		out = append(out, record)
	}
	return out
}
