// Package catalog defines the wizard's sections: their field templates,
// repeating lists, collection limits, input formatters and validation rules.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"grandfinale/api/internal/form"
	"grandfinale/api/internal/phone"
)

//go:embed sections.yaml
var defaultSections []byte

// Kind tells how a section's payload is shaped.
type Kind string

const (
	// KindList sections hold exactly one collection persisted as a bare array.
	KindList Kind = "list"
	// KindForm sections hold singleton fields plus optional named lists,
	// persisted as one flat object.
	KindForm Kind = "form"
)

var formatters = map[string]form.Formatter{
	"phone": func(value string) string { return phone.Format(value).Formatted },
	"trim":  strings.TrimSpace,
}

// Catalog is an ordered, immutable set of sections.
type Catalog struct {
	sections []*Section
	byKey    map[string]*Section
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultSections)
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse compiles a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc file
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(doc.Sections) == 0 {
		return nil, fmt.Errorf("parse catalog: no sections defined")
	}

	c := &Catalog{byKey: make(map[string]*Section, len(doc.Sections))}
	for i, spec := range doc.Sections {
		section, err := compile(spec, i+1)
		if err != nil {
			return nil, fmt.Errorf("section %q: %w", spec.Key, err)
		}
		if _, dup := c.byKey[section.Key]; dup {
			return nil, fmt.Errorf("section %q: duplicate key", section.Key)
		}
		c.byKey[section.Key] = section
		c.sections = append(c.sections, section)
	}
	return c, nil
}

// Lookup returns the section stored under key.
func (c *Catalog) Lookup(key string) (*Section, bool) {
	s, ok := c.byKey[key]
	return s, ok
}

// Sections returns all sections in wizard order.
func (c *Catalog) Sections() []*Section {
	out := make([]*Section, len(c.sections))
	copy(out, c.sections)
	return out
}

func compile(spec sectionSpec, order int) (*Section, error) {
	if strings.TrimSpace(spec.Key) == "" {
		return nil, fmt.Errorf("key is required")
	}
	kind := Kind(spec.Kind)
	switch kind {
	case KindForm:
	case KindList:
		if len(spec.Lists) != 1 {
			return nil, fmt.Errorf("list sections need exactly one list, got %d", len(spec.Lists))
		}
		if len(spec.Fields.Names) > 0 {
			return nil, fmt.Errorf("list sections cannot declare singleton fields")
		}
	default:
		return nil, fmt.Errorf("unknown kind %q", spec.Kind)
	}

	section := &Section{
		Key:        spec.Key,
		Title:      spec.Title,
		Order:      order,
		Kind:       kind,
		Autosave:   time.Duration(spec.Autosave),
		FieldNames: spec.Fields.Names,
		Fields:     record(spec.Fields),
		binder: form.Binder{
			Formatters: map[string]form.Formatter{},
			Lists:      map[string]form.ListBinding{},
		},
	}
	if section.Title == "" {
		section.Title = spec.Key
	}

	for field, name := range spec.Formatters {
		f, err := lookupFormatter(name)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		section.binder.Formatters[field] = f
	}

	for _, ls := range spec.Lists {
		list, binding, err := compileList(ls)
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", ls.Name, err)
		}
		if _, dup := section.List(list.Name); dup {
			return nil, fmt.Errorf("list %q: duplicate name", list.Name)
		}
		if _, clash := section.Fields[list.Name]; clash {
			return nil, fmt.Errorf("list %q: clashes with a field of the same name", list.Name)
		}
		section.Lists = append(section.Lists, list)
		section.binder.Lists[list.Name] = binding
	}

	for i, rs := range spec.Rules {
		rule, err := section.compileRule(rs)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		section.policy = append(section.policy, rule)
	}
	return section, nil
}

func compileList(spec listSpec) (List, form.ListBinding, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return List{}, form.ListBinding{}, fmt.Errorf("name is required")
	}
	limits := form.Limits{MinItems: spec.MinItems, MaxItems: spec.MaxItems}
	if limits.MinItems < 0 || limits.MaxItems < 0 {
		return List{}, form.ListBinding{}, fmt.Errorf("limits must not be negative")
	}
	if limits.MaxItems > 0 && limits.MinItems > limits.MaxItems {
		return List{}, form.ListBinding{}, fmt.Errorf("min_items %d exceeds max_items %d", limits.MinItems, limits.MaxItems)
	}
	template := record(spec.Template)
	if _, ok := template[form.IDField]; ok {
		return List{}, form.ListBinding{}, fmt.Errorf("template must not declare %q", form.IDField)
	}

	binding := form.ListBinding{
		Formatters: map[string]form.Formatter{},
		Exclusive:  map[string]bool{},
	}
	for _, field := range spec.Exclusive {
		if _, isBool := template[field].(bool); !isBool {
			return List{}, form.ListBinding{}, fmt.Errorf("exclusive field %q must default to a boolean", field)
		}
		binding.Exclusive[field] = true
	}
	for field, name := range spec.Formatters {
		f, err := lookupFormatter(name)
		if err != nil {
			return List{}, form.ListBinding{}, fmt.Errorf("field %q: %w", field, err)
		}
		binding.Formatters[field] = f
	}

	title := spec.Title
	if title == "" {
		title = spec.Name
	}
	return List{
		Name:       spec.Name,
		Title:      title,
		Limits:     limits,
		FieldNames: spec.Template.Names,
		Template:   template,
	}, binding, nil
}

func (s *Section) compileRule(spec ruleSpec) (form.Rule, error) {
	switch spec.Kind {
	case "min_items":
		if _, ok := s.List(spec.List); !ok {
			return nil, fmt.Errorf("unknown list %q", spec.List)
		}
		atLeast := spec.Min
		if atLeast <= 0 {
			atLeast = 1
		}
		return form.RequireItems(spec.List, atLeast, message(spec)), nil
	case "each":
		if _, ok := s.List(spec.List); !ok {
			return nil, fmt.Errorf("unknown list %q", spec.List)
		}
		if len(spec.Checks) == 0 {
			return nil, fmt.Errorf("each rule for %q has no checks", spec.List)
		}
		checks := make([]form.Check, 0, len(spec.Checks))
		for _, cs := range spec.Checks {
			check, err := compileCheck(cs)
			if err != nil {
				return nil, err
			}
			checks = append(checks, check)
		}
		return form.EachItem(spec.List, checks...), nil
	default:
		check, err := compileCheck(spec)
		if err != nil {
			return nil, err
		}
		return form.Fields(check), nil
	}
}

func compileCheck(spec ruleSpec) (form.Check, error) {
	switch spec.Kind {
	case "required":
		if spec.Field == "" {
			return form.Check{}, fmt.Errorf("required check needs a field")
		}
		return form.Required(spec.Field, message(spec)), nil
	case "required_all":
		if len(spec.Fields) == 0 {
			return form.Check{}, fmt.Errorf("required_all check needs fields")
		}
		return form.RequiredAll(spec.Fields, message(spec)), nil
	case "required_when":
		if spec.Field == "" || spec.When == "" {
			return form.Check{}, fmt.Errorf("required_when check needs field and when")
		}
		return form.RequiredWhen(spec.Field, spec.When, spec.Equals, message(spec)), nil
	case "after":
		if spec.Field == "" || spec.Other == "" {
			return form.Check{}, fmt.Errorf("after check needs field and other")
		}
		return form.After(spec.Field, spec.Other, message(spec)), nil
	default:
		return form.Check{}, fmt.Errorf("unknown rule kind %q", spec.Kind)
	}
}

func message(spec ruleSpec) string {
	if spec.Message != "" {
		return spec.Message
	}
	target := spec.Field
	if target == "" {
		target = spec.List
	}
	return fmt.Sprintf("%s is invalid.", target)
}

func lookupFormatter(name string) (form.Formatter, error) {
	f, ok := formatters[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter %q", name)
	}
	return f, nil
}

func record(fields orderedFields) form.Record {
	out := make(form.Record, len(fields.Values))
	for k, v := range fields.Values {
		out[k] = v
	}
	return out
}
