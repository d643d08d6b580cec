package form

// Formatter rewrites a typed string before it is stored. Formatters must be
// idempotent and must not fail on partial input.
type Formatter func(string) string

// ListBinding configures edits to the records of one collection.
type ListBinding struct {
	Formatters map[string]Formatter
	// Exclusive names boolean fields of which at most one record may be true.
	Exclusive map[string]bool
}

// Binder maps input events onto State transitions. It performs no validation.
type Binder struct {
	Formatters map[string]Formatter
	Lists      map[string]ListBinding
}

// BindField applies a singleton field edit.
func (b Binder) BindField(s State, field string, value any) State {
	return SetField(s, field, format(b.Formatters, field, value))
}

// BindItem applies an edit to one record of the named list. Setting an
// exclusive flag to true clears it on every other record in the same step.
func (b Binder) BindItem(s State, list, id, field string, value any) State {
	current, ok := s.Lists[list]
	if !ok {
		return s
	}
	binding := b.Lists[list]
	value = format(binding.Formatters, field, value)

	var next Collection
	if on, isBool := value.(bool); isBool && on && binding.Exclusive[field] {
		next = SetExclusive(current, id, field)
	} else {
		next = UpdateField(current, id, field, value)
	}
	if sameCollection(current, next) {
		return s
	}
	return WithList(s, list, next)
}

func format(formatters map[string]Formatter, field string, value any) any {
	text, ok := value.(string)
	if !ok {
		return value
	}
	if f := formatters[field]; f != nil {
		return f(text)
	}
	return text
}

// sameCollection reports whether two collections share their backing array
// and length, which is how unchanged results are returned.
func sameCollection(a, b Collection) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}
