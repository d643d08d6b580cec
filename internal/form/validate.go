package form

import (
	"strings"
	"time"
)

// Violation describes the first failing predicate of a Policy.
type Violation struct {
	List     string `json:"list,omitempty"`
	RecordID string `json:"recordId,omitempty"`
	Field    string `json:"field,omitempty"`
	Reason   string `json:"reason"`
}

func (v *Violation) Error() string {
	return v.Reason
}

// Result is the outcome of Policy.Validate. A nil Violation means valid.
type Result struct {
	Violation *Violation `json:"violation,omitempty"`
}

// OK reports whether validation passed.
func (r Result) OK() bool {
	return r.Violation == nil
}

// Reason returns the human readable failure, or "" when valid.
func (r Result) Reason() string {
	if r.Violation == nil {
		return ""
	}
	return r.Violation.Reason
}

// Rule is one step of a Policy.
type Rule interface {
	Check(State) *Violation
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(State) *Violation

func (f RuleFunc) Check(s State) *Violation {
	return f(s)
}

// Policy is an ordered list of rules evaluated fail-fast.
type Policy []Rule

// Validate returns the violation of the first failing rule.
func (p Policy) Validate(s State) Result {
	for _, rule := range p {
		if v := rule.Check(s); v != nil {
			return Result{Violation: v}
		}
	}
	return Result{}
}

// Check is a predicate over a single record. Test returns the failing field
// and false when the record does not satisfy it.
type Check struct {
	Reason string
	Test   func(Record) (string, bool)
}

// Required demands a non-blank value in field.
func Required(field, reason string) Check {
	return Check{Reason: reason, Test: func(r Record) (string, bool) {
		return field, present(r[field])
	}}
}

// RequiredAll demands every listed field; the first blank one is reported.
func RequiredAll(fields []string, reason string) Check {
	return Check{Reason: reason, Test: func(r Record) (string, bool) {
		for _, field := range fields {
			if !present(r[field]) {
				return field, false
			}
		}
		return "", true
	}}
}

// RequiredWhen demands field only while whenField equals the given value.
func RequiredWhen(field, whenField, equals, reason string) Check {
	return Check{Reason: reason, Test: func(r Record) (string, bool) {
		if r.String(whenField) != equals {
			return field, true
		}
		return field, present(r[field])
	}}
}

// After demands that the date in field is strictly later than the date in
// other. Missing or unparseable dates pass; Required covers presence.
func After(field, other, reason string) Check {
	return Check{Reason: reason, Test: func(r Record) (string, bool) {
		later, ok := parseDate(r.String(field))
		if !ok {
			return field, true
		}
		earlier, ok := parseDate(r.String(other))
		if !ok {
			return field, true
		}
		return field, later.After(earlier)
	}}
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "01/02/2006"}

func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// RequireItems fails when the named list holds fewer than min records.
func RequireItems(list string, min int, reason string) Rule {
	return RuleFunc(func(s State) *Violation {
		if len(s.Lists[list]) < min {
			return &Violation{List: list, Reason: reason}
		}
		return nil
	})
}

// EachItem runs checks record by record in display order. Within a record the
// checks run in the order given.
func EachItem(list string, checks ...Check) Rule {
	return RuleFunc(func(s State) *Violation {
		for _, record := range s.Lists[list] {
			for _, check := range checks {
				if field, ok := check.Test(record); !ok {
					return &Violation{List: list, RecordID: record.ID(), Field: field, Reason: check.Reason}
				}
			}
		}
		return nil
	})
}

// Fields runs checks against the singleton fields of a state.
func Fields(checks ...Check) Rule {
	return RuleFunc(func(s State) *Violation {
		for _, check := range checks {
			if field, ok := check.Test(s.Fields); !ok {
				return &Violation{Field: field, Reason: check.Reason}
			}
		}
		return nil
	})
}
