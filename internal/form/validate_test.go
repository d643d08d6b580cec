package form

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func emergencyContactsPolicy() Policy {
	return Policy{
		RequireItems("contacts", 1, "At least one emergency contact is required."),
		EachItem("contacts",
			Required("full_name", "Full name is required for all emergency contacts."),
			Required("phone", "Phone number is required for all emergency contacts."),
			RequiredWhen("custom_relationship", "relationship", "Other", "Custom relationship is required when 'Other' is selected."),
		),
	}
}

func contactsState(records ...Record) State {
	return WithList(NewState(), "contacts", Collection(records))
}

func TestPolicyFailFastOrdering(t *testing.T) {
	policy := emergencyContactsPolicy()

	tests := []struct {
		name  string
		state State
		want  *Violation
	}{
		{
			name:  "empty collection beats everything",
			state: contactsState(),
			want:  &Violation{List: "contacts", Reason: "At least one emergency contact is required."},
		},
		{
			name: "name before phone on the same record",
			state: contactsState(
				Record{IDField: "a", "full_name": " ", "phone": "", "relationship": "Other"},
			),
			want: &Violation{List: "contacts", RecordID: "a", Field: "full_name", Reason: "Full name is required for all emergency contacts."},
		},
		{
			name: "earlier record wins over earlier predicate",
			state: contactsState(
				Record{IDField: "a", "full_name": "Ada", "phone": ""},
				Record{IDField: "b", "full_name": "", "phone": ""},
			),
			want: &Violation{List: "contacts", RecordID: "a", Field: "phone", Reason: "Phone number is required for all emergency contacts."},
		},
		{
			name: "custom relationship when Other",
			state: contactsState(
				Record{IDField: "a", "full_name": "Ada", "phone": "555-1234", "relationship": "Other", "custom_relationship": ""},
			),
			want: &Violation{List: "contacts", RecordID: "a", Field: "custom_relationship", Reason: "Custom relationship is required when 'Other' is selected."},
		},
		{
			name: "valid",
			state: contactsState(
				Record{IDField: "a", "full_name": "Ada", "phone": "555-1234", "relationship": "Sibling"},
				Record{IDField: "b", "full_name": "Bo", "phone": "555-9876", "relationship": "Other", "custom_relationship": "Neighbour"},
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := policy.Validate(tt.state)
			if diff := cmp.Diff(tt.want, result.Violation); diff != "" {
				t.Fatalf("violation mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.want == nil, result.OK())
		})
	}
}

func TestPassportChecks(t *testing.T) {
	policy := Policy{
		RequireItems("passports", 1, "Please add at least one passport."),
		EachItem("passports",
			RequiredAll([]string{"issuing_country", "passport_number", "issue_date", "expiration_date"}, "Please fill in all required passport fields."),
			After("expiration_date", "issue_date", "Expiration date must be after issue date."),
		),
	}
	state := func(r Record) State {
		return WithList(NewState(), "passports", Collection{r})
	}

	result := policy.Validate(state(Record{IDField: "p", "issuing_country": "Canada", "passport_number": "X1"}))
	assert.Equal(t, "issue_date", result.Violation.Field)

	result = policy.Validate(state(Record{
		IDField: "p", "issuing_country": "Canada", "passport_number": "X1",
		"issue_date": "2020-05-01", "expiration_date": "2020-05-01",
	}))
	assert.Equal(t, "Expiration date must be after issue date.", result.Reason())

	result = policy.Validate(state(Record{
		IDField: "p", "issuing_country": "Canada", "passport_number": "X1",
		"issue_date": "2020-05-01", "expiration_date": "2030-05-01",
	}))
	assert.True(t, result.OK())
	assert.Equal(t, "", result.Reason())
}

func TestAfterIgnoresUnparseableDates(t *testing.T) {
	check := After("end", "start", "bad")
	_, ok := check.Test(Record{"end": "soon", "start": "2020-01-01"})
	assert.True(t, ok)
	_, ok = check.Test(Record{"end": "01/02/2020", "start": "2020-01-03T00:00:00Z"})
	assert.False(t, ok)
}

func TestFieldsRule(t *testing.T) {
	policy := Policy{Fields(
		Required("firstName", "First name is required."),
		Required("lastName", "Last name is required."),
	)}

	s := SetField(NewState(), "firstName", "Grace")
	result := policy.Validate(s)
	assert.Equal(t, &Violation{Field: "lastName", Reason: "Last name is required."}, result.Violation)
	assert.EqualError(t, result.Violation, "Last name is required.")

	s = SetField(s, "lastName", "Hopper")
	assert.True(t, policy.Validate(s).OK())
}

func TestRequiredTreatsFalseAsPresent(t *testing.T) {
	_, ok := Required("agreed", "x").Test(Record{"agreed": false})
	assert.True(t, ok)
	_, ok = Required("agreed", "x").Test(Record{})
	assert.False(t, ok)
}
