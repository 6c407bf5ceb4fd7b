package rules

import (
	"testing"

	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
)

func testContact() *domain.Contact {
	return &domain.Contact{
		ID:          uuid.New(),
		PhoneNumber: "+33612345678",
		FirstName:   "  Marie ",
		LastName:    "Dupont",
		PostalCode:  "75000",
		CustomFields: map[string]string{
			"segment": "Premium",
			"empty":   "   ",
		},
	}
}

func TestMatchesFilterOperators(t *testing.T) {
	contact := testContact()

	cases := []struct {
		name string
		rule domain.FilterRule
		want bool
	}{
		{"equals trims and lower-cases", domain.FilterRule{ContactField: domain.FieldFirstName, Operator: domain.OperatorEquals, Value: "MARIE"}, true},
		{"equals mismatch", domain.FilterRule{ContactField: domain.FieldFirstName, Operator: domain.OperatorEquals, Value: "paul"}, false},
		{"starts_with on postal code", domain.FilterRule{ContactField: domain.FieldPostalCode, Operator: domain.OperatorStartsWith, Value: "75"}, true},
		{"contains on custom field", domain.FilterRule{ContactField: "segment", Operator: domain.OperatorContains, Value: "emiu"}, true},
		{"is_not_empty on populated field", domain.FilterRule{ContactField: domain.FieldLastName, Operator: domain.OperatorIsNotEmpty}, true},
		{"is_not_empty on whitespace-only field", domain.FilterRule{ContactField: "empty", Operator: domain.OperatorIsNotEmpty}, false},
		{"absent field never matches", domain.FilterRule{ContactField: "missing", Operator: domain.OperatorIsNotEmpty}, false},
		{"unknown operator never matches", domain.FilterRule{ContactField: domain.FieldLastName, Operator: "regex", Value: ".*"}, false},
	}

	for _, tc := range cases {
		if got := MatchesFilter(contact, tc.rule); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsAdmittedNoRules(t *testing.T) {
	if !IsAdmitted(testContact(), nil) {
		t.Fatal("contact with no rules must be admitted")
	}
}

func TestIsAdmittedIncludeSemantics(t *testing.T) {
	contact := testContact()

	includeMatching := domain.FilterRule{RuleType: domain.FilterRuleInclude, ContactField: domain.FieldPostalCode, Operator: domain.OperatorStartsWith, Value: "75"}
	includeOther := domain.FilterRule{RuleType: domain.FilterRuleInclude, ContactField: domain.FieldPostalCode, Operator: domain.OperatorEquals, Value: "13000"}

	if !IsAdmitted(contact, []domain.FilterRule{includeOther, includeMatching}) {
		t.Error("matching any include rule must admit (OR semantics)")
	}
	if IsAdmitted(contact, []domain.FilterRule{includeOther}) {
		t.Error("contact matching no include rule must be rejected")
	}
}

func TestIsAdmittedExcludeDominates(t *testing.T) {
	contact := testContact()

	include := domain.FilterRule{RuleType: domain.FilterRuleInclude, ContactField: domain.FieldPostalCode, Operator: domain.OperatorEquals, Value: "75000"}
	exclude := domain.FilterRule{RuleType: domain.FilterRuleExclude, ContactField: "segment", Operator: domain.OperatorEquals, Value: "premium"}

	if IsAdmitted(contact, []domain.FilterRule{include, exclude}) {
		t.Error("matching an exclude rule must reject even with a matching include rule")
	}
	if IsAdmitted(contact, []domain.FilterRule{exclude}) {
		t.Error("exclude-only rule set must reject matching contacts")
	}

	excludeMiss := domain.FilterRule{RuleType: domain.FilterRuleExclude, ContactField: "segment", Operator: domain.OperatorEquals, Value: "basic"}
	if !IsAdmitted(contact, []domain.FilterRule{excludeMiss}) {
		t.Error("non-matching exclude rule must not reject")
	}
}

func TestQuotaReached(t *testing.T) {
	contact := testContact()
	rule := domain.QuotaRule{
		ID:           uuid.New(),
		ContactField: domain.FieldPostalCode,
		Operator:     domain.OperatorEquals,
		Value:        "75000",
		Limit:        2,
	}

	if QuotaReached(contact, rule, 1) {
		t.Error("quota below limit must not withhold")
	}
	if !QuotaReached(contact, rule, 2) {
		t.Error("quota at limit must withhold matching contact")
	}
	if !QuotaReached(contact, rule, 5) {
		t.Error("quota above limit must withhold matching contact")
	}

	other := *contact
	other.PostalCode = "13000"
	if QuotaReached(&other, rule, 10) {
		t.Error("contact outside the segment must never be withheld by the rule")
	}
}

func TestAnyQuotaReached(t *testing.T) {
	contact := testContact()
	full := domain.QuotaRule{ID: uuid.New(), ContactField: domain.FieldPostalCode, Operator: domain.OperatorEquals, Value: "75000", Limit: 1}
	open := domain.QuotaRule{ID: uuid.New(), ContactField: "segment", Operator: domain.OperatorEquals, Value: "premium", Limit: 10}

	counts := map[string]int{
		full.ID.String(): 1,
		open.ID.String(): 3,
	}

	if !AnyQuotaReached(contact, []domain.QuotaRule{open, full}, counts) {
		t.Error("one exhausted quota must withhold the contact")
	}
	if AnyQuotaReached(contact, []domain.QuotaRule{open}, counts) {
		t.Error("open quota must not withhold the contact")
	}
	if AnyQuotaReached(contact, nil, nil) {
		t.Error("no quota rules must never withhold")
	}
}
