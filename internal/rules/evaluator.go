// Package rules evaluates campaign filter and quota rules against contacts.
// Everything here is pure: no I/O, no side effects, unit-testable without a
// database.
package rules

import (
	"strings"

	"github.com/acme/campaign-dialer/internal/domain"
)

// Normalize prepares a field value or rule value for comparison.
func Normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// matchValue applies an operator to normalized contact and rule values.
func matchValue(op domain.RuleOperator, contactValue, ruleValue string) bool {
	cv := Normalize(contactValue)
	rv := Normalize(ruleValue)

	switch op {
	case domain.OperatorEquals:
		return cv == rv
	case domain.OperatorStartsWith:
		return strings.HasPrefix(cv, rv)
	case domain.OperatorContains:
		return strings.Contains(cv, rv)
	case domain.OperatorIsNotEmpty:
		return cv != ""
	default:
		return false
	}
}

// MatchesFilter tests a contact against a single filter rule. An absent field
// never matches, whatever the operator.
func MatchesFilter(contact *domain.Contact, rule domain.FilterRule) bool {
	value, ok := contact.FieldValue(rule.ContactField)
	if !ok {
		return false
	}
	return matchValue(rule.Operator, value, rule.Value)
}

// IsAdmitted applies a campaign's filter rules to a contact. Include rules
// are OR'd and default to admission when none exist; any matching exclude
// rule rejects regardless of inclusion.
func IsAdmitted(contact *domain.Contact, filterRules []domain.FilterRule) bool {
	admitted := true
	hasInclude := false

	for _, rule := range filterRules {
		if rule.RuleType != domain.FilterRuleInclude {
			continue
		}
		if !hasInclude {
			hasInclude = true
			admitted = false
		}
		if MatchesFilter(contact, rule) {
			admitted = true
		}
	}

	if !admitted && hasInclude {
		return false
	}

	for _, rule := range filterRules {
		if rule.RuleType == domain.FilterRuleExclude && MatchesFilter(contact, rule) {
			return false
		}
	}

	return admitted
}

// MatchesQuotaSegment tests whether a contact falls into a quota rule's
// segment, independent of the current count.
func MatchesQuotaSegment(contact *domain.Contact, rule domain.QuotaRule) bool {
	value, ok := contact.FieldValue(rule.ContactField)
	if !ok {
		return false
	}
	return matchValue(rule.Operator, value, rule.Value)
}

// QuotaReached reports whether the rule withholds the contact given the
// number of positive outcomes already recorded for the rule's segment.
func QuotaReached(contact *domain.Contact, rule domain.QuotaRule, currentCount int) bool {
	if !MatchesQuotaSegment(contact, rule) {
		return false
	}
	return currentCount >= rule.Limit
}

// AnyQuotaReached checks a contact against every quota rule using the counts
// computed once per campaign per distribution attempt, keyed by rule id.
func AnyQuotaReached(contact *domain.Contact, quotaRules []domain.QuotaRule, counts map[string]int) bool {
	for _, rule := range quotaRules {
		if QuotaReached(contact, rule, counts[rule.ID.String()]) {
			return true
		}
	}
	return false
}
