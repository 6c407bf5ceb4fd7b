package domain

import (
	"time"

	"github.com/google/uuid"
)

// DialingMode controls whether the engine auto-dials a claimed contact or
// waits for the agent to click. It never changes contact selection.
type DialingMode string

const (
	DialingModeManual      DialingMode = "manual"
	DialingModeProgressive DialingMode = "progressive"
	DialingModePredictive  DialingMode = "predictive"
)

// FilterRuleType partitions filter rules into admission and exclusion sets.
type FilterRuleType string

const (
	FilterRuleInclude FilterRuleType = "include"
	FilterRuleExclude FilterRuleType = "exclude"
)

// RuleOperator enumerates the comparison operators available to rules.
type RuleOperator string

const (
	OperatorEquals     RuleOperator = "equals"
	OperatorStartsWith RuleOperator = "starts_with"
	OperatorContains   RuleOperator = "contains"
	OperatorIsNotEmpty RuleOperator = "is_not_empty"
)

// Campaign models a dialing campaign: who may pull from it, in which order it
// is served, and the business rules rationing its contacts.
type Campaign struct {
	ID                   uuid.UUID
	Name                 string
	Priority             int
	IsActive             bool
	DialingMode          DialingMode
	QualificationGroupID *uuid.UUID
	WrapUpTime           time.Duration
	MaxConcurrentDials   int
	QuotaRules           []QuotaRule
	FilterRules          []FilterRule
	AssignedAgentIDs     []uuid.UUID
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// QuotaRule caps how many positive outcomes a contact segment may accumulate
// before further contacts in that segment are withheld.
type QuotaRule struct {
	ID           uuid.UUID
	ContactField string
	Operator     RuleOperator
	Value        string
	Limit        int
}

// FilterRule is an admission or exclusion predicate over contact fields,
// independent of outcome history.
type FilterRule struct {
	ID           uuid.UUID
	RuleType     FilterRuleType
	ContactField string
	Operator     RuleOperator
	Value        string
}
