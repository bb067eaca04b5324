// Package reconcile decides the plan-change verdict for a policy from the CRM's
// prior state and a fresh enrollment observation.
//
// Rules are evaluated in order and the first match wins:
//
//  1. not enrolled             -> blank update, no verdict
//  2. blank policy number      -> none
//  3. contract in policy no.   -> match
//  4. prior match, now missing -> Alert (counted)
//  5. prior Alert/Resolved/Retained -> carried forward
//  6. prior none, lead stamped before, sold >= GraceDays ago -> Alert (counted)
//  7. otherwise                -> none
//
// Decide is pure: the same inputs always give the same Decision.
package reconcile

import (
	"strings"
	"time"

	"github.com/sells-group/marx-cli/internal/model"
)

// GraceDays is how long after the sale an unmatched lead may stay unflagged.
const GraceDays = 14

// Rule identifies which step of the ladder produced a decision.
type Rule int

const (
	RuleNotEnrolled Rule = iota + 1
	RuleNoPolicyNumber
	RuleMatch
	RuleMatchLost
	RuleSticky
	RuleGraceExpired
	RuleDefault
)

var ruleNames = map[Rule]string{
	RuleNotEnrolled:    "not_enrolled",
	RuleNoPolicyNumber: "no_policy_number",
	RuleMatch:          "match",
	RuleMatchLost:      "match_lost",
	RuleSticky:         "sticky",
	RuleGraceExpired:   "grace_expired",
	RuleDefault:        "default",
}

func (r Rule) String() string {
	if s, ok := ruleNames[r]; ok {
		return s
	}
	return "unknown"
}

// Input bundles everything a decision depends on.
type Input struct {
	Policy      model.PolicyRecord
	SoldOn      time.Time
	Observation model.EnrollmentObservation
	Prior       model.PlanChangeState
	Today       time.Time
}

// Decision is the outcome for one policy.
type Decision struct {
	Result model.PlanChangeResult
	// Alert is true when this decision raises a new alert and should be counted.
	Alert bool
	// BlankUpdate is true when only marx_last_udpate should be written.
	BlankUpdate bool
	Rule        Rule
}

// Decide runs the rule ladder.
func Decide(in Input) Decision {
	if !in.Observation.Enrolled {
		return Decision{BlankUpdate: true, Rule: RuleNotEnrolled}
	}

	policyNumber := in.Policy.PolicyNumber
	if strings.TrimSpace(policyNumber) == "" {
		return Decision{Result: model.ResultNone, Rule: RuleNoPolicyNumber}
	}

	contract := in.Observation.ContractCode
	if strings.Contains(policyNumber, contract) {
		return Decision{Result: model.ResultMatch, Rule: RuleMatch}
	}

	prior := in.Prior.PlanChangeResult
	switch {
	case prior == model.ResultMatch:
		return Decision{Result: model.ResultAlert, Alert: true, Rule: RuleMatchLost}
	case prior.IsSticky():
		return Decision{Result: prior, Rule: RuleSticky}
	case prior.IsNone() && in.Prior.HasBeenObserved() && DaysBetween(in.SoldOn, in.Today) >= GraceDays:
		return Decision{Result: model.ResultAlert, Alert: true, Rule: RuleGraceExpired}
	}

	return Decision{Result: model.ResultNone, Rule: RuleDefault}
}

// DaysBetween returns the number of calendar days from a to b, ignoring time of day.
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
