package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/marx-cli/internal/model"
)

var today = time.Date(2024, 6, 21, 9, 30, 0, 0, time.Local)

func input(policyNumber, contract string, prior model.PlanChangeState, soldDaysAgo int) Input {
	return Input{
		Policy:      model.PolicyRecord{PolicyID: "p1", LeadID: "l1", PolicyNumber: policyNumber},
		SoldOn:      today.AddDate(0, 0, -soldDaysAgo),
		Observation: model.EnrollmentObservation{Enrolled: true, ContractCode: contract, PBP: "1"},
		Prior:       prior,
		Today:       today,
	}
}

func TestDecide_NotEnrolled(t *testing.T) {
	in := input("HMO-H1234-001", "", model.PlanChangeState{PlanChangeResult: model.ResultMatch}, 30)
	in.Observation = model.EnrollmentObservation{Enrolled: false}

	d := Decide(in)
	assert.True(t, d.BlankUpdate)
	assert.False(t, d.Alert)
	assert.Equal(t, RuleNotEnrolled, d.Rule)
}

func TestDecide_BlankPolicyNumber(t *testing.T) {
	d := Decide(input("  ", "H1234", model.PlanChangeState{PlanChangeResult: model.ResultMatch, LastUpdateDate: "01/01/2024"}, 30))
	assert.Equal(t, model.ResultNone, d.Result)
	assert.False(t, d.Alert)
	assert.Equal(t, RuleNoPolicyNumber, d.Rule)
}

func TestDecide_SubstringMatch(t *testing.T) {
	d := Decide(input("HMO-H1234-001", "H1234", model.PlanChangeState{}, 0))
	assert.Equal(t, model.ResultMatch, d.Result)
	assert.False(t, d.Alert)
	assert.Equal(t, RuleMatch, d.Rule)
}

func TestDecide_MatchBeatsStickyPrior(t *testing.T) {
	d := Decide(input("HMO-H1234-001", "H1234", model.PlanChangeState{PlanChangeResult: model.ResultAlert}, 30))
	assert.Equal(t, model.ResultMatch, d.Result)
}

func TestDecide_MatchLostRaisesAlert(t *testing.T) {
	d := Decide(input("HMO-H1234-001", "H9999", model.PlanChangeState{PlanChangeResult: model.ResultMatch}, 1))
	assert.Equal(t, model.ResultAlert, d.Result)
	assert.True(t, d.Alert)
	assert.Equal(t, RuleMatchLost, d.Rule)
}

func TestDecide_StickyStatesCarryForward(t *testing.T) {
	for _, prior := range []model.PlanChangeResult{model.ResultResolved, model.ResultRetained, model.ResultAlert} {
		t.Run(string(prior), func(t *testing.T) {
			d := Decide(input("HMO-H1234-001", "H9999", model.PlanChangeState{PlanChangeResult: prior, LastUpdateDate: "01/01/2024"}, 60))
			assert.Equal(t, prior, d.Result)
			assert.False(t, d.Alert, "carried state is not a new alert")
			assert.Equal(t, RuleSticky, d.Rule)
		})
	}
}

func TestDecide_GraceExpiredRaisesAlert(t *testing.T) {
	d := Decide(input("HMO-H1234-001", "H9999", model.PlanChangeState{LastUpdateDate: "01/01/2024"}, 20))
	assert.Equal(t, model.ResultAlert, d.Result)
	assert.True(t, d.Alert)
	assert.Equal(t, RuleGraceExpired, d.Rule)
}

func TestDecide_GraceBoundary(t *testing.T) {
	prior := model.PlanChangeState{LastUpdateDate: "01/01/2024"}

	d := Decide(input("HMO-H1234-001", "H9999", prior, GraceDays))
	assert.Equal(t, model.ResultAlert, d.Result, "exactly GraceDays days triggers")

	d = Decide(input("HMO-H1234-001", "H9999", prior, GraceDays-1))
	assert.Equal(t, model.ResultNone, d.Result)
	assert.False(t, d.Alert)
	assert.Equal(t, RuleDefault, d.Rule)
}

func TestDecide_FirstObservationNeverAlerts(t *testing.T) {
	for _, prior := range []model.PlanChangeState{{}, {LastUpdateDate: "None"}} {
		d := Decide(input("HMO-H1234-001", "H9999", prior, 90))
		assert.Equal(t, model.ResultNone, d.Result)
		assert.False(t, d.Alert)
	}
}

func TestDecide_PriorNoneStringIsAbsent(t *testing.T) {
	prior := model.PlanChangeState{
		LastUpdateDate:   "01/01/2024",
		PlanChangeResult: model.ParsePlanChangeResult("None"),
	}
	d := Decide(input("HMO-H1234-001", "H9999", prior, 30))
	assert.Equal(t, model.ResultAlert, d.Result)
}

func TestDecide_Idempotent(t *testing.T) {
	cases := []Input{
		input("HMO-H1234-001", "H1234", model.PlanChangeState{}, 3),
		input("HMO-H1234-001", "H9999", model.PlanChangeState{PlanChangeResult: model.ResultMatch}, 3),
		input("HMO-H1234-001", "H9999", model.PlanChangeState{PlanChangeResult: model.ResultResolved}, 3),
		input("HMO-H1234-001", "H9999", model.PlanChangeState{LastUpdateDate: "01/01/2024"}, 30),
	}
	for _, in := range cases {
		assert.Equal(t, Decide(in), Decide(in))
	}
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 6, 1, 23, 59, 0, 0, time.Local)
	b := time.Date(2024, 6, 2, 0, 1, 0, 0, time.Local)
	assert.Equal(t, 1, DaysBetween(a, b))
	assert.Equal(t, 0, DaysBetween(a, a))
	assert.Equal(t, -1, DaysBetween(b, a))
	assert.Equal(t, 366, DaysBetween(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestRule_String(t *testing.T) {
	assert.Equal(t, "match_lost", RuleMatchLost.String())
	assert.Equal(t, "unknown", Rule(99).String())
}
