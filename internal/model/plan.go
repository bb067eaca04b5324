package model

import "strings"

// PlanChangeResult is the reconciliation verdict stored on a CRM lead.
type PlanChangeResult string

const (
	ResultNone     PlanChangeResult = ""
	ResultMatch    PlanChangeResult = "match"
	ResultAlert    PlanChangeResult = "Alert"
	ResultResolved PlanChangeResult = "Resolved"
	ResultRetained PlanChangeResult = "Retained"
)

// ParsePlanChangeResult maps a raw CRM value to a PlanChangeResult. The CRM
// holds the literal "None" for leads written with a null result.
func ParsePlanChangeResult(raw string) PlanChangeResult {
	if isBlank(raw) {
		return ResultNone
	}
	return PlanChangeResult(strings.TrimSpace(raw))
}

// isBlank treats the CRM's stringified nulls as empty.
func isBlank(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none", "null", "nan", "false":
		return true
	}
	return false
}

// IsNone reports whether no result is recorded.
func (r PlanChangeResult) IsNone() bool { return r == ResultNone }

// IsSticky reports whether the result survives a failed re-match.
func (r PlanChangeResult) IsSticky() bool {
	switch r {
	case ResultResolved, ResultRetained, ResultAlert:
		return true
	}
	return false
}

// PlanChangeState is the MARx state the CRM holds for a lead.
type PlanChangeState struct {
	LastUpdateDate   string           `json:"marx_last_udpate"`
	ContractCode     string           `json:"marx_contract"`
	PBP              string           `json:"marx_pbp"`
	PlanChangeResult PlanChangeResult `json:"marx_plan_change_result"`
}

// HasBeenObserved reports whether a prior pass stamped the lead.
func (s PlanChangeState) HasBeenObserved() bool {
	return !isBlank(s.LastUpdateDate)
}

// PlanUpdate is the full field set written back to the CRM for a lead.
type PlanUpdate struct {
	LeadID           string
	LastUpdate       string
	ContractCode     string
	PBP              string
	PlanDescription  string
	StartDate        string
	CarrierName      string
	PlanType         string
	PlanChangeResult PlanChangeResult
}

// ContractEntry is one row of the contract directory.
type ContractEntry struct {
	ContractCode string `json:"contract_code"`
	CarrierName  string `json:"carrier_name"`
	PlanType     string `json:"plan_type"`
}
