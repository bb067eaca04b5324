package model

import "time"

// EnrollmentObservation is the canonical form of one portal eligibility lookup.
type EnrollmentObservation struct {
	ContractCode    string    `json:"contract_code"`
	PBP             string    `json:"pbp"`
	PlanDescription string    `json:"plan_description"`
	PlanStartDate   string    `json:"plan_start_date"`
	Enrolled        bool      `json:"enrolled"`
	ObservedOn      time.Time `json:"observed_on"`
}

// UpdateRow is one line of the MARx_Update output artifact.
type UpdateRow struct {
	LastUpdate      string
	ContractCode    string
	PBP             string
	PlanDescription string
	StartDate       string
	CarrierName     string
	PlanType        string
	PolicyID        string
	LeadID          string
	DateEffective   string
	DateSold        string
}

// UpdateHeader is the fixed column order of the MARx_Update artifact.
var UpdateHeader = []string{
	"marx_last_udpate",
	"marx_contract",
	"marx_pbp",
	"marx_plan_code_desc",
	"marx_start_date",
	"marx_carrier_name",
	"marx_plan_type",
	"policy_id",
	"lead_id",
	"date_effective_in_tld",
	"date_sold_in_tld",
}

// Record returns the row in UpdateHeader order.
func (r UpdateRow) Record() []string {
	return []string{
		r.LastUpdate,
		r.ContractCode,
		r.PBP,
		r.PlanDescription,
		r.StartDate,
		r.CarrierName,
		r.PlanType,
		r.PolicyID,
		r.LeadID,
		r.DateEffective,
		r.DateSold,
	}
}
