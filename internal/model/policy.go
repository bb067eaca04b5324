package model

import (
	"strings"
	"time"
)

// ClaimNumberLength is the length of a valid Medicare Beneficiary Identifier.
const ClaimNumberLength = 11

// DateSoldLayout is the layout of date_sold in CRM exports.
const DateSoldLayout = "2006-01-02 15:04:05"

// DateEffectiveLayout is the layout of date_effective in CRM exports.
const DateEffectiveLayout = "2006-01-02"

// USDateLayout is the MM/DD/YYYY layout the CRM uses for marx_* dates.
const USDateLayout = "01/02/2006"

// PolicyRecord is one sold policy read from the input CSV.
type PolicyRecord struct {
	PolicyID            string `json:"policy_id"`
	LeadID              string `json:"lead_id"`
	MedicareClaimNumber string `json:"lead_medicare_claim_number"`
	PolicyNumber        string `json:"policy_number"`
	DateSold            string `json:"date_sold"`
	DateEffective       string `json:"date_effective"`
}

// HasValidClaimNumber reports whether the claim number is eligible for lookup.
func (p PolicyRecord) HasValidClaimNumber() bool {
	return len(p.MedicareClaimNumber) == ClaimNumberLength
}

// SoldOn parses DateSold and returns the sale date.
func (p PolicyRecord) SoldOn() (time.Time, error) {
	return time.ParseInLocation(DateSoldLayout, strings.TrimSpace(p.DateSold), time.Local)
}

// Policy is a policy row returned by the CRM egress policies endpoint.
type Policy struct {
	PolicyID            string `json:"policy_id"`
	LeadID              string `json:"lead_id"`
	MedicareClaimNumber string `json:"lead_medicare_claim_number"`
	StatusDescription   string `json:"status_description"`
	StatusID            string `json:"status_id"`
	DateEffective       string `json:"date_effective"`
	DateSold            string `json:"date_sold"`
}

// Lead identifies a CRM lead targeted by a bulk reset.
type Lead struct {
	LeadID      string `json:"lead_id"`
	ClaimNumber string `json:"lead_medicare_claim_number"`
}
