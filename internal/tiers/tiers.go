// Package tiers buckets active CRM policies by how long ago they took effect
// and exports one bucket at a time to CSV.
package tiers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marx-cli/internal/model"
)

// Tier is an aging bucket.
type Tier int

const (
	// Tier1 is sold more than a week ago and not yet effective.
	Tier1 Tier = 1
	// Tier2 became effective within the last 90 days.
	Tier2 Tier = 2
	// Tier3 has been effective for more than 90 days.
	Tier3 Tier = 3
)

const (
	pendingSoldDays = 7
	recentDays      = 90
)

// ErrInvalidTier is returned by ParseTier for anything but 1, 2 or 3.
var ErrInvalidTier = eris.New("tiers: tier must be 1, 2 or 3")

// ParseTier parses a command-line tier argument.
func ParseTier(s string) (Tier, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, eris.Wrapf(ErrInvalidTier, "got %q", s)
	}
	t := Tier(n)
	if !t.Valid() {
		return 0, eris.Wrapf(ErrInvalidTier, "got %d", n)
	}
	return t, nil
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t >= Tier1 && t <= Tier3
}

// FileName is the export file name for the tier.
func (t Tier) FileName() string {
	return fmt.Sprintf("Tier%d_Policies.csv", int(t))
}

// Dedupe keeps, for each claim number, only the policies carrying the
// highest policy_id. Policies without a claim number are dropped. Input
// order is preserved.
func Dedupe(policies []model.Policy) []model.Policy {
	latest := make(map[string]string)
	for _, p := range policies {
		claim := p.MedicareClaimNumber
		if claim == "" {
			continue
		}
		if cur, ok := latest[claim]; !ok || comparePolicyIDs(p.PolicyID, cur) > 0 {
			latest[claim] = p.PolicyID
		}
	}

	out := make([]model.Policy, 0, len(latest))
	for _, p := range policies {
		if p.MedicareClaimNumber == "" {
			continue
		}
		if p.PolicyID == latest[p.MedicareClaimNumber] {
			out = append(out, p)
		}
	}
	return out
}

// comparePolicyIDs compares numerically when both ids are integers and as
// strings otherwise.
func comparePolicyIDs(a, b string) int {
	ai, aerr := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	bi, berr := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai > bi:
			return 1
		case ai < bi:
			return -1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// Select returns the policies that fall in tier as of today. Policies with a
// missing or unparseable date_effective never qualify.
func Select(tier Tier, policies []model.Policy, today time.Time) []model.Policy {
	day := truncateDay(today)
	out := make([]model.Policy, 0)
	for _, p := range policies {
		effective, ok := parseDay(p.DateEffective, model.DateEffectiveLayout)
		if !ok {
			continue
		}
		if inTier(tier, p, effective, day) {
			out = append(out, p)
		}
	}
	return out
}

func inTier(tier Tier, p model.Policy, effective, today time.Time) bool {
	switch tier {
	case Tier1:
		sold, ok := parseDay(p.DateSold, model.DateSoldLayout)
		if !ok {
			return false
		}
		return effective.After(today) && sold.Before(today.AddDate(0, 0, -pendingSoldDays))
	case Tier2:
		return effective.Before(today) && !effective.Before(today.AddDate(0, 0, -recentDays))
	case Tier3:
		return effective.Before(today.AddDate(0, 0, -recentDays))
	}
	return false
}

func parseDay(raw, layout string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "none") {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(layout, raw, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return truncateDay(t), true
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
}
