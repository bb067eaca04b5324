// Package enrollment turns raw portal eligibility rows into canonical observations.
package enrollment

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marx-cli/internal/model"
)

// NotEnrolledMarker is the portal text shown when the beneficiary has no active plan.
const NotEnrolledMarker = "The beneficiary is not currently enrolled in any plan"

// ErrMalformedRow is returned when the first table row does not have the expected shape.
var ErrMalformedRow = eris.New("enrollment: malformed eligibility row")

// minCells is contract, pbp, plan description, start date.
const minCells = 4

// Normalize converts the first row of an eligibility table into an observation.
func Normalize(row []string, today time.Time) (model.EnrollmentObservation, error) {
	obs := model.EnrollmentObservation{ObservedOn: today}
	if len(row) == 0 {
		return obs, eris.Wrap(ErrMalformedRow, "empty row")
	}

	if strings.Contains(strings.TrimSpace(row[0]), NotEnrolledMarker) {
		return obs, nil
	}

	if len(row) < minCells {
		return obs, eris.Wrapf(ErrMalformedRow, "expected %d cells, got %d", minCells, len(row))
	}

	obs.Enrolled = true
	obs.ContractCode = strings.TrimSpace(row[0])
	obs.PBP = NormalizePBP(row[1])
	obs.PlanDescription = strings.TrimSpace(row[2])
	obs.PlanStartDate = strings.TrimSpace(row[3])
	return obs, nil
}

// NormalizePBP renders a numeric pbp in integer form ("1.0" -> "1", "007" -> "7")
// and falls back to the trimmed text when it is not numeric or does not fit
// in an int64.
func NormalizePBP(raw string) string {
	s := strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return s
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	t := math.Trunc(f)
	if t < math.MinInt64 || t >= math.MaxInt64 {
		return s
	}
	return strconv.FormatInt(int64(t), 10)
}
