package batch

import (
	"encoding/csv"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marx-cli/internal/model"
)

// requiredColumns must all be present in the input header.
var requiredColumns = []string{
	"policy_id",
	"lead_id",
	"lead_medicare_claim_number",
	"policy_number",
	"date_sold",
	"date_effective",
}

// ReadPolicies loads every data row of the input CSV in file order. Columns
// are addressed by header name.
func ReadPolicies(path string) ([]model.PolicyRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: open input")
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "batch: read input")
	}
	if len(records) == 0 {
		return nil, eris.New("batch: input has no header")
	}

	header := records[0]
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colIdx[col]; !ok {
			return nil, eris.Errorf("batch: missing required column %q", col)
		}
	}

	policies := make([]model.PolicyRecord, 0, len(records)-1)
	for _, row := range records[1:] {
		policies = append(policies, model.PolicyRecord{
			PolicyID:            getCol(row, colIdx, "policy_id"),
			LeadID:              getCol(row, colIdx, "lead_id"),
			MedicareClaimNumber: getCol(row, colIdx, "lead_medicare_claim_number"),
			PolicyNumber:        getCol(row, colIdx, "policy_number"),
			DateSold:            getCol(row, colIdx, "date_sold"),
			DateEffective:       getCol(row, colIdx, "date_effective"),
		})
	}
	return policies, nil
}

func getCol(row []string, colIdx map[string]int, name string) string {
	i, ok := colIdx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// Partition splits records into n contiguous parts of len/n rows each; the
// last part also takes the remainder.
func Partition(records []model.PolicyRecord, n int) [][]model.PolicyRecord {
	if n < 1 {
		n = 1
	}
	size := len(records) / n
	parts := make([][]model.PolicyRecord, n)
	for i := 0; i < n; i++ {
		start := i * size
		end := start + size
		if i == n-1 {
			end = len(records)
		}
		parts[i] = records[start:end]
	}
	return parts
}
