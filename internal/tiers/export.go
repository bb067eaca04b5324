package tiers

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marx-cli/internal/model"
	"github.com/sells-group/marx-cli/pkg/tldcrm"
)

// PolicyLister reads policies from the CRM egress endpoint.
type PolicyLister interface {
	ListPolicies(ctx context.Context, q tldcrm.PolicyQuery) ([]model.Policy, error)
}

// Columns is the export column order.
var Columns = []string{
	"policy_id",
	"lead_id",
	"lead_medicare_claim_number",
	"status_description",
	"status_id",
	"date_effective",
	"date_sold",
}

// activeStatusID selects active policies.
const activeStatusID = "1"

// Exporter writes tier exports.
type Exporter struct {
	lister    PolicyLister
	outputDir string
	now       func() time.Time
}

// NewExporter creates an Exporter writing into outputDir.
func NewExporter(lister PolicyLister, outputDir string) *Exporter {
	if outputDir == "" {
		outputDir = "."
	}
	return &Exporter{lister: lister, outputDir: outputDir, now: time.Now}
}

// Export fetches active policies, keeps the latest per claim number and
// writes those in tier. It returns the file written, or "" when nothing
// qualified.
func (e *Exporter) Export(ctx context.Context, tier Tier) (string, int, error) {
	if !tier.Valid() {
		return "", 0, eris.Wrapf(ErrInvalidTier, "got %d", int(tier))
	}

	policies, err := e.lister.ListPolicies(ctx, tldcrm.PolicyQuery{
		Columns: Columns,
		Filters: map[string]string{"status_id": activeStatusID},
	})
	if err != nil {
		return "", 0, eris.Wrap(err, "tiers: fetch policies")
	}

	latest := Dedupe(policies)
	selected := Select(tier, latest, e.now())
	zap.L().Info("tiers: policies selected",
		zap.Int("tier", int(tier)),
		zap.Int("fetched", len(policies)),
		zap.Int("deduped", len(latest)),
		zap.Int("selected", len(selected)),
	)

	if len(selected) == 0 {
		zap.L().Info("tiers: no filtered records to write", zap.Int("tier", int(tier)))
		return "", 0, nil
	}

	path := filepath.Join(e.outputDir, tier.FileName())
	if err := WriteCSV(path, selected); err != nil {
		return "", 0, err
	}
	zap.L().Info("tiers: records written", zap.String("path", path), zap.Int("records", len(selected)))
	return path, len(selected), nil
}

// WriteCSV writes policies to path, replacing any existing file.
func WriteCSV(path string, policies []model.Policy) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "tiers: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "tiers: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		return eris.Wrap(err, "tiers: write header")
	}
	for _, p := range policies {
		if err := w.Write([]string{
			p.PolicyID,
			p.LeadID,
			p.MedicareClaimNumber,
			p.StatusDescription,
			p.StatusID,
			p.DateEffective,
			p.DateSold,
		}); err != nil {
			return eris.Wrap(err, "tiers: write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "tiers: flush")
	}
	return f.Close()
}
