package reset

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marx-cli/internal/model"
	"github.com/sells-group/marx-cli/internal/resilience"
	"github.com/sells-group/marx-cli/pkg/tldcrm"
)

// PolicyLister reads policies from the CRM egress endpoint.
type PolicyLister interface {
	ListPolicies(ctx context.Context, q tldcrm.PolicyQuery) ([]model.Policy, error)
}

var leadColumns = []string{"policy_id", "lead_id", "lead_medicare_claim_number", "date_sold"}

// FetchLeads returns the leads whose policy was sold on soldOn. The query is
// polled every pollInterval until the CRM answers with a 200.
func FetchLeads(ctx context.Context, lister PolicyLister, soldOn time.Time, pollInterval time.Duration) ([]model.Lead, error) {
	q := tldcrm.PolicyQuery{
		Columns: leadColumns,
		Filters: map[string]string{"date_sold": soldOn.Format(model.USDateLayout)},
	}

	policies, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts:    0,
		InitialBackoff: pollInterval,
		MaxBackoff:     pollInterval,
		Multiplier:     1.0,
		OnRetry:        resilience.RetryLogger("crm", "list_policies", zap.String("date_sold", q.Filters["date_sold"])),
	}, func(ctx context.Context) ([]model.Policy, error) {
		return lister.ListPolicies(ctx, q)
	})
	if err != nil {
		return nil, eris.Wrap(err, "reset: fetch leads")
	}

	leads := make([]model.Lead, 0, len(policies))
	for _, p := range policies {
		leads = append(leads, model.Lead{
			LeadID:      p.LeadID,
			ClaimNumber: strings.ReplaceAll(p.MedicareClaimNumber, "-", ""),
		})
	}

	if len(leads) == 0 {
		zap.L().Info("reset: no policies sold on date", zap.String("date_sold", q.Filters["date_sold"]))
	} else {
		zap.L().Info("reset: leads fetched", zap.Int("leads", len(leads)))
	}
	return leads, nil
}

// Yesterday returns the calendar day before now.
func Yesterday(now time.Time) time.Time {
	return now.AddDate(0, 0, -1)
}
