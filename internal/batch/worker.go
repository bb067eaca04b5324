package batch

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marx-cli/internal/enrollment"
	"github.com/sells-group/marx-cli/internal/model"
	"github.com/sells-group/marx-cli/internal/portal"
	"github.com/sells-group/marx-cli/internal/reconcile"
)

// processPolicy reconciles one record. It returns alert=true when a new alert
// was raised. Data problems with the record are logged and swallowed; only
// collaborator failures are returned.
func (c *Coordinator) processPolicy(ctx context.Context, log *zap.Logger, sess portal.Session, rec model.PolicyRecord) (bool, error) {
	mbi := rec.MedicareClaimNumber

	if !rec.HasValidClaimNumber() {
		c.countLookupError("incorrect_claim_number")
		return false, c.deps.Errors.IncorrectClaimNumber(mbi, rec.PolicyID)
	}

	soldOn, err := rec.SoldOn()
	if err != nil {
		log.Debug("batch: unparseable date_sold, skipping", zap.String("policy_id", rec.PolicyID), zap.String("date_sold", rec.DateSold))
		return false, nil
	}

	row, err := sess.Lookup(ctx, mbi)
	switch {
	case err == nil:
	case errors.Is(err, portal.ErrInvalidMBI):
		c.countLookupError("invalid_claim_number")
		return false, c.deps.Errors.InvalidClaimNumber(mbi, rec.PolicyID)
	case errors.Is(err, portal.ErrBeneficiaryNotFound):
		c.countLookupError("beneficiary_not_found")
		return false, c.deps.Errors.BeneficiaryNotFound(mbi, rec.PolicyID)
	case portal.IsFatal(err), isCancel(ctx, err):
		return false, err
	default:
		c.countLookupError("lookup_failed")
		log.Warn("batch: lookup failed", zap.String("policy_id", rec.PolicyID), zap.Error(err))
		return false, c.deps.Errors.LookupFailed(mbi, rec.PolicyID, err)
	}

	today := c.deps.Now()
	obs, err := enrollment.Normalize(row, today)
	if err != nil {
		c.countLookupError("malformed_row")
		log.Warn("batch: malformed eligibility row, skipping", zap.String("policy_id", rec.PolicyID), zap.Error(err))
		return false, c.deps.Errors.LookupFailed(mbi, rec.PolicyID, err)
	}
	lastUpdate := today.Format(model.USDateLayout)

	if !obs.Enrolled {
		if err := c.deps.CRM.WriteBlankUpdate(ctx, rec.LeadID, lastUpdate); err != nil {
			return false, err
		}
		return false, nil
	}

	prior, err := c.deps.CRM.FetchPlanState(ctx, rec.LeadID)
	if err != nil {
		return false, err
	}

	d := reconcile.Decide(reconcile.Input{
		Policy:      rec,
		SoldOn:      soldOn,
		Observation: obs,
		Prior:       prior,
		Today:       today,
	})

	carrier, planType, err := c.deps.Directory.Lookup(ctx, obs.ContractCode)
	if err != nil {
		return false, eris.Wrap(err, "carrier lookup")
	}

	if err := c.deps.CRM.WritePlanUpdate(ctx, model.PlanUpdate{
		LeadID:           rec.LeadID,
		LastUpdate:       lastUpdate,
		ContractCode:     obs.ContractCode,
		PBP:              obs.PBP,
		PlanDescription:  obs.PlanDescription,
		StartDate:        obs.PlanStartDate,
		CarrierName:      carrier,
		PlanType:         planType,
		PlanChangeResult: d.Result,
	}); err != nil {
		return false, err
	}

	if err := c.deps.Updates.Append(model.UpdateRow{
		LastUpdate:      lastUpdate,
		ContractCode:    obs.ContractCode,
		PBP:             obs.PBP,
		PlanDescription: obs.PlanDescription,
		StartDate:       obs.PlanStartDate,
		CarrierName:     carrier,
		PlanType:        planType,
		PolicyID:        rec.PolicyID,
		LeadID:          rec.LeadID,
		DateEffective:   rec.DateEffective,
		DateSold:        rec.DateSold,
	}); err != nil {
		return d.Alert, err
	}

	log.Debug("batch: policy reconciled",
		zap.String("policy_id", rec.PolicyID),
		zap.String("lead_id", rec.LeadID),
		zap.String("rule", d.Rule.String()),
		zap.String("result", string(d.Result)),
	)
	return d.Alert, nil
}
