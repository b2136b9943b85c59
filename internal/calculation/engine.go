// Package calculation generates benefit consumptions for a payroll run from
// a payment plan and a beneficiary selection.
package calculation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openstipend/openstipend/internal/billing"
	"github.com/openstipend/openstipend/internal/payroll"
	"github.com/openstipend/openstipend/internal/program"
)

const recipientTypeIndividual = "individual"

// FlatRateEngine pays every selected beneficiary the plan's fixed amount.
// Per beneficiary it writes one bill, one benefit in ACCEPTED, the attachment
// between them and the payroll junction row, all on the caller's transaction.
type FlatRateEngine struct {
	logger *slog.Logger
}

// NewFlatRateEngine constructs a FlatRateEngine.
func NewFlatRateEngine(logger *slog.Logger) *FlatRateEngine {
	return &FlatRateEngine{logger: logger}
}

// Calculate generates the payroll's benefits. A zero-beneficiary selection
// writes nothing and is not an error.
func (e *FlatRateEngine) Calculate(ctx context.Context, tx payroll.TxRepository, plan program.PaymentPlan, beneficiaries []program.Beneficiary, from, to time.Time, p payroll.Payroll) error {
	for _, beneficiary := range beneficiaries {
		code := fmt.Sprintf("%s-%s", plan.Code, beneficiary.Code)

		bill := billing.Bill{
			ID:            uuid.New(),
			Code:          code,
			RecipientType: recipientTypeIndividual,
			RecipientID:   beneficiary.ID,
			AmountTotal:   plan.FixedAmount,
			Status:        billing.BillPending,
			DatedOn:       from,
		}
		if err := tx.CreateBill(ctx, bill); err != nil {
			return err
		}

		benefit := payroll.BenefitConsumption{
			ID:            uuid.New(),
			Code:          code,
			RecipientType: recipientTypeIndividual,
			RecipientID:   beneficiary.ID,
			Amount:        plan.FixedAmount,
			DateDue:       to,
			Status:        payroll.BenefitAccepted,
			JSONExt: map[string]any{
				"payment_plan_code": plan.Code,
				"currency":          plan.Currency,
			},
		}
		if err := tx.CreateBenefit(ctx, benefit); err != nil {
			return err
		}

		if err := tx.CreateAttachment(ctx, payroll.BenefitAttachment{
			ID:        uuid.New(),
			BenefitID: benefit.ID,
			BillID:    bill.ID,
		}); err != nil {
			return err
		}
		if err := tx.LinkBenefit(ctx, p.ID, benefit.ID); err != nil {
			return err
		}
	}
	e.logger.Info("benefits generated",
		slog.String("payroll_id", p.ID.String()),
		slog.String("plan", plan.Code),
		slog.Int("count", len(beneficiaries)))
	return nil
}
