package payroll

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Cascade removes rejected benefits together with their financial artifacts.
// Rejected payrolls carry no audit value, so instead of soft-deleting, the
// cascade physically purges attachments, bills, junction rows and benefits.
// Deletion order follows the referential dependency: attachment before bill
// before benefit. Callers must invoke it only after the rejecting transition
// is durably committed.
type Cascade struct {
	repo   Repository
	logger *slog.Logger
}

// NewCascade constructs a Cascade.
func NewCascade(repo Repository, logger *slog.Logger) *Cascade {
	return &Cascade{repo: repo, logger: logger}
}

// RemoveBenefitsFromRejectedPayroll purges every benefit still linked to the
// payroll. A payroll with zero linked benefits is a no-op, which also makes
// the operation idempotent.
func (c *Cascade) RemoveBenefitsFromRejectedPayroll(ctx context.Context, payrollID uuid.UUID) error {
	return c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return c.removeAll(ctx, tx, payrollID)
	})
}

// RemoveBenefitFromPayroll purges a single benefit, used when a per-benefit
// deletion task completes.
func (c *Cascade) RemoveBenefitFromPayroll(ctx context.Context, benefitID uuid.UUID) error {
	return c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return c.remove(ctx, tx, []uuid.UUID{benefitID})
	})
}

// removeAll runs inside an existing transaction so the payroll delete flow
// can combine the cascade with its own writes.
func (c *Cascade) removeAll(ctx context.Context, tx TxRepository, payrollID uuid.UUID) error {
	benefits, err := tx.ListBenefitsByPayroll(ctx, payrollID)
	if err != nil {
		return err
	}
	if len(benefits) == 0 {
		return nil
	}
	benefitIDs := make([]uuid.UUID, 0, len(benefits))
	for _, b := range benefits {
		benefitIDs = append(benefitIDs, b.ID)
	}
	if err := c.remove(ctx, tx, benefitIDs); err != nil {
		return err
	}
	c.logger.Info("purged rejected payroll benefits",
		slog.String("payroll_id", payrollID.String()),
		slog.Int("benefits", len(benefitIDs)))
	return nil
}

func (c *Cascade) remove(ctx context.Context, tx TxRepository, benefitIDs []uuid.UUID) error {
	attachments, err := tx.ListAttachmentsByBenefits(ctx, benefitIDs)
	if err != nil {
		return err
	}
	billIDs := make([]uuid.UUID, 0, len(attachments))
	for _, a := range attachments {
		billIDs = append(billIDs, a.BillID)
	}

	if err := tx.DeleteAttachmentsByBenefits(ctx, benefitIDs); err != nil {
		return fmt.Errorf("cascade: delete attachments: %w", err)
	}
	if err := tx.DeleteBillsByIDs(ctx, billIDs); err != nil {
		return fmt.Errorf("cascade: delete bills: %w", err)
	}
	if err := tx.DeleteLinksByBenefits(ctx, benefitIDs); err != nil {
		return fmt.Errorf("cascade: delete payroll links: %w", err)
	}
	if err := tx.DeleteBenefitsByIDs(ctx, benefitIDs); err != nil {
		return fmt.Errorf("cascade: delete benefits: %w", err)
	}
	return nil
}
