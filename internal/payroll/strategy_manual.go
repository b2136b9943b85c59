package payroll

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openstipend/openstipend/internal/shared"
	"github.com/openstipend/openstipend/internal/tasks"
)

// ManualStrategy is the internal payment channel: no external call, statuses
// advance synchronously when the approval task resolves.
type ManualStrategy struct {
	core
}

// NewManualStrategy constructs the manual channel strategy.
func NewManualStrategy(repo Repository, cascade *Cascade, taskService *tasks.Service, trail ApprovalTrail, logger *slog.Logger) *ManualStrategy {
	return &ManualStrategy{core: core{
		repo:    repo,
		cascade: cascade,
		tasks:   taskService,
		trail:   trail,
		logger:  logger,
	}}
}

// Method returns the registry key of the channel.
func (s *ManualStrategy) Method() string { return MethodManual }

// AcceptPayroll marks the run and its benefits approved for payment.
func (s *ManualStrategy) AcceptPayroll(ctx context.Context, p Payroll, actor *shared.Actor) error {
	if p.Status.IsTerminal() {
		return nil
	}
	if !p.Status.CanTransition(StatusApproveForPayment) {
		return transitionConflict(p, StatusApproveForPayment)
	}
	var updated bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.UpdatePayrollStatus(ctx, p.ID, p.Status, StatusApproveForPayment)
		if err != nil || !updated {
			return err
		}
		return s.advanceBenefits(ctx, tx, p.ID, BenefitAccepted, BenefitApproveForPayment)
	})
	if err != nil || !updated {
		return err
	}
	s.recordApproval(ctx, p.ID, StatusApproveForPayment, actor)
	return nil
}

// RejectPayroll marks the run rejected and purges its benefits.
func (s *ManualStrategy) RejectPayroll(ctx context.Context, p Payroll, actor *shared.Actor) error {
	return s.rejectPayroll(ctx, p, actor)
}

// RejectApprovedPayroll resets reconciled benefits and re-opens approval.
func (s *ManualStrategy) RejectApprovedPayroll(ctx context.Context, p Payroll, actor *shared.Actor) error {
	return s.rejectApprovedPayroll(ctx, p, actor)
}

// ReconcilePayroll closes the run; on the manual channel the benefits settle
// together with the payroll.
func (s *ManualStrategy) ReconcilePayroll(ctx context.Context, p Payroll, actor *shared.Actor) error {
	if p.Status.IsTerminal() {
		return nil
	}
	if !p.Status.CanTransition(StatusReconciled) {
		return transitionConflict(p, StatusReconciled)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		updated, err := tx.UpdatePayrollStatus(ctx, p.ID, p.Status, StatusReconciled)
		if err != nil || !updated {
			return err
		}
		return s.advanceBenefits(ctx, tx, p.ID, BenefitApproveForPayment, BenefitReconciled)
	})
}

// AcknowledgeGatewayResponse is a no-op: the manual channel has no gateway.
func (s *ManualStrategy) AcknowledgeGatewayResponse(ctx context.Context, p Payroll, response map[string]any, actor *shared.Actor, rejectedBillIDs []uuid.UUID) error {
	return nil
}
