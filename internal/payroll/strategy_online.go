package payroll

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openstipend/openstipend/internal/billing"
	"github.com/openstipend/openstipend/internal/gateway"
	"github.com/openstipend/openstipend/internal/platform/httpx"
	"github.com/openstipend/openstipend/internal/shared"
	"github.com/openstipend/openstipend/internal/tasks"
)

// OnlineStrategy dispatches payrolls to an external payment gateway through
// the workflow runner and awaits its callback for settlement.
type OnlineStrategy struct {
	core
	runner gateway.Runner
}

// NewOnlineStrategy constructs the online channel strategy.
func NewOnlineStrategy(repo Repository, cascade *Cascade, taskService *tasks.Service, runner gateway.Runner, trail ApprovalTrail, logger *slog.Logger) *OnlineStrategy {
	return &OnlineStrategy{
		core: core{
			repo:    repo,
			cascade: cascade,
			tasks:   taskService,
			trail:   trail,
			logger:  logger,
		},
		runner: runner,
	}
}

// Method returns the registry key of the channel.
func (s *OnlineStrategy) Method() string { return MethodOnline }

// AcceptPayroll submits the payroll identity, its total benefit amount and
// the bill manifest to the workflow runner. The blocking gateway call happens
// before any transaction is opened; only after the runner accepted does a
// short transaction flip the payroll to APPROVE_FOR_PAYMENT. A dispatch
// failure leaves the payroll in PENDING_APPROVAL.
func (s *OnlineStrategy) AcceptPayroll(ctx context.Context, p Payroll, actor *shared.Actor) error {
	if p.Status.IsTerminal() {
		return nil
	}
	if !p.Status.CanTransition(StatusApproveForPayment) {
		return transitionConflict(p, StatusApproveForPayment)
	}

	total, err := s.repo.TotalBenefitAmount(ctx, p.ID)
	if err != nil {
		return err
	}
	bills, err := s.repo.ListBillsByPayroll(ctx, p.ID)
	if err != nil {
		return err
	}
	manifest := make([]gateway.BillRef, 0, len(bills))
	for _, bill := range bills {
		manifest = append(manifest, gateway.BillRef{BillID: bill.ID, Code: bill.Code, Amount: bill.AmountTotal})
	}

	var userRef string
	if actor != nil {
		userRef = actor.Email
	}
	sub := gateway.Submission{
		UserRef:      userRef,
		PayrollRef:   p.ID,
		TotalAmount:  total,
		BillManifest: manifest,
	}
	if err := s.runner.Run(ctx, sub); err != nil {
		return fmt.Errorf("payroll %s: workflow runner: %v: %w", p.ID, err, httpx.ErrDispatch)
	}

	var updated bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
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
func (s *OnlineStrategy) RejectPayroll(ctx context.Context, p Payroll, actor *shared.Actor) error {
	return s.rejectPayroll(ctx, p, actor)
}

// RejectApprovedPayroll resets reconciled benefits and re-opens approval.
func (s *OnlineStrategy) RejectApprovedPayroll(ctx context.Context, p Payroll, actor *shared.Actor) error {
	return s.rejectApprovedPayroll(ctx, p, actor)
}

// ReconcilePayroll closes the run once settlement is confirmed.
func (s *OnlineStrategy) ReconcilePayroll(ctx context.Context, p Payroll, actor *shared.Actor) error {
	if p.Status.IsTerminal() {
		return nil
	}
	if !p.Status.CanTransition(StatusReconciled) {
		return transitionConflict(p, StatusReconciled)
	}
	_, err := s.changeStatus(ctx, p, StatusReconciled, actor)
	return err
}

// AcknowledgeGatewayResponse stores the raw gateway response on the payroll,
// partitions the run's bills into paid and rejected, and opens the
// reconciliation task. The payroll stays in APPROVE_FOR_PAYMENT awaiting
// reconciliation.
func (s *OnlineStrategy) AcknowledgeGatewayResponse(ctx context.Context, p Payroll, response map[string]any, actor *shared.Actor, rejectedBillIDs []uuid.UUID) error {
	if p.Status.IsTerminal() {
		return nil
	}

	rejected := make(map[uuid.UUID]bool, len(rejectedBillIDs))
	for _, id := range rejectedBillIDs {
		rejected[id] = true
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ext := p.JSONExt
		if ext == nil {
			ext = map[string]any{}
		}
		ext["response_from_gateway"] = response
		if err := tx.UpdatePayrollJSONExt(ctx, p.ID, ext); err != nil {
			return err
		}

		bills, err := tx.ListBillsByPayroll(ctx, p.ID)
		if err != nil {
			return err
		}
		var paid, unpaid []uuid.UUID
		for _, bill := range bills {
			if rejected[bill.ID] {
				unpaid = append(unpaid, bill.ID)
			} else {
				paid = append(paid, bill.ID)
			}
		}
		if err := tx.UpdateBillStatuses(ctx, paid, billing.BillPayed); err != nil {
			return err
		}
		if err := tx.UpdateBillStatuses(ctx, unpaid, billing.BillUnpaid); err != nil {
			return err
		}

		return tx.CreateTask(ctx, tasks.Task{
			ID:            uuid.New(),
			Source:        "payroll_reconciliation",
			EntityID:      p.ID,
			BusinessEvent: EventPayrollReconciliation,
			Status:        tasks.StatusReceived,
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("gateway response acknowledged",
		slog.String("payroll_id", p.ID.String()),
		slog.Int("rejected_bills", len(rejectedBillIDs)))
	return nil
}
