package payroll

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openstipend/openstipend/internal/platform/httpx"
	"github.com/openstipend/openstipend/internal/shared"
	"github.com/openstipend/openstipend/internal/tasks"
)

// Strategy is the accept/reject/reconcile protocol for one payment channel.
// The strategy, not the caller, decides the resulting status and persists it.
// Every operation invoked on a payroll already in a terminal state is a
// no-op, never an error; concurrent task handlers rely on that.
type Strategy interface {
	Method() string
	AcceptPayroll(ctx context.Context, p Payroll, actor *shared.Actor) error
	RejectPayroll(ctx context.Context, p Payroll, actor *shared.Actor) error
	RejectApprovedPayroll(ctx context.Context, p Payroll, actor *shared.Actor) error
	ReconcilePayroll(ctx context.Context, p Payroll, actor *shared.Actor) error
	AcknowledgeGatewayResponse(ctx context.Context, p Payroll, response map[string]any, actor *shared.Actor, rejectedBillIDs []uuid.UUID) error
	RemoveBenefitFromPayroll(ctx context.Context, benefitID uuid.UUID) error
	RemoveBenefitsFromRejectedPayroll(ctx context.Context, p Payroll) error
}

func transitionConflict(p Payroll, to Status) error {
	return fmt.Errorf("payroll %s: transition %s -> %s not allowed: %w", p.ID, p.Status, to, httpx.ErrConflict)
}

// ApprovalTrail records approval history; nil disables recording.
type ApprovalTrail interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// core carries the behaviour shared by all payment strategies.
type core struct {
	repo    Repository
	cascade *Cascade
	tasks   *tasks.Service
	trail   ApprovalTrail
	logger  *slog.Logger
}

// changeStatus applies one edge of the payroll state machine. Terminal
// payrolls are left untouched; any other off-machine transition is a
// conflict. The write is a compare-and-set against the caller's snapshot
// status, so a handler holding a stale snapshot cannot write through a
// transition another handler committed in the meantime.
func (c *core) changeStatus(ctx context.Context, p Payroll, to Status, actor *shared.Actor) (bool, error) {
	if p.Status.IsTerminal() {
		c.logger.Info("payroll in terminal state, skipping transition",
			slog.String("payroll_id", p.ID.String()),
			slog.String("status", string(p.Status)),
			slog.String("requested", string(to)))
		return false, nil
	}
	if !p.Status.CanTransition(to) {
		return false, fmt.Errorf("payroll %s: transition %s -> %s not allowed: %w", p.ID, p.Status, to, httpx.ErrConflict)
	}
	var updated bool
	err := c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.UpdatePayrollStatus(ctx, p.ID, p.Status, to)
		return err
	})
	if err != nil {
		return false, err
	}
	if !updated {
		c.logger.Info("payroll moved concurrently, skipping transition",
			slog.String("payroll_id", p.ID.String()),
			slog.String("snapshot", string(p.Status)),
			slog.String("requested", string(to)))
		return false, nil
	}
	c.recordApproval(ctx, p.ID, to, actor)
	return true, nil
}

func (c *core) recordApproval(ctx context.Context, payrollID uuid.UUID, to Status, actor *shared.Actor) {
	if c.trail == nil {
		return
	}
	action := shared.ApprovalAction("")
	switch to {
	case StatusApproveForPayment:
		action = shared.ApprovalApprove
	case StatusRejected:
		action = shared.ApprovalReject
	default:
		return
	}
	var actorID int64
	if actor != nil {
		actorID = actor.ID
	}
	if err := c.trail.Record(ctx, shared.ApprovalLog{
		Module:  "payroll",
		RefID:   payrollID,
		ActorID: actorID,
		Action:  action,
	}); err != nil {
		c.logger.Warn("record approval trail", slog.Any("error", err))
	}
}

// rejectPayroll is shared by every channel: mark the run rejected, then purge
// its benefits. The cascade starts only after the rejecting transition has
// committed.
func (c *core) rejectPayroll(ctx context.Context, p Payroll, actor *shared.Actor) error {
	changed, err := c.changeStatus(ctx, p, StatusRejected, actor)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return c.cascade.RemoveBenefitsFromRejectedPayroll(ctx, p.ID)
}

// rejectApprovedPayroll resets reconciled benefits for a retry: receipts are
// cleared, benefits go back to ACCEPTED, the payroll returns to
// PENDING_APPROVAL and a fresh approval task is issued.
func (c *core) rejectApprovedPayroll(ctx context.Context, p Payroll, actor *shared.Actor) error {
	if p.Status.IsTerminal() {
		return nil
	}
	if !p.Status.CanTransition(StatusPendingApproval) {
		return fmt.Errorf("payroll %s: cannot un-approve from %s: %w", p.ID, p.Status, httpx.ErrConflict)
	}
	var updated bool
	err := c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.UpdatePayrollStatus(ctx, p.ID, p.Status, StatusPendingApproval)
		if err != nil || !updated {
			return err
		}
		benefits, err := tx.ListBenefitsByPayrollAndStatus(ctx, p.ID, BenefitReconciled)
		if err != nil {
			return err
		}
		for _, b := range benefits {
			if _, err := tx.UpdateBenefitReceipt(ctx, b.ID, "", b.Status, BenefitAccepted); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}
	_, err = c.tasks.Create(ctx, tasks.CreateInput{
		Source:        "payroll",
		EntityID:      p.ID,
		BusinessEvent: EventPayrollAccept,
	})
	return err
}

// advanceBenefits moves every benefit of the payroll currently in from to to.
func (c *core) advanceBenefits(ctx context.Context, tx TxRepository, payrollID uuid.UUID, from, to BenefitStatus) error {
	benefits, err := tx.ListBenefitsByPayrollAndStatus(ctx, payrollID, from)
	if err != nil {
		return err
	}
	for _, b := range benefits {
		if _, err := tx.UpdateBenefitStatus(ctx, b.ID, from, to); err != nil {
			return err
		}
	}
	return nil
}

// RemoveBenefitFromPayroll purges one benefit and its artifacts.
func (c *core) RemoveBenefitFromPayroll(ctx context.Context, benefitID uuid.UUID) error {
	return c.cascade.RemoveBenefitFromPayroll(ctx, benefitID)
}

// RemoveBenefitsFromRejectedPayroll purges the payroll's remaining benefits.
func (c *core) RemoveBenefitsFromRejectedPayroll(ctx context.Context, p Payroll) error {
	return c.cascade.RemoveBenefitsFromRejectedPayroll(ctx, p.ID)
}
