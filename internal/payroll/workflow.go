package payroll

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openstipend/openstipend/internal/shared"
	"github.com/openstipend/openstipend/internal/tasks"
)

// Workflow routes task completion events to the payment strategies. It is the
// single consumer of tasks.Result: one explicit dispatch table, keyed by
// business event, built at startup.
type Workflow struct {
	repo     Reader
	registry *Registry
	service  *Service
	cascade  *Cascade
	logger   *slog.Logger

	handlers map[string]func(ctx context.Context, result tasks.Result) error
}

// NewWorkflow constructs the dispatcher over a fixed handler table.
func NewWorkflow(repo Reader, registry *Registry, service *Service, cascade *Cascade, logger *slog.Logger) *Workflow {
	w := &Workflow{
		repo:     repo,
		registry: registry,
		service:  service,
		cascade:  cascade,
		logger:   logger,
	}
	w.handlers = map[string]func(ctx context.Context, result tasks.Result) error{
		EventPayrollAccept:         w.onPayrollAccept,
		EventPayrollReconciliation: w.onPayrollReconciliation,
		EventPayrollReject:         w.onPayrollReject,
		EventPayrollDelete:         w.onPayrollDelete,
		EventBenefitDelete:         w.onBenefitDelete,
	}
	return w
}

// OnTaskCompleted dispatches one completion event. Events with no registered
// handler are skipped; handler failures are logged and absorbed so one broken
// payroll cannot wedge the completion stream.
func (w *Workflow) OnTaskCompleted(ctx context.Context, result tasks.Result) error {
	handler, ok := w.handlers[result.BusinessEvent]
	if !ok {
		w.logger.Debug("no handler for business event",
			slog.String("business_event", result.BusinessEvent),
			slog.String("task_id", result.TaskID.String()))
		return nil
	}
	if err := handler(ctx, result); err != nil {
		w.logger.Error("workflow handler failed",
			slog.String("business_event", result.BusinessEvent),
			slog.String("entity_id", result.EntityID.String()),
			slog.Any("error", err))
	}
	return nil
}

// resolve re-fetches the payroll and looks up its strategy. State is read
// fresh at handling time; the task may be arbitrarily old.
func (w *Workflow) resolve(ctx context.Context, result tasks.Result) (Payroll, Strategy, error) {
	p, err := w.repo.GetPayroll(ctx, result.EntityID)
	if err != nil {
		return Payroll{}, nil, fmt.Errorf("fetch payroll %s: %w", result.EntityID, err)
	}
	strategy, ok := w.registry.Resolve(p.PaymentMethod)
	if !ok {
		return Payroll{}, nil, fmt.Errorf("no strategy for payment method %q", p.PaymentMethod)
	}
	return p, strategy, nil
}

func actorFromResult(result tasks.Result) *shared.Actor {
	if result.ActorID == 0 {
		return nil
	}
	return &shared.Actor{ID: result.ActorID}
}

func (w *Workflow) onPayrollAccept(ctx context.Context, result tasks.Result) error {
	p, strategy, err := w.resolve(ctx, result)
	if err != nil {
		return err
	}
	actor := actorFromResult(result)
	if result.Success {
		return strategy.AcceptPayroll(ctx, p, actor)
	}
	return strategy.RejectPayroll(ctx, p, actor)
}

func (w *Workflow) onPayrollReconciliation(ctx context.Context, result tasks.Result) error {
	if !result.Success {
		w.logger.Info("reconciliation task failed, payroll left awaiting reconciliation",
			slog.String("payroll_id", result.EntityID.String()))
		return nil
	}
	p, strategy, err := w.resolve(ctx, result)
	if err != nil {
		return err
	}
	return strategy.ReconcilePayroll(ctx, p, actorFromResult(result))
}

func (w *Workflow) onPayrollReject(ctx context.Context, result tasks.Result) error {
	if !result.Success {
		return nil
	}
	p, strategy, err := w.resolve(ctx, result)
	if err != nil {
		return err
	}
	return strategy.RejectApprovedPayroll(ctx, p, actorFromResult(result))
}

func (w *Workflow) onPayrollDelete(ctx context.Context, result tasks.Result) error {
	if !result.Success {
		return nil
	}
	if _, err := w.repo.GetPayroll(ctx, result.EntityID); err != nil {
		return fmt.Errorf("fetch payroll %s: %w", result.EntityID, err)
	}
	return w.service.HardDelete(ctx, result.EntityID)
}

// onBenefitDelete resolves the per-benefit deletion lock: approval purges the
// benefit and its artifacts, denial returns it to ACCEPTED.
func (w *Workflow) onBenefitDelete(ctx context.Context, result tasks.Result) error {
	b, err := w.repo.GetBenefit(ctx, result.EntityID)
	if err != nil {
		return fmt.Errorf("fetch benefit %s: %w", result.EntityID, err)
	}
	if b.Status != BenefitPendingDeletion {
		w.logger.Info("benefit not pending deletion, skipping",
			slog.String("benefit_id", b.ID.String()),
			slog.String("status", string(b.Status)))
		return nil
	}
	if result.Success {
		return w.cascade.RemoveBenefitFromPayroll(ctx, b.ID)
	}
	return w.service.ResetBenefit(ctx, b.ID)
}
