package payroll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openstipend/openstipend/internal/platform/httpx"
	"github.com/openstipend/openstipend/internal/program"
	"github.com/openstipend/openstipend/internal/shared"
	"github.com/openstipend/openstipend/internal/tasks"
)

// CalculationEngine turns a payment plan and a beneficiary selection into
// benefit consumptions attached to the payroll. It runs inside the creation
// transaction and must be idempotent enough to run once per payroll.
type CalculationEngine interface {
	Calculate(ctx context.Context, tx TxRepository, plan program.PaymentPlan, beneficiaries []program.Beneficiary, from, to time.Time, p Payroll) error
}

// AuditTrail records service-level actions; nil disables recording.
type AuditTrail interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CreateInput describes a new payroll run.
type CreateInput struct {
	Name           string         `json:"name" validate:"required"`
	PaymentMethod  string         `json:"payment_method" validate:"required"`
	PaymentPlanID  uuid.UUID      `json:"payment_plan_id" validate:"required"`
	PaymentCycleID *uuid.UUID     `json:"payment_cycle_id"`
	DateValidFrom  time.Time      `json:"date_valid_from"`
	DateValidTo    time.Time      `json:"date_valid_to"`
	JSONExt        map[string]any `json:"json_ext"`
}

// Service is the payroll orchestrator: it owns creation and deletion of
// payroll runs and the generation of their benefits.
type Service struct {
	repo     Repository
	programs program.Repository
	engine   CalculationEngine
	registry *Registry
	cascade  *Cascade
	validate *validator.Validate
	audit    AuditTrail
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, programs program.Repository, engine CalculationEngine, registry *Registry, cascade *Cascade, audit AuditTrail, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		programs: programs,
		engine:   engine,
		registry: registry,
		cascade:  cascade,
		validate: validator.New(),
		audit:    audit,
		logger:   logger,
	}
}

// Create resolves the plan and the beneficiary selection, persists the
// payroll, generates its benefits through the calculation engine and issues
// the approval task, all inside one transaction. A selection matching zero
// beneficiaries still creates the payroll; the run is valid but inert.
func (s *Service) Create(ctx context.Context, input CreateInput) (Payroll, error) {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return Payroll{}, httpx.ErrUnauthorized
	}
	if err := s.validate.Struct(input); err != nil {
		return Payroll{}, fmt.Errorf("%v: %w", err, httpx.ErrValidation)
	}
	if _, ok := s.registry.Resolve(input.PaymentMethod); !ok {
		return Payroll{}, fmt.Errorf("unknown payment method %q: %w", input.PaymentMethod, httpx.ErrValidation)
	}

	plan, err := s.programs.GetPaymentPlan(ctx, input.PaymentPlanID)
	if err != nil {
		return Payroll{}, err
	}

	from, to := input.DateValidFrom, input.DateValidTo
	if input.PaymentCycleID != nil && (from.IsZero() || to.IsZero()) {
		cycle, err := s.programs.GetPaymentCycle(ctx, *input.PaymentCycleID)
		if err != nil {
			return Payroll{}, err
		}
		if from.IsZero() {
			from = cycle.StartDate
		}
		if to.IsZero() {
			to = cycle.EndDate
		}
	}
	if from.IsZero() {
		from = time.Now().UTC()
	}
	if to.IsZero() {
		to = from.AddDate(0, 1, 0)
	}

	criteria, err := criteriaFromExt(input.JSONExt)
	if err != nil {
		return Payroll{}, fmt.Errorf("%v: %w", err, httpx.ErrValidation)
	}
	population, err := s.programs.ListActiveBeneficiaries(ctx, plan.BenefitProgramID)
	if err != nil {
		return Payroll{}, err
	}
	selected := program.Select(population, criteria)

	planID := plan.ID
	p := Payroll{
		ID:             uuid.New(),
		Name:           input.Name,
		Status:         StatusPendingApproval,
		PaymentMethod:  input.PaymentMethod,
		PaymentPlanID:  &planID,
		PaymentCycleID: input.PaymentCycleID,
		DateValidFrom:  from,
		DateValidTo:    to,
		JSONExt:        input.JSONExt,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.CreatePayroll(ctx, p); err != nil {
			return err
		}
		if err := s.engine.Calculate(ctx, tx, plan, selected, from, to, p); err != nil {
			return fmt.Errorf("calculation engine: %w", err)
		}
		return tx.CreateTask(ctx, tasks.Task{
			ID:            uuid.New(),
			Source:        "payroll",
			EntityID:      p.ID,
			BusinessEvent: EventPayrollAccept,
			Status:        tasks.StatusReceived,
			Payload:       map[string]any{"name": p.Name, "payment_method": p.PaymentMethod},
		})
	})
	if err != nil {
		s.logger.Error("create payroll", slog.String("name", input.Name), slog.Any("error", err))
		return Payroll{}, err
	}

	s.recordAudit(ctx, actor, "payroll.create", p.ID, map[string]any{"beneficiaries": len(selected)})
	s.logger.Info("payroll created",
		slog.String("payroll_id", p.ID.String()),
		slog.String("payment_method", p.PaymentMethod),
		slog.Int("beneficiaries", len(selected)))
	return p, nil
}

// Delete purges the payroll's benefits through the rejection cascade, then
// soft-deletes the payroll row, inside one transaction.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return httpx.ErrUnauthorized
	}
	p, err := s.repo.GetPayroll(ctx, id)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.cascade.removeAll(ctx, tx, p.ID); err != nil {
			return err
		}
		return tx.SoftDeletePayroll(ctx, p.ID)
	})
	if err != nil {
		s.logger.Error("delete payroll", slog.String("payroll_id", id.String()), slog.Any("error", err))
		return err
	}
	s.recordAudit(ctx, actor, "payroll.delete", p.ID, nil)
	return nil
}

// HardDelete removes the payroll permanently. Used by the task workflow once
// a payroll-deletion task completes; the cascade leaves no linked benefits.
func (s *Service) HardDelete(ctx context.Context, id uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.cascade.removeAll(ctx, tx, id); err != nil {
			return err
		}
		return tx.HardDeletePayroll(ctx, id)
	})
}

// AttachBenefitToPayroll links an existing benefit to a payroll, keeping a
// single active junction row per benefit and a unique benefit code within
// the payroll.
func (s *Service) AttachBenefitToPayroll(ctx context.Context, payrollID, benefitID uuid.UUID) error {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return httpx.ErrUnauthorized
	}
	if _, err := s.repo.GetPayroll(ctx, payrollID); err != nil {
		return err
	}
	b, err := s.repo.GetBenefit(ctx, benefitID)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		linked, err := tx.ListBenefitsByPayroll(ctx, payrollID)
		if err != nil {
			return err
		}
		for _, l := range linked {
			if l.Code == b.Code {
				return fmt.Errorf("benefit code %q already present in payroll %s: %w", b.Code, payrollID, httpx.ErrConflict)
			}
		}
		return tx.LinkBenefit(ctx, payrollID, benefitID)
	})
}

// RequestDeletion opens a payroll-deletion approval task.
func (s *Service) RequestDeletion(ctx context.Context, payrollID uuid.UUID) error {
	return s.requestTask(ctx, payrollID, EventPayrollDelete)
}

// RequestRejection opens a reject-approved-payroll task so an approved run
// can be sent back to pending approval.
func (s *Service) RequestRejection(ctx context.Context, payrollID uuid.UUID) error {
	return s.requestTask(ctx, payrollID, EventPayrollReject)
}

func (s *Service) requestTask(ctx context.Context, payrollID uuid.UUID, event string) error {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return httpx.ErrUnauthorized
	}
	p, err := s.repo.GetPayroll(ctx, payrollID)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.CreateTask(ctx, tasks.Task{
			ID:            uuid.New(),
			Source:        "payroll",
			EntityID:      p.ID,
			BusinessEvent: event,
			Status:        tasks.StatusReceived,
		})
	})
}

// RequestBenefitDeletion locks the benefit in PENDING_DELETION and opens the
// per-benefit deletion task. The lock prevents further mutation until the
// task resolves.
func (s *Service) RequestBenefitDeletion(ctx context.Context, benefitID uuid.UUID) error {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return httpx.ErrUnauthorized
	}
	b, err := s.repo.GetBenefit(ctx, benefitID)
	if err != nil {
		return err
	}
	if !b.Status.CanTransition(BenefitPendingDeletion) {
		return fmt.Errorf("benefit %s in status %s cannot be scheduled for deletion: %w", b.ID, b.Status, httpx.ErrConflict)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		updated, err := tx.UpdateBenefitStatus(ctx, b.ID, b.Status, BenefitPendingDeletion)
		if err != nil {
			return err
		}
		if !updated {
			return fmt.Errorf("benefit %s changed concurrently: %w", b.ID, httpx.ErrConflict)
		}
		return tx.CreateTask(ctx, tasks.Task{
			ID:            uuid.New(),
			Source:        "benefit",
			EntityID:      b.ID,
			BusinessEvent: EventBenefitDelete,
			Status:        tasks.StatusReceived,
		})
	})
}

// ResetBenefit returns a locked benefit to ACCEPTED, used when its deletion
// task fails. A benefit no longer in PENDING_DELETION is left alone.
func (s *Service) ResetBenefit(ctx context.Context, benefitID uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := tx.UpdateBenefitStatus(ctx, benefitID, BenefitPendingDeletion, BenefitAccepted)
		return err
	})
}

// Get returns one payroll.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Payroll, error) {
	return s.repo.GetPayroll(ctx, id)
}

// List returns non-deleted payrolls, newest first.
func (s *Service) List(ctx context.Context) ([]Payroll, error) {
	return s.repo.ListPayrolls(ctx)
}

// Benefits returns the benefits actively linked to a payroll.
func (s *Service) Benefits(ctx context.Context, payrollID uuid.UUID) ([]BenefitConsumption, error) {
	return s.repo.ListBenefitsByPayroll(ctx, payrollID)
}

func (s *Service) recordAudit(ctx context.Context, actor *shared.Actor, action string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "payroll",
		EntityID: entityID.String(),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("record audit", slog.Any("error", err))
	}
}

// criteriaFromExt pulls advanced selection criteria out of the creation
// payload. Shape: {"advanced_criteria": [{"custom_filter_condition": "field__op=value"}, ...]}.
func criteriaFromExt(ext map[string]any) ([]program.Criterion, error) {
	if ext == nil {
		return nil, nil
	}
	raw, ok := ext["advanced_criteria"]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("advanced_criteria must be a list")
	}
	var exprs []string
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("advanced_criteria entries must be objects")
		}
		cond, ok := entry["custom_filter_condition"].(string)
		if !ok || cond == "" {
			return nil, fmt.Errorf("advanced_criteria entry missing custom_filter_condition")
		}
		exprs = append(exprs, cond)
	}
	return program.ParseCriteria(exprs)
}
