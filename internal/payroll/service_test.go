package payroll

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/openstipend/openstipend/internal/billing"
	"github.com/openstipend/openstipend/internal/platform/httpx"
	"github.com/openstipend/openstipend/internal/program"
	"github.com/openstipend/openstipend/internal/shared"
)

type fakePrograms struct {
	plan          program.PaymentPlan
	planErr       error
	cycle         program.PaymentCycle
	beneficiaries []program.Beneficiary
}

func (f *fakePrograms) GetPaymentPlan(ctx context.Context, id uuid.UUID) (program.PaymentPlan, error) {
	if f.planErr != nil {
		return program.PaymentPlan{}, f.planErr
	}
	return f.plan, nil
}

func (f *fakePrograms) GetPaymentCycle(ctx context.Context, id uuid.UUID) (program.PaymentCycle, error) {
	return f.cycle, nil
}

func (f *fakePrograms) ListActiveBeneficiaries(ctx context.Context, programID uuid.UUID) ([]program.Beneficiary, error) {
	return f.beneficiaries, nil
}

// flatEngine mirrors the production flat-rate engine: one bill, benefit,
// attachment and junction row per selected beneficiary.
type flatEngine struct{}

func (flatEngine) Calculate(ctx context.Context, tx TxRepository, plan program.PaymentPlan, beneficiaries []program.Beneficiary, from, to time.Time, p Payroll) error {
	for _, beneficiary := range beneficiaries {
		bill := billing.Bill{ID: uuid.New(), Code: beneficiary.Code, RecipientID: beneficiary.ID, AmountTotal: plan.FixedAmount, Status: billing.BillPending, DatedOn: from}
		if err := tx.CreateBill(ctx, bill); err != nil {
			return err
		}
		benefit := BenefitConsumption{ID: uuid.New(), Code: beneficiary.Code, RecipientID: beneficiary.ID, Amount: plan.FixedAmount, DateDue: to, Status: BenefitAccepted}
		if err := tx.CreateBenefit(ctx, benefit); err != nil {
			return err
		}
		if err := tx.CreateAttachment(ctx, BenefitAttachment{ID: uuid.New(), BenefitID: benefit.ID, BillID: bill.ID}); err != nil {
			return err
		}
		if err := tx.LinkBenefit(ctx, p.ID, benefit.ID); err != nil {
			return err
		}
	}
	return nil
}

func serviceFixture(t *testing.T, programs *fakePrograms) (*memRepository, *Service) {
	t.Helper()
	repo := newMemRepository()
	cascade := NewCascade(repo, testLogger())
	registry := NewRegistry(
		NewManualStrategy(repo, cascade, newTaskService(newMemTaskRepo()), nil, testLogger()),
	)
	svc := NewService(repo, programs, flatEngine{}, registry, cascade, nil, testLogger())
	return repo, svc
}

func actorContext() context.Context {
	return shared.ContextWithActor(context.Background(), &shared.Actor{ID: 1, Email: "ops@example.org"})
}

func beneficiary(code string, ext map[string]any) program.Beneficiary {
	return program.Beneficiary{ID: uuid.New(), Code: code, Status: program.BeneficiaryActive, Ext: ext}
}

func testPlan() program.PaymentPlan {
	return program.PaymentPlan{
		ID:               uuid.New(),
		Code:             "PLAN-1",
		BenefitProgramID: uuid.New(),
		FixedAmount:      decimal.NewFromInt(150),
		Currency:         "USD",
	}
}

func TestCreateRequiresActor(t *testing.T) {
	_, svc := serviceFixture(t, &fakePrograms{plan: testPlan()})
	_, err := svc.Create(context.Background(), CreateInput{Name: "june", PaymentMethod: MethodManual, PaymentPlanID: uuid.New()})
	require.ErrorIs(t, err, httpx.ErrUnauthorized)
}

func TestCreateRejectsUnknownPaymentMethod(t *testing.T) {
	_, svc := serviceFixture(t, &fakePrograms{plan: testPlan()})
	_, err := svc.Create(actorContext(), CreateInput{Name: "june", PaymentMethod: "telepathy", PaymentPlanID: uuid.New()})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreatePlanNotFound(t *testing.T) {
	_, svc := serviceFixture(t, &fakePrograms{planErr: httpx.ErrNotFound})
	_, err := svc.Create(actorContext(), CreateInput{Name: "june", PaymentMethod: MethodManual, PaymentPlanID: uuid.New()})
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestCreateGeneratesBenefitsForSelection(t *testing.T) {
	plan := testPlan()
	programs := &fakePrograms{
		plan: plan,
		beneficiaries: []program.Beneficiary{
			beneficiary("BN-1", map[string]any{"household_size": 5}),
			beneficiary("BN-2", map[string]any{"household_size": 2}),
			beneficiary("BN-3", map[string]any{"household_size": 4}),
		},
	}
	repo, svc := serviceFixture(t, programs)

	p, err := svc.Create(actorContext(), CreateInput{
		Name:          "june run",
		PaymentMethod: MethodManual,
		PaymentPlanID: plan.ID,
		JSONExt: map[string]any{
			"advanced_criteria": []any{
				map[string]any{"custom_filter_condition": "household_size__gte=3"},
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, p.Status)

	benefits, _ := repo.ListBenefitsByPayroll(context.Background(), p.ID)
	require.Len(t, benefits, 2)
	for _, b := range benefits {
		require.Equal(t, BenefitAccepted, b.Status)
		require.Equal(t, "150", b.Amount.String())
	}
	require.Len(t, repo.bills, 2)
	require.Len(t, repo.tasksByEvent(EventPayrollAccept), 1)

	total, _ := repo.TotalBenefitAmount(context.Background(), p.ID)
	require.Equal(t, "300", total.String())
}

func TestCreateZeroBeneficiariesSucceedsInert(t *testing.T) {
	plan := testPlan()
	repo, svc := serviceFixture(t, &fakePrograms{plan: plan})

	p, err := svc.Create(actorContext(), CreateInput{
		Name:          "empty run",
		PaymentMethod: MethodManual,
		PaymentPlanID: plan.ID,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, p.Status)

	benefits, _ := repo.ListBenefitsByPayroll(context.Background(), p.ID)
	require.Empty(t, benefits)
	// the approval task is issued regardless
	require.Len(t, repo.tasksByEvent(EventPayrollAccept), 1)
}

func TestCreateDefaultsWindowFromPaymentCycle(t *testing.T) {
	plan := testPlan()
	cycleID := uuid.New()
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	_, svc := serviceFixture(t, &fakePrograms{
		plan:  plan,
		cycle: program.PaymentCycle{ID: cycleID, Code: "2026-06", StartDate: start, EndDate: end},
	})

	p, err := svc.Create(actorContext(), CreateInput{
		Name:           "cycle run",
		PaymentMethod:  MethodManual,
		PaymentPlanID:  plan.ID,
		PaymentCycleID: &cycleID,
	})
	require.NoError(t, err)
	require.Equal(t, start, p.DateValidFrom)
	require.Equal(t, end, p.DateValidTo)
}

func TestCreateRejectsMalformedCriteria(t *testing.T) {
	plan := testPlan()
	_, svc := serviceFixture(t, &fakePrograms{plan: plan})

	_, err := svc.Create(actorContext(), CreateInput{
		Name:          "bad",
		PaymentMethod: MethodManual,
		PaymentPlanID: plan.ID,
		JSONExt: map[string]any{
			"advanced_criteria": []any{
				map[string]any{"custom_filter_condition": "household_size__between=3"},
			},
		},
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestDeletePurgesBenefitsAndSoftDeletesPayroll(t *testing.T) {
	repo, svc := serviceFixture(t, &fakePrograms{plan: testPlan()})
	p := seedPayroll(repo, MethodManual, StatusPendingApproval, BenefitAccepted, 2)

	require.NoError(t, svc.Delete(actorContext(), p.ID))

	_, err := repo.GetPayroll(context.Background(), p.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)
	// soft delete: the row survives for audit
	stored, ok := repo.payrolls[p.ID]
	require.True(t, ok)
	require.NotNil(t, stored.DeletedAt)
	require.Empty(t, repo.benefits)
	require.Empty(t, repo.bills)
}

func TestHardDeleteRemovesRow(t *testing.T) {
	repo, svc := serviceFixture(t, &fakePrograms{plan: testPlan()})
	p := seedPayroll(repo, MethodManual, StatusRejected, BenefitAccepted, 1)

	require.NoError(t, svc.HardDelete(context.Background(), p.ID))
	_, ok := repo.payrolls[p.ID]
	require.False(t, ok)
	require.Empty(t, repo.benefits)
}

func TestAttachBenefitTwiceIsConflict(t *testing.T) {
	repo, svc := serviceFixture(t, &fakePrograms{plan: testPlan()})
	p := seedPayroll(repo, MethodManual, StatusPendingApproval, BenefitAccepted, 0)
	b := BenefitConsumption{ID: uuid.New(), Code: "BC-X", Amount: decimal.NewFromInt(50), Status: BenefitAccepted}
	repo.benefits[b.ID] = b

	require.NoError(t, svc.AttachBenefitToPayroll(actorContext(), p.ID, b.ID))
	err := svc.AttachBenefitToPayroll(actorContext(), p.ID, b.ID)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestAttachRejectsDuplicateBenefitCode(t *testing.T) {
	repo, svc := serviceFixture(t, &fakePrograms{plan: testPlan()})
	p := seedPayroll(repo, MethodManual, StatusPendingApproval, BenefitAccepted, 1)
	dup := BenefitConsumption{ID: uuid.New(), Code: "BC-0", Amount: decimal.NewFromInt(50), Status: BenefitAccepted}
	repo.benefits[dup.ID] = dup

	err := svc.AttachBenefitToPayroll(actorContext(), p.ID, dup.ID)
	require.ErrorIs(t, err, httpx.ErrConflict)

	distinct := BenefitConsumption{ID: uuid.New(), Code: "BC-X", Amount: decimal.NewFromInt(50), Status: BenefitAccepted}
	repo.benefits[distinct.ID] = distinct
	require.NoError(t, svc.AttachBenefitToPayroll(actorContext(), p.ID, distinct.ID))
}

func TestRequestBenefitDeletionLocksBenefit(t *testing.T) {
	repo, svc := serviceFixture(t, &fakePrograms{plan: testPlan()})
	p := seedPayroll(repo, MethodManual, StatusPendingApproval, BenefitAccepted, 1)
	benefits, _ := repo.ListBenefitsByPayroll(context.Background(), p.ID)

	require.NoError(t, svc.RequestBenefitDeletion(actorContext(), benefits[0].ID))

	b, _ := repo.GetBenefit(context.Background(), benefits[0].ID)
	require.Equal(t, BenefitPendingDeletion, b.Status)
	require.Len(t, repo.tasksByEvent(EventBenefitDelete), 1)

	// a second request while locked is a conflict
	err := svc.RequestBenefitDeletion(actorContext(), benefits[0].ID)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestRequestDeletionAndRejectionOpenTasks(t *testing.T) {
	repo, svc := serviceFixture(t, &fakePrograms{plan: testPlan()})
	p := seedPayroll(repo, MethodManual, StatusApproveForPayment, BenefitApproveForPayment, 1)

	require.NoError(t, svc.RequestDeletion(actorContext(), p.ID))
	require.NoError(t, svc.RequestRejection(actorContext(), p.ID))
	require.Len(t, repo.tasksByEvent(EventPayrollDelete), 1)
	require.Len(t, repo.tasksByEvent(EventPayrollReject), 1)
}
