package payroll

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openstipend/openstipend/internal/billing"
	"github.com/openstipend/openstipend/internal/platform/httpx"
	"github.com/openstipend/openstipend/internal/tasks"
)

// memRepository is an in-memory Repository for tests. WithTx applies the
// callback directly; writes are not rolled back on error.
type memRepository struct {
	payrolls    map[uuid.UUID]Payroll
	benefits    map[uuid.UUID]BenefitConsumption
	bills       map[uuid.UUID]billing.Bill
	attachments []BenefitAttachment
	links       []PayrollBenefit
	tasks       []tasks.Task
}

func newMemRepository() *memRepository {
	return &memRepository{
		payrolls: map[uuid.UUID]Payroll{},
		benefits: map[uuid.UUID]BenefitConsumption{},
		bills:    map[uuid.UUID]billing.Bill{},
	}
}

func (m *memRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memRepository) GetPayroll(ctx context.Context, id uuid.UUID) (Payroll, error) {
	p, ok := m.payrolls[id]
	if !ok || p.DeletedAt != nil {
		return Payroll{}, httpx.ErrNotFound
	}
	return p, nil
}

func (m *memRepository) ListPayrolls(ctx context.Context) ([]Payroll, error) {
	var out []Payroll
	for _, p := range m.payrolls {
		if p.DeletedAt == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memRepository) GetBenefit(ctx context.Context, id uuid.UUID) (BenefitConsumption, error) {
	b, ok := m.benefits[id]
	if !ok || b.DeletedAt != nil {
		return BenefitConsumption{}, httpx.ErrNotFound
	}
	return b, nil
}

func (m *memRepository) linkedBenefitIDs(payrollID uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, l := range m.links {
		if l.PayrollID == payrollID && l.DeletedAt == nil {
			out = append(out, l.BenefitID)
		}
	}
	return out
}

func (m *memRepository) ListBenefitsByPayroll(ctx context.Context, payrollID uuid.UUID) ([]BenefitConsumption, error) {
	var out []BenefitConsumption
	for _, id := range m.linkedBenefitIDs(payrollID) {
		if b, ok := m.benefits[id]; ok && b.DeletedAt == nil {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memRepository) ListBenefitsByPayrollAndStatus(ctx context.Context, payrollID uuid.UUID, status BenefitStatus) ([]BenefitConsumption, error) {
	all, _ := m.ListBenefitsByPayroll(ctx, payrollID)
	var out []BenefitConsumption
	for _, b := range all {
		if b.Status == status {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memRepository) ListAttachmentsByBenefits(ctx context.Context, benefitIDs []uuid.UUID) ([]BenefitAttachment, error) {
	wanted := map[uuid.UUID]bool{}
	for _, id := range benefitIDs {
		wanted[id] = true
	}
	var out []BenefitAttachment
	for _, a := range m.attachments {
		if wanted[a.BenefitID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memRepository) ListBillsByPayroll(ctx context.Context, payrollID uuid.UUID) ([]billing.Bill, error) {
	benefitIDs := m.linkedBenefitIDs(payrollID)
	attachments, _ := m.ListAttachmentsByBenefits(ctx, benefitIDs)
	var out []billing.Bill
	for _, a := range attachments {
		if b, ok := m.bills[a.BillID]; ok && b.DeletedAt == nil {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memRepository) TotalBenefitAmount(ctx context.Context, payrollID uuid.UUID) (decimal.Decimal, error) {
	benefits, _ := m.ListBenefitsByPayroll(ctx, payrollID)
	total := decimal.Zero
	for _, b := range benefits {
		total = total.Add(b.Amount)
	}
	return total, nil
}

func (m *memRepository) CreatePayroll(ctx context.Context, p Payroll) error {
	m.payrolls[p.ID] = p
	return nil
}

func (m *memRepository) UpdatePayrollStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	p, ok := m.payrolls[id]
	if !ok || p.DeletedAt != nil || p.Status != from {
		return false, nil
	}
	p.Status = to
	m.payrolls[id] = p
	return true, nil
}

func (m *memRepository) UpdatePayrollJSONExt(ctx context.Context, id uuid.UUID, ext map[string]any) error {
	p, ok := m.payrolls[id]
	if !ok {
		return httpx.ErrNotFound
	}
	p.JSONExt = ext
	m.payrolls[id] = p
	return nil
}

func (m *memRepository) SoftDeletePayroll(ctx context.Context, id uuid.UUID) error {
	p, ok := m.payrolls[id]
	if !ok {
		return httpx.ErrNotFound
	}
	now := time.Now()
	p.DeletedAt = &now
	m.payrolls[id] = p
	return nil
}

func (m *memRepository) HardDeletePayroll(ctx context.Context, id uuid.UUID) error {
	delete(m.payrolls, id)
	return nil
}

func (m *memRepository) CreateBenefit(ctx context.Context, b BenefitConsumption) error {
	m.benefits[b.ID] = b
	return nil
}

func (m *memRepository) UpdateBenefitStatus(ctx context.Context, id uuid.UUID, from, to BenefitStatus) (bool, error) {
	b, ok := m.benefits[id]
	if !ok || b.DeletedAt != nil || b.Status != from {
		return false, nil
	}
	b.Status = to
	m.benefits[id] = b
	return true, nil
}

func (m *memRepository) UpdateBenefitReceipt(ctx context.Context, id uuid.UUID, receipt string, from, to BenefitStatus) (bool, error) {
	b, ok := m.benefits[id]
	if !ok || b.DeletedAt != nil || b.Status != from {
		return false, nil
	}
	b.Receipt = receipt
	b.Status = to
	m.benefits[id] = b
	return true, nil
}

func (m *memRepository) CreateBill(ctx context.Context, bill billing.Bill) error {
	m.bills[bill.ID] = bill
	return nil
}

func (m *memRepository) UpdateBillStatuses(ctx context.Context, billIDs []uuid.UUID, status billing.BillStatus) error {
	for _, id := range billIDs {
		if b, ok := m.bills[id]; ok {
			b.Status = status
			m.bills[id] = b
		}
	}
	return nil
}

func (m *memRepository) CreateAttachment(ctx context.Context, a BenefitAttachment) error {
	m.attachments = append(m.attachments, a)
	return nil
}

func (m *memRepository) LinkBenefit(ctx context.Context, payrollID, benefitID uuid.UUID) error {
	for _, l := range m.links {
		if l.PayrollID == payrollID && l.BenefitID == benefitID && l.DeletedAt == nil {
			return fmt.Errorf("benefit %s already linked: %w", benefitID, httpx.ErrConflict)
		}
	}
	m.links = append(m.links, PayrollBenefit{ID: uuid.New(), PayrollID: payrollID, BenefitID: benefitID})
	return nil
}

func (m *memRepository) CreateTask(ctx context.Context, task tasks.Task) error {
	m.tasks = append(m.tasks, task)
	return nil
}

func (m *memRepository) DeleteAttachmentsByBenefits(ctx context.Context, benefitIDs []uuid.UUID) error {
	wanted := map[uuid.UUID]bool{}
	for _, id := range benefitIDs {
		wanted[id] = true
	}
	var kept []BenefitAttachment
	for _, a := range m.attachments {
		if !wanted[a.BenefitID] {
			kept = append(kept, a)
		}
	}
	m.attachments = kept
	return nil
}

func (m *memRepository) DeleteBillsByIDs(ctx context.Context, billIDs []uuid.UUID) error {
	for _, id := range billIDs {
		delete(m.bills, id)
	}
	return nil
}

func (m *memRepository) DeleteLinksByBenefits(ctx context.Context, benefitIDs []uuid.UUID) error {
	wanted := map[uuid.UUID]bool{}
	for _, id := range benefitIDs {
		wanted[id] = true
	}
	var kept []PayrollBenefit
	for _, l := range m.links {
		if !wanted[l.BenefitID] {
			kept = append(kept, l)
		}
	}
	m.links = kept
	return nil
}

func (m *memRepository) DeleteBenefitsByIDs(ctx context.Context, benefitIDs []uuid.UUID) error {
	for _, id := range benefitIDs {
		delete(m.benefits, id)
	}
	return nil
}

func (m *memRepository) tasksByEvent(event string) []tasks.Task {
	var out []tasks.Task
	for _, t := range m.tasks {
		if t.BusinessEvent == event {
			out = append(out, t)
		}
	}
	return out
}

// seedPayroll installs a payroll with n benefits in the given benefit status,
// each carrying one bill and attachment.
func seedPayroll(m *memRepository, method string, status Status, benefitStatus BenefitStatus, n int) Payroll {
	p := Payroll{
		ID:            uuid.New(),
		Name:          "run",
		Status:        status,
		PaymentMethod: method,
		DateValidFrom: time.Now(),
		DateValidTo:   time.Now().AddDate(0, 1, 0),
	}
	m.payrolls[p.ID] = p
	for i := 0; i < n; i++ {
		bill := billing.Bill{
			ID:          uuid.New(),
			Code:        fmt.Sprintf("B-%d", i),
			AmountTotal: decimal.NewFromInt(100),
			Status:      billing.BillPending,
		}
		m.bills[bill.ID] = bill
		b := BenefitConsumption{
			ID:     uuid.New(),
			Code:   fmt.Sprintf("BC-%d", i),
			Amount: decimal.NewFromInt(100),
			Status: benefitStatus,
		}
		m.benefits[b.ID] = b
		m.attachments = append(m.attachments, BenefitAttachment{ID: uuid.New(), BenefitID: b.ID, BillID: bill.ID})
		m.links = append(m.links, PayrollBenefit{ID: uuid.New(), PayrollID: p.ID, BenefitID: b.ID})
	}
	return p
}
