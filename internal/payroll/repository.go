package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/openstipend/openstipend/internal/billing"
	"github.com/openstipend/openstipend/internal/platform/db"
	"github.com/openstipend/openstipend/internal/platform/httpx"
	"github.com/openstipend/openstipend/internal/tasks"
)

// Reader bundles the query operations available both on the pool and inside
// a transaction.
type Reader interface {
	GetPayroll(ctx context.Context, id uuid.UUID) (Payroll, error)
	ListPayrolls(ctx context.Context) ([]Payroll, error)
	GetBenefit(ctx context.Context, id uuid.UUID) (BenefitConsumption, error)
	// ListBenefitsByPayroll returns the non-deleted benefits actively linked
	// to the payroll.
	ListBenefitsByPayroll(ctx context.Context, payrollID uuid.UUID) ([]BenefitConsumption, error)
	ListBenefitsByPayrollAndStatus(ctx context.Context, payrollID uuid.UUID, status BenefitStatus) ([]BenefitConsumption, error)
	ListAttachmentsByBenefits(ctx context.Context, benefitIDs []uuid.UUID) ([]BenefitAttachment, error)
	ListBillsByPayroll(ctx context.Context, payrollID uuid.UUID) ([]billing.Bill, error)
	TotalBenefitAmount(ctx context.Context, payrollID uuid.UUID) (decimal.Decimal, error)
}

// TxRepository is the mutation surface available inside one transaction.
type TxRepository interface {
	Reader

	CreatePayroll(ctx context.Context, p Payroll) error
	// UpdatePayrollStatus writes to only when the row still holds from, and
	// reports whether a row was updated. A false result means the payroll is
	// gone or another writer moved it first; callers decide between no-op
	// and conflict.
	UpdatePayrollStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	UpdatePayrollJSONExt(ctx context.Context, id uuid.UUID, ext map[string]any) error
	SoftDeletePayroll(ctx context.Context, id uuid.UUID) error
	HardDeletePayroll(ctx context.Context, id uuid.UUID) error

	CreateBenefit(ctx context.Context, b BenefitConsumption) error
	// UpdateBenefitStatus and UpdateBenefitReceipt follow the same
	// compare-and-set contract as UpdatePayrollStatus.
	UpdateBenefitStatus(ctx context.Context, id uuid.UUID, from, to BenefitStatus) (bool, error)
	UpdateBenefitReceipt(ctx context.Context, id uuid.UUID, receipt string, from, to BenefitStatus) (bool, error)

	CreateBill(ctx context.Context, bill billing.Bill) error
	UpdateBillStatuses(ctx context.Context, billIDs []uuid.UUID, status billing.BillStatus) error

	CreateAttachment(ctx context.Context, a BenefitAttachment) error
	// LinkBenefit inserts a junction row; a second active link for the same
	// benefit within the payroll is a conflict.
	LinkBenefit(ctx context.Context, payrollID, benefitID uuid.UUID) error

	CreateTask(ctx context.Context, task tasks.Task) error

	DeleteAttachmentsByBenefits(ctx context.Context, benefitIDs []uuid.UUID) error
	DeleteBillsByIDs(ctx context.Context, billIDs []uuid.UUID) error
	DeleteLinksByBenefits(ctx context.Context, benefitIDs []uuid.UUID) error
	DeleteBenefitsByIDs(ctx context.Context, benefitIDs []uuid.UUID) error
}

// Repository defines payroll data access.
type Repository interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db querier
}

type pgRepository struct {
	queries
	pool *pgxpool.Pool
}

type pgTxRepository struct {
	queries
}

// NewRepository constructs a postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{queries: queries{db: pool}, pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{queries: queries{db: tx}})
	})
}

const payrollColumns = `id, name, status, payment_method, payment_plan_id, payment_cycle_id,
date_valid_from, date_valid_to, json_ext, created_at, updated_at, deleted_at`

func (q queries) GetPayroll(ctx context.Context, id uuid.UUID) (Payroll, error) {
	row := q.db.QueryRow(ctx, `SELECT `+payrollColumns+` FROM payrolls WHERE id=$1 AND deleted_at IS NULL`, id)
	return scanPayroll(row)
}

func (q queries) ListPayrolls(ctx context.Context) ([]Payroll, error) {
	rows, err := q.db.Query(ctx, `SELECT `+payrollColumns+` FROM payrolls WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("payroll: list: %w", err)
	}
	defer rows.Close()
	var out []Payroll
	for rows.Next() {
		p, err := scanPayroll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const benefitColumns = `id, code, recipient_type, recipient_id, amount::text, date_due, COALESCE(receipt, ''),
status, json_ext, created_at, updated_at, deleted_at`

func (q queries) GetBenefit(ctx context.Context, id uuid.UUID) (BenefitConsumption, error) {
	row := q.db.QueryRow(ctx, `SELECT `+benefitColumns+` FROM benefit_consumptions WHERE id=$1 AND deleted_at IS NULL`, id)
	return scanBenefit(row)
}

func (q queries) ListBenefitsByPayroll(ctx context.Context, payrollID uuid.UUID) ([]BenefitConsumption, error) {
	rows, err := q.db.Query(ctx, `SELECT b.id, b.code, b.recipient_type, b.recipient_id, b.amount::text, b.date_due,
COALESCE(b.receipt, ''), b.status, b.json_ext, b.created_at, b.updated_at, b.deleted_at
FROM benefit_consumptions b
JOIN payroll_benefits pb ON pb.benefit_id = b.id
WHERE pb.payroll_id=$1 AND pb.deleted_at IS NULL AND b.deleted_at IS NULL
ORDER BY b.code`, payrollID)
	if err != nil {
		return nil, fmt.Errorf("payroll: list benefits: %w", err)
	}
	defer rows.Close()
	return collectBenefits(rows)
}

func (q queries) ListBenefitsByPayrollAndStatus(ctx context.Context, payrollID uuid.UUID, status BenefitStatus) ([]BenefitConsumption, error) {
	rows, err := q.db.Query(ctx, `SELECT b.id, b.code, b.recipient_type, b.recipient_id, b.amount::text, b.date_due,
COALESCE(b.receipt, ''), b.status, b.json_ext, b.created_at, b.updated_at, b.deleted_at
FROM benefit_consumptions b
JOIN payroll_benefits pb ON pb.benefit_id = b.id
WHERE pb.payroll_id=$1 AND b.status=$2 AND pb.deleted_at IS NULL AND b.deleted_at IS NULL
ORDER BY b.code`, payrollID, string(status))
	if err != nil {
		return nil, fmt.Errorf("payroll: list benefits by status: %w", err)
	}
	defer rows.Close()
	return collectBenefits(rows)
}

func (q queries) ListAttachmentsByBenefits(ctx context.Context, benefitIDs []uuid.UUID) ([]BenefitAttachment, error) {
	if len(benefitIDs) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, `SELECT id, benefit_id, bill_id, created_at
FROM benefit_attachments WHERE benefit_id = ANY($1)`, benefitIDs)
	if err != nil {
		return nil, fmt.Errorf("payroll: list attachments: %w", err)
	}
	defer rows.Close()
	var out []BenefitAttachment
	for rows.Next() {
		var a BenefitAttachment
		if err := rows.Scan(&a.ID, &a.BenefitID, &a.BillID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q queries) ListBillsByPayroll(ctx context.Context, payrollID uuid.UUID) ([]billing.Bill, error) {
	rows, err := q.db.Query(ctx, `SELECT DISTINCT bl.id, bl.code, bl.recipient_type, bl.recipient_id, bl.amount_total::text,
bl.status, bl.dated_on, bl.created_at, bl.deleted_at
FROM bills bl
JOIN benefit_attachments ba ON ba.bill_id = bl.id
JOIN payroll_benefits pb ON pb.benefit_id = ba.benefit_id
WHERE pb.payroll_id=$1 AND pb.deleted_at IS NULL AND bl.deleted_at IS NULL
ORDER BY bl.code`, payrollID)
	if err != nil {
		return nil, fmt.Errorf("payroll: list bills: %w", err)
	}
	defer rows.Close()
	var out []billing.Bill
	for rows.Next() {
		var (
			b      billing.Bill
			amount string
			status string
		)
		if err := rows.Scan(&b.ID, &b.Code, &b.RecipientType, &b.RecipientID, &amount, &status, &b.DatedOn, &b.CreatedAt, &b.DeletedAt); err != nil {
			return nil, err
		}
		b.Status = billing.BillStatus(status)
		b.AmountTotal, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("payroll: parse bill amount: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q queries) TotalBenefitAmount(ctx context.Context, payrollID uuid.UUID) (decimal.Decimal, error) {
	var total string
	err := q.db.QueryRow(ctx, `SELECT COALESCE(SUM(b.amount), 0)::text
FROM benefit_consumptions b
JOIN payroll_benefits pb ON pb.benefit_id = b.id
WHERE pb.payroll_id=$1 AND pb.deleted_at IS NULL AND b.deleted_at IS NULL`, payrollID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("payroll: total amount: %w", err)
	}
	return decimal.NewFromString(total)
}

// --- mutations (transaction scope) ---

func (q queries) CreatePayroll(ctx context.Context, p Payroll) error {
	ext, err := json.Marshal(p.JSONExt)
	if err != nil {
		return fmt.Errorf("payroll: encode json_ext: %w", err)
	}
	_, err = q.db.Exec(ctx, `INSERT INTO payrolls (id, name, status, payment_method, payment_plan_id, payment_cycle_id,
date_valid_from, date_valid_to, json_ext, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`,
		p.ID, p.Name, string(p.Status), p.PaymentMethod, p.PaymentPlanID, p.PaymentCycleID,
		p.DateValidFrom, p.DateValidTo, ext)
	if err != nil {
		return fmt.Errorf("payroll: create: %w", err)
	}
	return nil
}

func (q queries) UpdatePayrollStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	tag, err := q.db.Exec(ctx, `UPDATE payrolls SET status=$3, updated_at=NOW()
WHERE id=$1 AND status=$2 AND deleted_at IS NULL`, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("payroll: update status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q queries) UpdatePayrollJSONExt(ctx context.Context, id uuid.UUID, extMap map[string]any) error {
	ext, err := json.Marshal(extMap)
	if err != nil {
		return fmt.Errorf("payroll: encode json_ext: %w", err)
	}
	_, err = q.db.Exec(ctx, `UPDATE payrolls SET json_ext=$2, updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`, id, ext)
	return err
}

func (q queries) SoftDeletePayroll(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE payrolls SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`, id)
	return err
}

func (q queries) HardDeletePayroll(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM payrolls WHERE id=$1`, id)
	return err
}

func (q queries) CreateBenefit(ctx context.Context, b BenefitConsumption) error {
	ext, err := json.Marshal(b.JSONExt)
	if err != nil {
		return fmt.Errorf("payroll: encode benefit json_ext: %w", err)
	}
	_, err = q.db.Exec(ctx, `INSERT INTO benefit_consumptions (id, code, recipient_type, recipient_id, amount, date_due,
receipt, status, json_ext, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, NOW(), NOW())`,
		b.ID, b.Code, b.RecipientType, b.RecipientID, b.Amount.String(), b.DateDue, b.Receipt, string(b.Status), ext)
	if err != nil {
		return fmt.Errorf("payroll: create benefit: %w", err)
	}
	return nil
}

func (q queries) UpdateBenefitStatus(ctx context.Context, id uuid.UUID, from, to BenefitStatus) (bool, error) {
	tag, err := q.db.Exec(ctx, `UPDATE benefit_consumptions SET status=$3, updated_at=NOW()
WHERE id=$1 AND status=$2 AND deleted_at IS NULL`, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("payroll: update benefit status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q queries) UpdateBenefitReceipt(ctx context.Context, id uuid.UUID, receipt string, from, to BenefitStatus) (bool, error) {
	tag, err := q.db.Exec(ctx, `UPDATE benefit_consumptions SET receipt=NULLIF($2, ''), status=$4, updated_at=NOW()
WHERE id=$1 AND status=$3 AND deleted_at IS NULL`, id, receipt, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("payroll: update benefit receipt: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q queries) CreateBill(ctx context.Context, bill billing.Bill) error {
	_, err := q.db.Exec(ctx, `INSERT INTO bills (id, code, recipient_type, recipient_id, amount_total, status, dated_on, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		bill.ID, bill.Code, bill.RecipientType, bill.RecipientID, bill.AmountTotal.String(), string(bill.Status), bill.DatedOn)
	if err != nil {
		return fmt.Errorf("payroll: create bill: %w", err)
	}
	return nil
}

func (q queries) UpdateBillStatuses(ctx context.Context, billIDs []uuid.UUID, status billing.BillStatus) error {
	if len(billIDs) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `UPDATE bills SET status=$2 WHERE id = ANY($1)`, billIDs, string(status))
	return err
}

func (q queries) CreateAttachment(ctx context.Context, a BenefitAttachment) error {
	_, err := q.db.Exec(ctx, `INSERT INTO benefit_attachments (id, benefit_id, bill_id, created_at)
VALUES ($1, $2, $3, NOW())`, a.ID, a.BenefitID, a.BillID)
	if err != nil {
		return fmt.Errorf("payroll: create attachment: %w", err)
	}
	return nil
}

func (q queries) LinkBenefit(ctx context.Context, payrollID, benefitID uuid.UUID) error {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payroll_benefits
WHERE payroll_id=$1 AND benefit_id=$2 AND deleted_at IS NULL)`, payrollID, benefitID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("payroll: check link: %w", err)
	}
	if exists {
		return fmt.Errorf("benefit %s already linked to payroll %s: %w", benefitID, payrollID, httpx.ErrConflict)
	}
	_, err = q.db.Exec(ctx, `INSERT INTO payroll_benefits (id, payroll_id, benefit_id, created_at)
VALUES ($1, $2, $3, NOW())`, uuid.New(), payrollID, benefitID)
	if err != nil {
		return fmt.Errorf("payroll: link benefit: %w", err)
	}
	return nil
}

func (q queries) CreateTask(ctx context.Context, task tasks.Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("payroll: encode task payload: %w", err)
	}
	_, err = q.db.Exec(ctx, `INSERT INTO tasks (id, source, entity_id, business_event, status, payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		task.ID, task.Source, task.EntityID, task.BusinessEvent, string(task.Status), payload)
	if err != nil {
		return fmt.Errorf("payroll: create task: %w", err)
	}
	return nil
}

func (q queries) DeleteAttachmentsByBenefits(ctx context.Context, benefitIDs []uuid.UUID) error {
	if len(benefitIDs) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `DELETE FROM benefit_attachments WHERE benefit_id = ANY($1)`, benefitIDs)
	return err
}

func (q queries) DeleteBillsByIDs(ctx context.Context, billIDs []uuid.UUID) error {
	if len(billIDs) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `DELETE FROM bills WHERE id = ANY($1)`, billIDs)
	return err
}

func (q queries) DeleteLinksByBenefits(ctx context.Context, benefitIDs []uuid.UUID) error {
	if len(benefitIDs) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `DELETE FROM payroll_benefits WHERE benefit_id = ANY($1)`, benefitIDs)
	return err
}

func (q queries) DeleteBenefitsByIDs(ctx context.Context, benefitIDs []uuid.UUID) error {
	if len(benefitIDs) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `DELETE FROM benefit_consumptions WHERE id = ANY($1)`, benefitIDs)
	return err
}

// --- scanning helpers ---

func scanPayroll(row pgx.Row) (Payroll, error) {
	var (
		p      Payroll
		status string
		ext    []byte
	)
	err := row.Scan(&p.ID, &p.Name, &status, &p.PaymentMethod, &p.PaymentPlanID, &p.PaymentCycleID,
		&p.DateValidFrom, &p.DateValidTo, &ext, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payroll{}, httpx.ErrNotFound
		}
		return Payroll{}, fmt.Errorf("payroll: scan: %w", err)
	}
	p.Status = Status(status)
	if len(ext) > 0 {
		if err := json.Unmarshal(ext, &p.JSONExt); err != nil {
			return Payroll{}, fmt.Errorf("payroll: decode json_ext: %w", err)
		}
	}
	return p, nil
}

func scanBenefit(row pgx.Row) (BenefitConsumption, error) {
	var (
		b      BenefitConsumption
		amount string
		status string
		ext    []byte
	)
	err := row.Scan(&b.ID, &b.Code, &b.RecipientType, &b.RecipientID, &amount, &b.DateDue,
		&b.Receipt, &status, &ext, &b.CreatedAt, &b.UpdatedAt, &b.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BenefitConsumption{}, httpx.ErrNotFound
		}
		return BenefitConsumption{}, fmt.Errorf("payroll: scan benefit: %w", err)
	}
	b.Status = BenefitStatus(status)
	b.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return BenefitConsumption{}, fmt.Errorf("payroll: parse benefit amount: %w", err)
	}
	if len(ext) > 0 {
		if err := json.Unmarshal(ext, &b.JSONExt); err != nil {
			return BenefitConsumption{}, fmt.Errorf("payroll: decode benefit json_ext: %w", err)
		}
	}
	return b, nil
}

func collectBenefits(rows pgx.Rows) ([]BenefitConsumption, error) {
	var out []BenefitConsumption
	for rows.Next() {
		b, err := scanBenefit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
