package program

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/openstipend/openstipend/internal/platform/httpx"
)

// Repository defines master-data lookups used by the payroll orchestrator.
type Repository interface {
	GetPaymentPlan(ctx context.Context, id uuid.UUID) (PaymentPlan, error)
	GetPaymentCycle(ctx context.Context, id uuid.UUID) (PaymentCycle, error)
	ListActiveBeneficiaries(ctx context.Context, programID uuid.UUID) ([]Beneficiary, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) GetPaymentPlan(ctx context.Context, id uuid.UUID) (PaymentPlan, error) {
	var (
		p      PaymentPlan
		amount string
	)
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, benefit_program_id, fixed_amount::text, currency, created_at
FROM payment_plans WHERE id=$1 AND deleted_at IS NULL`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.BenefitProgramID, &amount, &p.Currency, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentPlan{}, fmt.Errorf("payment plan %s: %w", id, httpx.ErrNotFound)
		}
		return PaymentPlan{}, fmt.Errorf("program: get payment plan: %w", err)
	}
	p.FixedAmount, err = decimal.NewFromString(amount)
	if err != nil {
		return PaymentPlan{}, fmt.Errorf("program: parse plan amount: %w", err)
	}
	return p, nil
}

func (r *pgRepository) GetPaymentCycle(ctx context.Context, id uuid.UUID) (PaymentCycle, error) {
	var c PaymentCycle
	err := r.pool.QueryRow(ctx, `SELECT id, code, start_date, end_date
FROM payment_cycles WHERE id=$1`, id).
		Scan(&c.ID, &c.Code, &c.StartDate, &c.EndDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentCycle{}, fmt.Errorf("payment cycle %s: %w", id, httpx.ErrNotFound)
		}
		return PaymentCycle{}, fmt.Errorf("program: get payment cycle: %w", err)
	}
	return c, nil
}

func (r *pgRepository) ListActiveBeneficiaries(ctx context.Context, programID uuid.UUID) ([]Beneficiary, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, program_id, code, first_name, last_name, status, ext, created_at
FROM beneficiaries WHERE program_id=$1 AND status=$2 AND deleted_at IS NULL ORDER BY code`, programID, string(BeneficiaryActive))
	if err != nil {
		return nil, fmt.Errorf("program: list beneficiaries: %w", err)
	}
	defer rows.Close()

	var out []Beneficiary
	for rows.Next() {
		var (
			b       Beneficiary
			status  string
			extJSON []byte
		)
		if err := rows.Scan(&b.ID, &b.ProgramID, &b.Code, &b.FirstName, &b.LastName, &status, &extJSON, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Status = BeneficiaryStatus(status)
		if len(extJSON) > 0 {
			if err := json.Unmarshal(extJSON, &b.Ext); err != nil {
				return nil, fmt.Errorf("program: decode beneficiary ext: %w", err)
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
