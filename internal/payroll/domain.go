package payroll

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status enumerates payroll run statuses.
type Status string

const (
	StatusPendingApproval   Status = "PENDING_APPROVAL"
	StatusApproveForPayment Status = "APPROVE_FOR_PAYMENT"
	StatusRejected          Status = "REJECTED"
	StatusReconciled        Status = "RECONCILED"
)

// BenefitStatus enumerates benefit consumption statuses.
type BenefitStatus string

const (
	BenefitCreated           BenefitStatus = "CREATED"
	BenefitAccepted          BenefitStatus = "ACCEPTED"
	BenefitApproveForPayment BenefitStatus = "APPROVE_FOR_PAYMENT"
	BenefitRejected          BenefitStatus = "REJECTED"
	BenefitDuplicate         BenefitStatus = "DUPLICATE"
	BenefitReconciled        BenefitStatus = "RECONCILED"
	// BenefitPendingDeletion locks a benefit while a deletion task is open.
	BenefitPendingDeletion BenefitStatus = "PENDING_DELETION"
)

// Payment method identifiers for the strategy registry.
const (
	MethodManual = "manual"
	MethodOnline = "online"
)

// Business events driving the task-completion workflow.
const (
	EventPayrollAccept         = "payroll_accept"
	EventPayrollReconciliation = "payroll_reconciliation"
	EventPayrollReject         = "payroll_reject"
	EventPayrollDelete         = "payroll_delete"
	EventBenefitDelete         = "benefit_delete"
)

var payrollTransitions = map[Status][]Status{
	StatusPendingApproval:   {StatusApproveForPayment, StatusRejected},
	StatusApproveForPayment: {StatusReconciled, StatusRejected, StatusPendingApproval},
	StatusRejected:          nil,
	StatusReconciled:        nil,
}

var benefitTransitions = map[BenefitStatus][]BenefitStatus{
	BenefitCreated:           {BenefitAccepted},
	BenefitAccepted:          {BenefitApproveForPayment, BenefitRejected, BenefitDuplicate, BenefitPendingDeletion},
	BenefitApproveForPayment: {BenefitReconciled, BenefitRejected, BenefitDuplicate, BenefitAccepted},
	BenefitReconciled:        {BenefitAccepted},
	BenefitPendingDeletion:   {BenefitAccepted},
	BenefitRejected:          nil,
	BenefitDuplicate:         nil,
}

// IsTerminal reports whether no further transition leaves the status.
func (s Status) IsTerminal() bool {
	return len(payrollTransitions[s]) == 0
}

// CanTransition reports whether s → to follows an edge of the payroll state machine.
func (s Status) CanTransition(to Status) bool {
	for _, next := range payrollTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransition reports whether s → to follows an edge of the benefit state machine.
func (s BenefitStatus) CanTransition(to BenefitStatus) bool {
	for _, next := range benefitTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Payroll identifies one batch payment run.
type Payroll struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Status         Status     `json:"status"`
	PaymentMethod  string     `json:"payment_method"`
	PaymentPlanID  *uuid.UUID `json:"payment_plan_id,omitempty"`
	PaymentCycleID *uuid.UUID `json:"payment_cycle_id,omitempty"`
	DateValidFrom  time.Time  `json:"date_valid_from"`
	DateValidTo    time.Time  `json:"date_valid_to"`
	// JSONExt carries the advanced selection criteria at creation time and
	// the raw gateway response after acknowledgement.
	JSONExt   map[string]any `json:"json_ext,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

// BenefitConsumption is one scheduled payment to a recipient within a payroll.
// The recipient is referenced polymorphically by type and id.
type BenefitConsumption struct {
	ID            uuid.UUID       `json:"id"`
	Code          string          `json:"code"`
	RecipientType string          `json:"recipient_type"`
	RecipientID   uuid.UUID       `json:"recipient_id"`
	Amount        decimal.Decimal `json:"amount"`
	DateDue       time.Time       `json:"date_due"`
	Receipt       string          `json:"receipt,omitempty"`
	Status        BenefitStatus   `json:"status"`
	JSONExt       map[string]any  `json:"json_ext,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty"`
}

// BenefitAttachment links a benefit consumption to an external bill. One
// attachment per constituent charge; never orphaned.
type BenefitAttachment struct {
	ID        uuid.UUID
	BenefitID uuid.UUID
	BillID    uuid.UUID
	CreatedAt time.Time
}

// PayrollBenefit is the payroll↔benefit junction row. The service keeps one
// active row per benefit within a payroll; storage does not constrain the pair.
type PayrollBenefit struct {
	ID        uuid.UUID
	PayrollID uuid.UUID
	BenefitID uuid.UUID
	CreatedAt time.Time
	DeletedAt *time.Time
}
