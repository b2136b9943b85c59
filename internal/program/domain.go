// Package program holds the benefit-program master data the payroll module
// selects against: payment plans, payment cycles and beneficiaries.
package program

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BeneficiaryStatus enumerates enrolment states.
type BeneficiaryStatus string

const (
	BeneficiaryActive    BeneficiaryStatus = "ACTIVE"
	BeneficiarySuspended BeneficiaryStatus = "SUSPENDED"
	BeneficiaryGraduated BeneficiaryStatus = "GRADUATED"
)

// PaymentPlan ties a benefit program to a payable amount per beneficiary.
type PaymentPlan struct {
	ID               uuid.UUID
	Code             string
	Name             string
	BenefitProgramID uuid.UUID
	FixedAmount      decimal.Decimal
	Currency         string
	CreatedAt        time.Time
}

// PaymentCycle is an optional recurring window a payroll can be pinned to.
type PaymentCycle struct {
	ID        uuid.UUID
	Code      string
	StartDate time.Time
	EndDate   time.Time
}

// Beneficiary is an addressable recipient enrolled in a benefit program.
type Beneficiary struct {
	ID        uuid.UUID
	ProgramID uuid.UUID
	Code      string
	FirstName string
	LastName  string
	Status    BeneficiaryStatus
	// Ext carries program-specific attributes that selection criteria
	// evaluate against (household size, region, poverty score, ...).
	Ext       map[string]any
	CreatedAt time.Time
}
