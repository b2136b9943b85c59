// Package billing holds the external financial documents ("bills") that
// benefit consumptions attach to. Bills are written through the payroll
// repositories; this package owns only their shape and status vocabulary.
package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BillStatus enumerates settlement states reported back by a payment channel.
type BillStatus string

const (
	BillPending BillStatus = "PENDING"
	BillPayed   BillStatus = "PAYED"
	BillUnpaid  BillStatus = "UNPAID"
)

// Bill is one external financial document covering a benefit charge.
type Bill struct {
	ID            uuid.UUID
	Code          string
	RecipientType string
	RecipientID   uuid.UUID
	AmountTotal   decimal.Decimal
	Status        BillStatus
	DatedOn       time.Time
	CreatedAt     time.Time
	DeletedAt     *time.Time
}
