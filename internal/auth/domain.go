package auth

import "time"

// User is an operator account allowed to drive payroll runs.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}
