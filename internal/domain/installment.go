package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	InstallmentStatusPending = "pending"
	InstallmentStatusOverdue = "overdue"
	InstallmentStatusPaid    = "paid"
)

// Installment is one day's obligation within a loan. Principal and
// interest are fixed at creation; penalty only grows, and never after the
// installment is paid. TotalAmount is always
// principal + interest + penalty.
type Installment struct {
	ID         uuid.UUID `json:"id" db:"id"`
	LoanID     uuid.UUID `json:"loan_id" db:"loan_id"`
	BorrowerID uuid.UUID `json:"borrower_id" db:"borrower_id"`

	DayNumber       int   `json:"day_number" db:"day_number"`
	PrincipalAmount int64 `json:"principal_amount" db:"principal_amount"`
	InterestAmount  int64 `json:"interest_amount" db:"interest_amount"`
	PenaltyAmount   int64 `json:"penalty_amount" db:"penalty_amount"`
	TotalAmount     int64 `json:"total_amount" db:"total_amount"`

	DueDate time.Time `json:"due_date" db:"due_date"`
	Status  string    `json:"status" db:"status"`

	PaymentRef *string    `json:"payment_ref,omitempty" db:"payment_ref"`
	PaidAt     *time.Time `json:"paid_at,omitempty" db:"paid_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsPaid reports whether the installment reached its terminal state.
func (i *Installment) IsPaid() bool {
	return i.Status == InstallmentStatusPaid
}

// LedgerTotals are the sums the reconciler recomputes a loan's aggregates
// from.
type LedgerTotals struct {
	Count             int   `db:"count"`
	UnpaidCount       int   `db:"unpaid_count"`
	PaidTotal         int64 `db:"paid_total"`
	PaidPrincipalPlus int64 `db:"paid_principal_plus"`
	PenaltySum        int64 `db:"penalty_sum"`
}

type SettleRequest struct {
	PaymentRef string `json:"payment_ref" validate:"required"`
}

type SettlementResult struct {
	LoanID        uuid.UUID `json:"loan_id"`
	Settled       int       `json:"settled"`
	Amount        int64     `json:"amount"`
	LoanCompleted bool      `json:"loan_completed"`
	AlreadyPaid   bool      `json:"already_paid,omitempty"`
}

type SweepResult struct {
	Penalized int `json:"penalized"`
}
