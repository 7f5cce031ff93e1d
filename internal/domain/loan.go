package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	LoanStatusPending   = "pending"
	LoanStatusApproved  = "approved"
	LoanStatusRejected  = "rejected"
	LoanStatusCompleted = "completed"
)

// Autopay sub-state, independent of the loan status.
const (
	AutopayStatusNone      = "none"
	AutopayStatusPending   = "pending"
	AutopayStatusActive    = "active"
	AutopayStatusPaused    = "paused"
	AutopayStatusCancelled = "cancelled"
)

// Loan is a borrowing agreement broken into daily installments. All
// amounts are integer currency units. Derived terms are fixed at approval
// time; aggregates change only through settlement, the overdue sweep, or
// the reconciler.
type Loan struct {
	ID         uuid.UUID `json:"id" db:"id"`
	BorrowerID uuid.UUID `json:"borrower_id" db:"borrower_id"`

	Amount       int64           `json:"amount" db:"amount"`
	TotalDays    int             `json:"total_days" db:"total_days"`
	InterestRate decimal.Decimal `json:"interest_rate" db:"interest_rate"`

	DailyPrincipal   int64 `json:"daily_principal" db:"daily_principal"`
	DailyInterest    int64 `json:"daily_interest" db:"daily_interest"`
	DailyInstallment int64 `json:"daily_installment" db:"daily_installment"`

	TotalPaid        int64 `json:"total_paid" db:"total_paid"`
	RemainingBalance int64 `json:"remaining_balance" db:"remaining_balance"`
	PenaltyAmount    int64 `json:"penalty_amount" db:"penalty_amount"`

	Status        string `json:"status" db:"status"`
	AutopayStatus string `json:"autopay_status" db:"autopay_status"`

	ApprovedAt *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	StartDate  *time.Time `json:"start_date,omitempty" db:"start_date"`
	EndDate    *time.Time `json:"end_date,omitempty" db:"end_date"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TotalInterest is the flat interest over the whole term,
// ceil(amount * rate / 100).
func (l *Loan) TotalInterest() int64 {
	return decimal.NewFromInt(l.Amount).
		Mul(l.InterestRate).
		Div(decimal.NewFromInt(100)).
		Ceil().
		IntPart()
}

// TotalPayable is principal plus total interest, the starting value of
// RemainingBalance. Penalty is excluded.
func (l *Loan) TotalPayable() int64 {
	return l.Amount + l.TotalInterest()
}

// DTOs for requests and responses

type CreateLoanRequest struct {
	BorrowerID   string          `json:"borrower_id" validate:"required,uuid"`
	Amount       int64           `json:"amount" validate:"required,gt=0"`
	TotalDays    int             `json:"total_days" validate:"required,gt=0"`
	InterestRate decimal.Decimal `json:"interest_rate"`
}

type ApproveLoanResponse struct {
	Loan     *Loan          `json:"loan"`
	Schedule []*Installment `json:"schedule"`
}

type ScheduleResponse struct {
	LoanID   uuid.UUID      `json:"loan_id"`
	Schedule []*Installment `json:"schedule"`
}

type ReconcileResponse struct {
	LoanID  uuid.UUID `json:"loan_id"`
	Drifted bool      `json:"drifted"`
	Report  *Drift    `json:"report,omitempty"`
}

// Drift describes a divergence between a loan's cached aggregates and the
// true sums over its installments.
type Drift struct {
	LoanID          uuid.UUID `json:"loan_id"`
	TotalPaidBefore int64     `json:"total_paid_before"`
	TotalPaidAfter  int64     `json:"total_paid_after"`
	RemainingBefore int64     `json:"remaining_before"`
	RemainingAfter  int64     `json:"remaining_after"`
	PenaltyBefore   int64     `json:"penalty_before"`
	PenaltyAfter    int64     `json:"penalty_after"`
	CompletedAfter  bool      `json:"completed_after"`
}
