package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/daylend/emi-engine/internal/domain"
)

// TxManager runs a function inside a database transaction. The function's
// error rolls everything back; otherwise the transaction commits.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// LoanRepository defines loan data operations. The Tx variants run inside
// a caller-owned transaction so installment and aggregate writes commit as
// one unit.
type LoanRepository interface {
	// Create inserts a new pending loan
	Create(ctx context.Context, loan *domain.Loan) error

	// GetByID retrieves a loan by id
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error)

	// GetByIDTx retrieves a loan under a row lock (FOR UPDATE)
	GetByIDTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Loan, error)

	// ListByBorrower retrieves all loans for a borrower
	ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*domain.Loan, error)

	// ListByStatus retrieves all loans in a given status
	ListByStatus(ctx context.Context, status string) ([]*domain.Loan, error)

	// UpdateStatus moves a loan from one status to another; returns false
	// when the loan was not in the expected status
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)

	// ApproveTx writes the derived terms, dates and approved status
	ApproveTx(ctx context.Context, tx *sqlx.Tx, loan *domain.Loan) error

	// ApplyAggregateDeltaTx adjusts totalPaid/remainingBalance/penalty by
	// the given deltas
	ApplyAggregateDeltaTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, paidDelta, balanceDelta, penaltyDelta int64) error

	// MarkCompletedTx sets the loan status to completed
	MarkCompletedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error

	// OverwriteAggregatesTx rewrites the aggregates from recomputed sums
	OverwriteAggregatesTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, totalPaid, remaining, penalty int64, status string) error

	// UpdateAutopayStatus conditionally moves the autopay sub-state;
	// returns false when the current state did not match any of from
	UpdateAutopayStatus(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error)

	// Delete removes a loan; installments cascade
	Delete(ctx context.Context, id uuid.UUID) error
}

// InstallmentRepository defines installment ledger operations.
type InstallmentRepository interface {
	// CreateBatchTx inserts a full schedule in one transaction
	CreateBatchTx(ctx context.Context, tx *sqlx.Tx, installments []*domain.Installment) error

	// GetByID retrieves an installment by id
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Installment, error)

	// GetByIDTx retrieves an installment under a row lock (FOR UPDATE)
	GetByIDTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Installment, error)

	// ListByLoan retrieves the schedule ordered by day number
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Installment, error)

	// ListUnpaidByLoanTx retrieves the oldest unpaid installments ordered
	// by day number, locked FOR UPDATE; limit <= 0 means no limit
	ListUnpaidByLoanTx(ctx context.Context, tx *sqlx.Tx, loanID uuid.UUID, limit int) ([]*domain.Installment, error)

	// ListPastDue retrieves unpaid installments due before cutoff across
	// all loans
	ListPastDue(ctx context.Context, cutoff time.Time) ([]*domain.Installment, error)

	// HasPaymentRefTx reports whether any installment of the loan already
	// carries the external payment reference
	HasPaymentRefTx(ctx context.Context, tx *sqlx.Tx, loanID uuid.UUID, paymentRef string) (bool, error)

	// MarkPaidTx conditionally settles one installment; returns false when
	// the row was already paid
	MarkPaidTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, paymentRef string, paidAt time.Time) (bool, error)

	// ApplyPenaltyTx conditionally raises the penalty to newPenalty and
	// flips status to overdue; returns false when the row was paid or the
	// penalty was not strictly greater
	ApplyPenaltyTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, newPenalty int64) (bool, error)

	// CountUnpaidTx counts the loan's installments not yet paid
	CountUnpaidTx(ctx context.Context, tx *sqlx.Tx, loanID uuid.UUID) (int, error)

	// SumTotalsTx computes the reconciler's input sums under the
	// transaction's snapshot
	SumTotalsTx(ctx context.Context, tx *sqlx.Tx, loanID uuid.UUID) (*domain.LedgerTotals, error)
}

// NotificationRepository persists emitted event records.
type NotificationRepository interface {
	// Create inserts a notification record
	Create(ctx context.Context, n *domain.Notification) error

	// ListByLoan retrieves notifications for a loan, newest first
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Notification, error)
}
