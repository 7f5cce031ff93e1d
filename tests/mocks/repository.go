package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/daylend/emi-engine/internal/domain"
)

type MockTxManager struct {
	mock.Mock
}

// WithinTx invokes fn with a nil transaction; the repository mocks ignore
// the tx argument.
func (m *MockTxManager) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(nil)
}

type MockLoanRepository struct {
	mock.Mock
}

func (m *MockLoanRepository) Create(ctx context.Context, loan *domain.Loan) error {
	args := m.Called(ctx, loan)
	return args.Error(0)
}

func (m *MockLoanRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Loan), args.Error(1)
}

func (m *MockLoanRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Loan, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Loan), args.Error(1)
}

func (m *MockLoanRepository) ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*domain.Loan, error) {
	args := m.Called(ctx, borrowerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Loan), args.Error(1)
}

func (m *MockLoanRepository) ListByStatus(ctx context.Context, status string) ([]*domain.Loan, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Loan), args.Error(1)
}

func (m *MockLoanRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockLoanRepository) ApproveTx(ctx context.Context, tx *sqlx.Tx, loan *domain.Loan) error {
	args := m.Called(ctx, tx, loan)
	return args.Error(0)
}

func (m *MockLoanRepository) ApplyAggregateDeltaTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, paidDelta, balanceDelta, penaltyDelta int64) error {
	args := m.Called(ctx, tx, id, paidDelta, balanceDelta, penaltyDelta)
	return args.Error(0)
}

func (m *MockLoanRepository) MarkCompletedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	args := m.Called(ctx, tx, id)
	return args.Error(0)
}

func (m *MockLoanRepository) OverwriteAggregatesTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, totalPaid, remaining, penalty int64, status string) error {
	args := m.Called(ctx, tx, id, totalPaid, remaining, penalty, status)
	return args.Error(0)
}

func (m *MockLoanRepository) UpdateAutopayStatus(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockLoanRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockInstallmentRepository struct {
	mock.Mock
}

func (m *MockInstallmentRepository) CreateBatchTx(ctx context.Context, tx *sqlx.Tx, installments []*domain.Installment) error {
	args := m.Called(ctx, tx, installments)
	return args.Error(0)
}

func (m *MockInstallmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Installment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Installment), args.Error(1)
}

func (m *MockInstallmentRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Installment, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Installment), args.Error(1)
}

func (m *MockInstallmentRepository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Installment, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Installment), args.Error(1)
}

func (m *MockInstallmentRepository) ListUnpaidByLoanTx(ctx context.Context, tx *sqlx.Tx, loanID uuid.UUID, limit int) ([]*domain.Installment, error) {
	args := m.Called(ctx, tx, loanID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Installment), args.Error(1)
}

func (m *MockInstallmentRepository) ListPastDue(ctx context.Context, cutoff time.Time) ([]*domain.Installment, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Installment), args.Error(1)
}

func (m *MockInstallmentRepository) HasPaymentRefTx(ctx context.Context, tx *sqlx.Tx, loanID uuid.UUID, paymentRef string) (bool, error) {
	args := m.Called(ctx, tx, loanID, paymentRef)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstallmentRepository) MarkPaidTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, paymentRef string, paidAt time.Time) (bool, error) {
	args := m.Called(ctx, tx, id, paymentRef, paidAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstallmentRepository) ApplyPenaltyTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, newPenalty int64) (bool, error) {
	args := m.Called(ctx, tx, id, newPenalty)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstallmentRepository) CountUnpaidTx(ctx context.Context, tx *sqlx.Tx, loanID uuid.UUID) (int, error) {
	args := m.Called(ctx, tx, loanID)
	return args.Int(0), args.Error(1)
}

func (m *MockInstallmentRepository) SumTotalsTx(ctx context.Context, tx *sqlx.Tx, loanID uuid.UUID) (*domain.LedgerTotals, error) {
	args := m.Called(ctx, tx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerTotals), args.Error(1)
}

type MockNotificationRepository struct {
	mock.Mock
}

func (m *MockNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockNotificationRepository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Notification, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Notification), args.Error(1)
}
