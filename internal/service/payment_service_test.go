package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daylend/emi-engine/internal/domain"
	"github.com/daylend/emi-engine/internal/gateway"
	"github.com/daylend/emi-engine/pkg/apperrors"
	"github.com/daylend/emi-engine/tests/mocks"
)

func newPaymentService(loanRepo *mocks.MockLoanRepository, instRepo *mocks.MockInstallmentRepository, txm *mocks.MockTxManager, emitter *mocks.RecordingEmitter) *PaymentService {
	return NewPaymentService(loanRepo, instRepo, txm, emitter, nil, testConfig(), zap.NewNop())
}

func approvedLoan() *domain.Loan {
	loan := pendingLoan(10000, 100, 20)
	loan.Status = domain.LoanStatusApproved
	loan.DailyPrincipal = 100
	loan.DailyInterest = 20
	loan.DailyInstallment = 120
	loan.RemainingBalance = 12000
	return loan
}

func unpaidInstallment(loan *domain.Loan, day int) *domain.Installment {
	return &domain.Installment{
		ID:              uuid.New(),
		LoanID:          loan.ID,
		BorrowerID:      loan.BorrowerID,
		DayNumber:       day,
		PrincipalAmount: loan.DailyPrincipal,
		InterestAmount:  loan.DailyInterest,
		TotalAmount:     loan.DailyInstallment,
		Status:          domain.InstallmentStatusPending,
	}
}

func hexHMAC(canonical, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSettleInstallments_Success(t *testing.T) {
	mockLoanRepo := &mocks.MockLoanRepository{}
	mockInstRepo := &mocks.MockInstallmentRepository{}
	mockTx := &mocks.MockTxManager{}
	emitter := &mocks.RecordingEmitter{}

	loan := approvedLoan()
	inst := unpaidInstallment(loan, 1)

	mockInstRepo.On("GetByID", mock.Anything, inst.ID).Return(inst, nil)
	mockTx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
	mockLoanRepo.On("GetByIDTx", mock.Anything, mock.Anything, loan.ID).Return(loan, nil)
	mockInstRepo.On("GetByIDTx", mock.Anything, mock.Anything, inst.ID).Return(inst, nil)
	mockInstRepo.On("MarkPaidTx", mock.Anything, mock.Anything, inst.ID, "pay_001", mock.Anything).Return(true, nil)
	mockLoanRepo.On("ApplyAggregateDeltaTx", mock.Anything, mock.Anything, loan.ID, int64(120), int64(-120), int64(0)).Return(nil)
	mockInstRepo.On("CountUnpaidTx", mock.Anything, mock.Anything, loan.ID).Return(99, nil)

	service := newPaymentService(mockLoanRepo, mockInstRepo, mockTx, emitter)

	result, err := service.SettleInstallments(context.Background(), []uuid.UUID{inst.ID}, "pay_001")

	require.NoError(t, err)
	assert.Equal(t, 1, result.Settled)
	assert.Equal(t, int64(120), result.Amount)
	assert.False(t, result.LoanCompleted)

	events := emitter.ByType(domain.EventInstallmentPaid)
	require.Len(t, events, 1)
	assert.Equal(t, int64(120), events[0].Amount)
	assert.Equal(t, 1, events[0].Count)

	mockLoanRepo.AssertNotCalled(t, "MarkCompletedTx", mock.Anything, mock.Anything, mock.Anything)
	mockLoanRepo.AssertExpectations(t)
	mockInstRepo.AssertExpectations(t)
}

func TestSettleInstallments_PenaltyExcludedFromBalanceDecrement(t *testing.T) {
	mockLoanRepo := &mocks.MockLoanRepository{}
	mockInstRepo := &mocks.MockInstallmentRepository{}
	mockTx := &mocks.MockTxManager{}
	emitter := &mocks.RecordingEmitter{}

	loan := approvedLoan()
	inst := unpaidInstallment(loan, 1)
	inst.Status = domain.InstallmentStatusOverdue
	inst.PenaltyAmount = 60
	inst.TotalAmount = 180

	mockInstRepo.On("GetByID", mock.Anything, inst.ID).Return(inst, nil)
	mockTx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
	mockLoanRepo.On("GetByIDTx", mock.Anything, mock.Anything, loan.ID).Return(loan, nil)
	mockInstRepo.On("GetByIDTx", mock.Anything, mock.Anything, inst.ID).Return(inst, nil)
	mockInstRepo.On("MarkPaidTx", mock.Anything, mock.Anything, inst.ID, "pay_002", mock.Anything).Return(true, nil)
	// totalPaid takes the penalty, remaining balance does not.
	mockLoanRepo.On("ApplyAggregateDeltaTx", mock.Anything, mock.Anything, loan.ID, int64(180), int64(-120), int64(0)).Return(nil)
	mockInstRepo.On("CountUnpaidTx", mock.Anything, mock.Anything, loan.ID).Return(42, nil)

	service := newPaymentService(mockLoanRepo, mockInstRepo, mockTx, emitter)

	result, err := service.SettleInstallments(context.Background(), []uuid.UUID{inst.ID}, "pay_002")

	require.NoError(t, err)
	assert.Equal(t, int64(180), result.Amount)
	mockLoanRepo.AssertExpectations(t)
}

func TestSettleInstallments_AlreadyPaidIsConflict(t *testing.T) {
	mockLoanRepo := &mocks.MockLoanRepository{}
	mockInstRepo := &mocks.MockInstallmentRepository{}
	mockTx := &mocks.MockTxManager{}
	emitter := &mocks.RecordingEmitter{}

	loan := approvedLoan()
	inst := unpaidInstallment(loan, 1)
	paid := unpaidInstallment(loan, 1)
	paid.ID = inst.ID
	paid.Status = domain.InstallmentStatusPaid

	mockInstRepo.On("GetByID", mock.Anything, inst.ID).Return(inst, nil)
	mockTx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
	mockLoanRepo.On("GetByIDTx", mock.Anything, mock.Anything, loan.ID).Return(loan, nil)
	mockInstRepo.On("GetByIDTx", mock.Anything, mock.Anything, inst.ID).Return(paid, nil)

	service := newPaymentService(mockLoanRepo, mockInstRepo, mockTx, emitter)

	result, err := service.SettleInstallments(context.Background(), []uuid.UUID{inst.ID}, "pay_003")

	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrInstallmentAlreadyPaid)
	assert.Empty(t, emitter.Events)
	mockLoanRepo.AssertNotCalled(t, "ApplyAggregateDeltaTx",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettleInstallments_LastPaymentCompletesLoan(t *testing.T) {
	mockLoanRepo := &mocks.MockLoanRepository{}
	mockInstRepo := &mocks.MockInstallmentRepository{}
	mockTx := &mocks.MockTxManager{}
	emitter := &mocks.RecordingEmitter{}

	loan := approvedLoan()
	inst := unpaidInstallment(loan, 100)

	mockInstRepo.On("GetByID", mock.Anything, inst.ID).Return(inst, nil)
	mockTx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
	mockLoanRepo.On("GetByIDTx", mock.Anything, mock.Anything, loan.ID).Return(loan, nil)
	mockInstRepo.On("GetByIDTx", mock.Anything, mock.Anything, inst.ID).Return(inst, nil)
	mockInstRepo.On("MarkPaidTx", mock.Anything, mock.Anything, inst.ID, "pay_final", mock.Anything).Return(true, nil)
	mockLoanRepo.On("ApplyAggregateDeltaTx", mock.Anything, mock.Anything, loan.ID, int64(120), int64(-120), int64(0)).Return(nil)
	mockInstRepo.On("CountUnpaidTx", mock.Anything, mock.Anything, loan.ID).Return(0, nil)
	mockLoanRepo.On("MarkCompletedTx", mock.Anything, mock.Anything, loan.ID).Return(nil)

	service := newPaymentService(mockLoanRepo, mockInstRepo, mockTx, emitter)

	result, err := service.SettleInstallments(context.Background(), []uuid.UUID{inst.ID}, "pay_final")

	require.NoError(t, err)
	assert.True(t, result.LoanCompleted)
	assert.Len(t, emitter.ByType(domain.EventLoanCompleted), 1)
	mockLoanRepo.AssertExpectations(t)
}

func TestSettleInstallments_MissingLoanIsIntegrityError(t *testing.T) {
	mockLoanRepo := &mocks.MockLoanRepository{}
	mockInstRepo := &mocks.MockInstallmentRepository{}
	mockTx := &mocks.MockTxManager{}
	emitter := &mocks.RecordingEmitter{}

	loan := approvedLoan()
	inst := unpaidInstallment(loan, 1)

	mockInstRepo.On("GetByID", mock.Anything, inst.ID).Return(inst, nil)
	mockTx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
	mockLoanRepo.On("GetByIDTx", mock.Anything, mock.Anything, loan.ID).Return(nil, sql.ErrNoRows)

	service := newPaymentService(mockLoanRepo, mockInstRepo, mockTx, emitter)

	result, err := service.SettleInstallments(context.Background(), []uuid.UUID{inst.ID}, "pay_004")

	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrLoanMissingForLedger)
	mockInstRepo.AssertNotCalled(t, "MarkPaidTx",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettleVerified_SignatureMismatchIsHardRejection(t *testing.T) {
	mockLoanRepo := &mocks.MockLoanRepository{}
	mockInstRepo := &mocks.MockInstallmentRepository{}
	mockTx := &mocks.MockTxManager{}
	emitter := &mocks.RecordingEmitter{}

	service := newPaymentService(mockLoanRepo, mockInstRepo, mockTx, emitter)

	result, err := service.SettleVerified(context.Background(), &gateway.PaymentWebhook{
		OrderID:       "order_1",
		PaymentID:     "pay_1",
		Signature:     "forged",
		InstallmentID: uuid.NewString(),
	})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSignature)
	mockInstRepo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	mockTx.AssertNotCalled(t, "WithinTx", mock.Anything, mock.Anything)
}

func TestSettleVerified_RedeliveryIsNoOp(t *testing.T) {
	mockLoanRepo := &mocks.MockLoanRepository{}
	mockInstRepo := &mocks.MockInstallmentRepository{}
	mockTx := &mocks.MockTxManager{}
	emitter := &mocks.RecordingEmitter{}

	loan := approvedLoan()
	inst := unpaidInstallment(loan, 1)
	paid := unpaidInstallment(loan, 1)
	paid.ID = inst.ID
	paid.Status = domain.InstallmentStatusPaid

	mockInstRepo.On("GetByID", mock.Anything, inst.ID).Return(paid, nil)
	mockTx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
	mockLoanRepo.On("GetByIDTx", mock.Anything, mock.Anything, loan.ID).Return(loan, nil)
	mockInstRepo.On("GetByIDTx", mock.Anything, mock.Anything, inst.ID).Return(paid, nil)

	service := newPaymentService(mockLoanRepo, mockInstRepo, mockTx, emitter)

	result, err := service.SettleVerified(context.Background(), &gateway.PaymentWebhook{
		OrderID:       "order_1",
		PaymentID:     "pay_1",
		Signature:     hexHMAC("order_1|pay_1", "key-secret"),
		InstallmentID: inst.ID.String(),
	})

	require.NoError(t, err)
	assert.True(t, result.AlreadyPaid)
	assert.Empty(t, emitter.Events)
	mockLoanRepo.AssertNotCalled(t, "ApplyAggregateDeltaTx",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettleBatch_SettlesOldestSeven(t *testing.T) {
	mockLoanRepo := &mocks.MockLoanRepository{}
	mockInstRepo := &mocks.MockInstallmentRepository{}
	mockTx := &mocks.MockTxManager{}
	emitter := &mocks.RecordingEmitter{}

	loan := approvedLoan()
	targets := make([]*domain.Installment, 0, 7)
	for day := 1; day <= 7; day++ {
		targets = append(targets, unpaidInstallment(loan, day))
	}

	mockTx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
	mockLoanRepo.On("GetByIDTx", mock.Anything, mock.Anything, loan.ID).Return(loan, nil)
	mockInstRepo.On("HasPaymentRefTx", mock.Anything, mock.Anything, loan.ID, "sub_pay_1").Return(false, nil)
	mockInstRepo.On("ListUnpaidByLoanTx", mock.Anything, mock.Anything, loan.ID, 7).Return(targets, nil)
	for _, inst := range targets {
		mockInstRepo.On("MarkPaidTx", mock.Anything, mock.Anything, inst.ID, "sub_pay_1", mock.Anything).Return(true, nil)
	}
	mockLoanRepo.On("ApplyAggregateDeltaTx", mock.Anything, mock.Anything, loan.ID, int64(840), int64(-840), int64(0)).Return(nil)
	mockInstRepo.On("CountUnpaidTx", mock.Anything, mock.Anything, loan.ID).Return(93, nil)

	service := newPaymentService(mockLoanRepo, mockInstRepo, mockTx, emitter)

	result, err := service.SettleBatch(context.Background(), loan.ID, "sub_pay_1")

	require.NoError(t, err)
	assert.Equal(t, 7, result.Settled)
	assert.Equal(t, int64(840), result.Amount)

	// One event per logical settlement, not one per installment.
	events := emitter.ByType(domain.EventInstallmentPaid)
	require.Len(t, events, 1)
	assert.Equal(t, 7, events[0].Count)
	assert.Equal(t, int64(840), events[0].Amount)

	mockLoanRepo.AssertExpectations(t)
	mockInstRepo.AssertExpectations(t)
}

func TestSettleBatch_FewerThanSevenRemaining(t *testing.T) {
	mockLoanRepo := &mocks.MockLoanRepository{}
	mockInstRepo := &mocks.MockInstallmentRepository{}
	mockTx := &mocks.MockTxManager{}
	emitter := &mocks.RecordingEmitter{}

	loan := approvedLoan()
	targets := []*domain.Installment{unpaidInstallment(loan, 99), unpaidInstallment(loan, 100)}

	mockTx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
	mockLoanRepo.On("GetByIDTx", mock.Anything, mock.Anything, loan.ID).Return(loan, nil)
	mockInstRepo.On("HasPaymentRefTx", mock.Anything, mock.Anything, loan.ID, "sub_pay_2").Return(false, nil)
	mockInstRepo.On("ListUnpaidByLoanTx", mock.Anything, mock.Anything, loan.ID, 7).Return(targets, nil)
	for _, inst := range targets {
		mockInstRepo.On("MarkPaidTx", mock.Anything, mock.Anything, inst.ID, "sub_pay_2", mock.Anything).Return(true, nil)
	}
	mockLoanRepo.On("ApplyAggregateDeltaTx", mock.Anything, mock.Anything, loan.ID, int64(240), int64(-240), int64(0)).Return(nil)
	mockInstRepo.On("CountUnpaidTx", mock.Anything, mock.Anything, loan.ID).Return(0, nil)
	mockLoanRepo.On("MarkCompletedTx", mock.Anything, mock.Anything, loan.ID).Return(nil)

	service := newPaymentService(mockLoanRepo, mockInstRepo, mockTx, emitter)

	result, err := service.SettleBatch(context.Background(), loan.ID, "sub_pay_2")

	require.NoError(t, err)
	assert.Equal(t, 2, result.Settled)
	assert.True(t, result.LoanCompleted)
}

func TestSettleBatch_NothingUnpaid(t *testing.T) {
	mockLoanRepo := &mocks.MockLoanRepository{}
	mockInstRepo := &mocks.MockInstallmentRepository{}
	mockTx := &mocks.MockTxManager{}
	emitter := &mocks.RecordingEmitter{}

	loan := approvedLoan()

	mockTx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
	mockLoanRepo.On("GetByIDTx", mock.Anything, mock.Anything, loan.ID).Return(loan, nil)
	mockInstRepo.On("HasPaymentRefTx", mock.Anything, mock.Anything, loan.ID, "sub_pay_3").Return(false, nil)
	mockInstRepo.On("ListUnpaidByLoanTx", mock.Anything, mock.Anything, loan.ID, 7).Return([]*domain.Installment{}, nil)

	service := newPaymentService(mockLoanRepo, mockInstRepo, mockTx, emitter)

	result, err := service.SettleBatch(context.Background(), loan.ID, "sub_pay_3")

	require.NoError(t, err)
	assert.Equal(t, 0, result.Settled)
	assert.Empty(t, emitter.Events)
}

func TestSettleBatch_RedeliveredChargeIsNoOp(t *testing.T) {
	mockLoanRepo := &mocks.MockLoanRepository{}
	mockInstRepo := &mocks.MockInstallmentRepository{}
	mockTx := &mocks.MockTxManager{}
	emitter := &mocks.RecordingEmitter{}

	loan := approvedLoan()
	firstBatch := make([]*domain.Installment, 0, 7)
	for day := 1; day <= 7; day++ {
		firstBatch = append(firstBatch, unpaidInstallment(loan, day))
	}

	mockTx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
	mockLoanRepo.On("GetByIDTx", mock.Anything, mock.Anything, loan.ID).Return(loan, nil)
	mockInstRepo.On("HasPaymentRefTx", mock.Anything, mock.Anything, loan.ID, "sub_pay_dup").
		Return(false, nil).Once()
	mockInstRepo.On("ListUnpaidByLoanTx", mock.Anything, mock.Anything, loan.ID, 7).Return(firstBatch, nil)
	for _, inst := range firstBatch {
		mockInstRepo.On("MarkPaidTx", mock.Anything, mock.Anything, inst.ID, "sub_pay_dup", mock.Anything).Return(true, nil)
	}
	mockLoanRepo.On("ApplyAggregateDeltaTx", mock.Anything, mock.Anything, loan.ID, int64(840), int64(-840), int64(0)).Return(nil)
	mockInstRepo.On("CountUnpaidTx", mock.Anything, mock.Anything, loan.ID).Return(93, nil)
	// The second delivery finds its reference already on the ledger.
	mockInstRepo.On("HasPaymentRefTx", mock.Anything, mock.Anything, loan.ID, "sub_pay_dup").
		Return(true, nil)

	service := newPaymentService(mockLoanRepo, mockInstRepo, mockTx, emitter)

	first, err := service.SettleBatch(context.Background(), loan.ID, "sub_pay_dup")
	require.NoError(t, err)
	assert.Equal(t, 7, first.Settled)

	second, err := service.SettleBatch(context.Background(), loan.ID, "sub_pay_dup")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Settled)
	assert.True(t, second.AlreadyPaid)

	// The loan was credited exactly once.
	mockLoanRepo.AssertNumberOfCalls(t, "ApplyAggregateDeltaTx", 1)
	require.Len(t, emitter.ByType(domain.EventInstallmentPaid), 1)
}

func TestSettleSimulated_UsesSettlementPath(t *testing.T) {
	mockLoanRepo := &mocks.MockLoanRepository{}
	mockInstRepo := &mocks.MockInstallmentRepository{}
	mockTx := &mocks.MockTxManager{}
	emitter := &mocks.RecordingEmitter{}

	loan := approvedLoan()
	inst := unpaidInstallment(loan, 1)

	var capturedRef string
	mockInstRepo.On("GetByID", mock.Anything, inst.ID).Return(inst, nil)
	mockTx.On("WithinTx", mock.Anything, mock.Anything).Return(nil)
	mockLoanRepo.On("GetByIDTx", mock.Anything, mock.Anything, loan.ID).Return(loan, nil)
	mockInstRepo.On("GetByIDTx", mock.Anything, mock.Anything, inst.ID).Return(inst, nil)
	mockInstRepo.On("MarkPaidTx", mock.Anything, mock.Anything, inst.ID, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			capturedRef = args.String(3)
		}).Return(true, nil)
	mockLoanRepo.On("ApplyAggregateDeltaTx", mock.Anything, mock.Anything, loan.ID, int64(120), int64(-120), int64(0)).Return(nil)
	mockInstRepo.On("CountUnpaidTx", mock.Anything, mock.Anything, loan.ID).Return(17, nil)

	service := newPaymentService(mockLoanRepo, mockInstRepo, mockTx, emitter).
		WithClock(fixedClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)))

	result, err := service.SettleSimulated(context.Background(), inst.ID)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Settled)
	assert.Contains(t, capturedRef, "sim_")
}
