package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/daylend/emi-engine/internal/config"
	"github.com/daylend/emi-engine/internal/domain"
	"github.com/daylend/emi-engine/internal/notify"
	"github.com/daylend/emi-engine/internal/repository"
	"github.com/daylend/emi-engine/pkg/apperrors"
	"github.com/daylend/emi-engine/pkg/money"
)

// ScheduleService owns the loan lifecycle up to approval and turns an
// approved loan into its full installment schedule, atomically.
type ScheduleService struct {
	LoanRepo        repository.LoanRepository
	InstallmentRepo repository.InstallmentRepository
	Tx              repository.TxManager
	Emitter         notify.Emitter

	cfg *config.Config
	log *zap.Logger
	now func() time.Time
}

func NewScheduleService(
	loanRepo repository.LoanRepository,
	installmentRepo repository.InstallmentRepository,
	tx repository.TxManager,
	emitter notify.Emitter,
	cfg *config.Config,
	log *zap.Logger,
) *ScheduleService {
	return &ScheduleService{
		LoanRepo:        loanRepo,
		InstallmentRepo: installmentRepo,
		Tx:              tx,
		Emitter:         emitter,
		cfg:             cfg,
		log:             log,
		now:             time.Now,
	}
}

// WithClock overrides the service clock. Tests use this to pin "today".
func (s *ScheduleService) WithClock(now func() time.Time) *ScheduleService {
	s.now = now
	return s
}

// CreateLoan registers a pending application. Derived terms and the
// schedule come later, at approval.
func (s *ScheduleService) CreateLoan(ctx context.Context, request *domain.CreateLoanRequest) (*domain.Loan, error) {
	borrowerID, err := uuid.Parse(request.BorrowerID)
	if err != nil {
		return nil, apperrors.WrapInvalidScheduleParams("borrower_id is not a valid uuid")
	}
	if request.Amount <= 0 {
		return nil, apperrors.WrapInvalidScheduleParams("amount must be positive")
	}
	if request.TotalDays <= 0 {
		return nil, apperrors.WrapInvalidScheduleParams("total_days must be positive")
	}

	rate := request.InterestRate
	if rate.IsZero() {
		rate = s.cfg.GetDefaultInterestRate()
	}

	nowTime := s.now()
	loan := &domain.Loan{
		ID:            uuid.New(),
		BorrowerID:    borrowerID,
		Amount:        request.Amount,
		TotalDays:     request.TotalDays,
		InterestRate:  rate,
		Status:        domain.LoanStatusPending,
		AutopayStatus: domain.AutopayStatusNone,
		CreatedAt:     nowTime,
		UpdatedAt:     nowTime,
	}

	if err := s.LoanRepo.Create(ctx, loan); err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	return loan, nil
}

// ApproveLoan fixes the derived terms, builds the full schedule and
// writes everything in one transaction: either all installments exist and
// the loan carries its dates, or nothing changed.
func (s *ScheduleService) ApproveLoan(ctx context.Context, loanID uuid.UUID) (*domain.ApproveLoanResponse, error) {
	loan, err := s.LoanRepo.GetByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapLoanNotFound(loanID.String())
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	if loan.Status != domain.LoanStatusPending {
		return nil, apperrors.WrapLoanNotPending(loanID.String(), loan.Status)
	}
	if loan.TotalDays <= 0 {
		return nil, apperrors.WrapInvalidScheduleParams("total_days must be positive")
	}

	totalInterest := loan.TotalInterest()
	loan.DailyPrincipal = money.CeilDiv(loan.Amount, int64(loan.TotalDays))
	loan.DailyInterest = money.CeilDiv(totalInterest, int64(loan.TotalDays))
	loan.DailyInstallment = loan.DailyPrincipal + loan.DailyInterest
	loan.RemainingBalance = loan.Amount + totalInterest
	loan.Status = domain.LoanStatusApproved

	loc := s.cfg.GetLocation()
	nowTime := s.now()
	// First installment is due the day after approval.
	startDate := money.Midnight(nowTime.AddDate(0, 0, 1), loc)
	endDate := startDate.AddDate(0, 0, loan.TotalDays-1)
	loan.ApprovedAt = &nowTime
	loan.StartDate = &startDate
	loan.EndDate = &endDate

	schedule := make([]*domain.Installment, 0, loan.TotalDays)
	for day := 1; day <= loan.TotalDays; day++ {
		schedule = append(schedule, &domain.Installment{
			ID:              uuid.New(),
			LoanID:          loan.ID,
			BorrowerID:      loan.BorrowerID,
			DayNumber:       day,
			PrincipalAmount: loan.DailyPrincipal,
			InterestAmount:  loan.DailyInterest,
			PenaltyAmount:   0,
			TotalAmount:     loan.DailyInstallment,
			DueDate:         startDate.AddDate(0, 0, day-1),
			Status:          domain.InstallmentStatusPending,
			CreatedAt:       nowTime,
		})
	}

	err = s.Tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.LoanRepo.GetByIDTx(ctx, tx, loan.ID)
		if err != nil {
			return err
		}
		// Re-check under lock so two racing approvals cannot both write a
		// schedule.
		if locked.Status != domain.LoanStatusPending {
			return apperrors.WrapLoanNotPending(loanID.String(), locked.Status)
		}

		if err := s.LoanRepo.ApproveTx(ctx, tx, loan); err != nil {
			return err
		}
		return s.InstallmentRepo.CreateBatchTx(ctx, tx, schedule)
	})
	if err != nil {
		var berr *apperrors.BusinessError
		if errors.As(err, &berr) {
			return nil, berr
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	s.log.Info("loan approved",
		zap.String("loan_id", loan.ID.String()),
		zap.Int("total_days", loan.TotalDays),
		zap.Int64("daily_installment", loan.DailyInstallment))

	s.Emitter.Emit(ctx, notify.Event{
		Type:   domain.EventLoanApproved,
		LoanID: loan.ID,
		Amount: loan.RemainingBalance,
		Scope:  domain.ScopeBorrower,
	})

	return &domain.ApproveLoanResponse{Loan: loan, Schedule: schedule}, nil
}

// RejectLoan terminates a pending application.
func (s *ScheduleService) RejectLoan(ctx context.Context, loanID uuid.UUID) error {
	ok, err := s.LoanRepo.UpdateStatus(ctx, loanID, domain.LoanStatusPending, domain.LoanStatusRejected)
	if err != nil {
		return apperrors.WrapDatabaseError(err)
	}
	if !ok {
		return apperrors.WrapLoanNotPending(loanID.String(), "unknown")
	}

	s.Emitter.Emit(ctx, notify.Event{
		Type:   domain.EventLoanRejected,
		LoanID: loanID,
		Scope:  domain.ScopeBorrower,
	})

	return nil
}

// GetLoan returns a loan by id.
func (s *ScheduleService) GetLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.LoanRepo.GetByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapLoanNotFound(loanID.String())
		}
		return nil, apperrors.WrapDatabaseError(err)
	}
	return loan, nil
}

// ListBorrowerLoans returns all of a borrower's loans, newest first.
func (s *ScheduleService) ListBorrowerLoans(ctx context.Context, borrowerID uuid.UUID) ([]*domain.Loan, error) {
	loans, err := s.LoanRepo.ListByBorrower(ctx, borrowerID)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}
	return loans, nil
}

// DeleteLoan removes an application that never reached approval; its
// installments cascade with the loan row. A loan with a live ledger
// cannot be deleted.
func (s *ScheduleService) DeleteLoan(ctx context.Context, loanID uuid.UUID) error {
	loan, err := s.LoanRepo.GetByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.WrapLoanNotFound(loanID.String())
		}
		return apperrors.WrapDatabaseError(err)
	}
	if loan.Status == domain.LoanStatusApproved || loan.Status == domain.LoanStatusCompleted {
		return apperrors.WrapLoanNotPending(loanID.String(), loan.Status)
	}

	if err := s.LoanRepo.Delete(ctx, loanID); err != nil {
		return apperrors.WrapDatabaseError(err)
	}

	s.log.Info("loan deleted", zap.String("loan_id", loanID.String()))
	return nil
}

// GetSchedule returns the loan's installments ordered by day number.
func (s *ScheduleService) GetSchedule(ctx context.Context, loanID uuid.UUID) (*domain.ScheduleResponse, error) {
	installments, err := s.InstallmentRepo.ListByLoan(ctx, loanID)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}
	return &domain.ScheduleResponse{LoanID: loanID, Schedule: installments}, nil
}
