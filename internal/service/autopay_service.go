package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daylend/emi-engine/internal/config"
	"github.com/daylend/emi-engine/internal/domain"
	"github.com/daylend/emi-engine/internal/notify"
	"github.com/daylend/emi-engine/internal/repository"
	"github.com/daylend/emi-engine/pkg/apperrors"
)

// AutopayService drives the autopay sub-state machine:
// none -> pending -> active -> {paused | cancelled}. It never touches the
// ledger; charges arrive later through the subscription webhook.
type AutopayService struct {
	LoanRepo repository.LoanRepository
	Emitter  notify.Emitter

	cfg *config.Config
	log *zap.Logger
}

func NewAutopayService(
	loanRepo repository.LoanRepository,
	emitter notify.Emitter,
	cfg *config.Config,
	log *zap.Logger,
) *AutopayService {
	return &AutopayService{
		LoanRepo: loanRepo,
		Emitter:  emitter,
		cfg:      cfg,
		log:      log,
	}
}

// RequestAutopay registers intent; the gateway mandate is created by the
// collaborator and confirmed through the subscription webhook.
func (s *AutopayService) RequestAutopay(ctx context.Context, loanID uuid.UUID) error {
	loan, err := s.LoanRepo.GetByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.WrapLoanNotFound(loanID.String())
		}
		return apperrors.WrapDatabaseError(err)
	}
	if loan.Status != domain.LoanStatusApproved {
		return apperrors.NewBusinessError(apperrors.ErrCodeInvalidAutopayState,
			"autopay requires an approved loan", apperrors.ErrLoanNotApproved)
	}

	return s.transition(ctx, loanID,
		[]string{domain.AutopayStatusNone}, domain.AutopayStatusPending)
}

// ActivateAutopay confirms the gateway-authenticated mandate and emits
// the activation event.
func (s *AutopayService) ActivateAutopay(ctx context.Context, loanID uuid.UUID) error {
	if err := s.transition(ctx, loanID,
		[]string{domain.AutopayStatusPending}, domain.AutopayStatusActive); err != nil {
		return err
	}

	var chargeAmount int64
	loan, err := s.LoanRepo.GetByID(ctx, loanID)
	if err != nil {
		// The transition already committed; the event still goes out,
		// just without the charge preview.
		s.log.Warn("charge preview unavailable for activation event",
			zap.String("loan_id", loanID.String()),
			zap.Error(err))
	} else {
		chargeAmount = loan.DailyInstallment * int64(s.cfg.Business.BatchSettleDays)
	}

	s.Emitter.Emit(ctx, notify.Event{
		Type:   domain.EventAutopayActivated,
		LoanID: loanID,
		Amount: chargeAmount,
		Scope:  domain.ScopeBorrower,
	})

	return nil
}

// PauseAutopay suspends an active mandate.
func (s *AutopayService) PauseAutopay(ctx context.Context, loanID uuid.UUID) error {
	return s.transition(ctx, loanID,
		[]string{domain.AutopayStatusActive}, domain.AutopayStatusPaused)
}

// CancelAutopay terminates the mandate from any non-terminal state.
func (s *AutopayService) CancelAutopay(ctx context.Context, loanID uuid.UUID) error {
	return s.transition(ctx, loanID,
		[]string{domain.AutopayStatusPending, domain.AutopayStatusActive, domain.AutopayStatusPaused},
		domain.AutopayStatusCancelled)
}

func (s *AutopayService) transition(ctx context.Context, loanID uuid.UUID, from []string, to string) error {
	ok, err := s.LoanRepo.UpdateAutopayStatus(ctx, loanID, from, to)
	if err != nil {
		return apperrors.WrapDatabaseError(err)
	}
	if !ok {
		return apperrors.WrapInvalidAutopayState(loanID.String(), "current", to)
	}

	s.log.Info("autopay transition",
		zap.String("loan_id", loanID.String()),
		zap.String("to", to))
	return nil
}
