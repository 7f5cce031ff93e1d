package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/daylend/emi-engine/internal/config"
	"github.com/daylend/emi-engine/internal/domain"
	"github.com/daylend/emi-engine/internal/gateway"
	"github.com/daylend/emi-engine/internal/notify"
	"github.com/daylend/emi-engine/internal/repository"
	"github.com/daylend/emi-engine/pkg/apperrors"
)

// PaymentService is the only path that moves installments to paid and
// adjusts the owning loan's aggregates. Four callers feed it: the
// gateway-verified webhook, the simulation bypass, the admin override and
// the batched subscription charge.
type PaymentService struct {
	LoanRepo        repository.LoanRepository
	InstallmentRepo repository.InstallmentRepository
	Tx              repository.TxManager
	Emitter         notify.Emitter

	redis *redis.Client
	cfg   *config.Config
	log   *zap.Logger
	now   func() time.Time
}

func NewPaymentService(
	loanRepo repository.LoanRepository,
	installmentRepo repository.InstallmentRepository,
	tx repository.TxManager,
	emitter notify.Emitter,
	redisClient *redis.Client,
	cfg *config.Config,
	log *zap.Logger,
) *PaymentService {
	return &PaymentService{
		LoanRepo:        loanRepo,
		InstallmentRepo: installmentRepo,
		Tx:              tx,
		Emitter:         emitter,
		redis:           redisClient,
		cfg:             cfg,
		log:             log,
		now:             time.Now,
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *PaymentService) WithClock(now func() time.Time) *PaymentService {
	s.now = now
	return s
}

// WebhookSecret exposes the shared secret the subscription webhook is
// signed with.
func (s *PaymentService) WebhookSecret() string {
	return s.cfg.Gateway.WebhookSecret
}

// SettleInstallments is the admin/manual path. An already-paid target is
// a hard conflict: nothing is mutated.
func (s *PaymentService) SettleInstallments(ctx context.Context, installmentIDs []uuid.UUID, paymentRef string) (*domain.SettlementResult, error) {
	if len(installmentIDs) == 0 {
		return nil, apperrors.WrapInvalidScheduleParams("no installments given")
	}

	first, err := s.InstallmentRepo.GetByID(ctx, installmentIDs[0])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapInstallmentNotFound(installmentIDs[0].String())
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	return s.settle(ctx, first.LoanID, installmentIDs, paymentRef)
}

// SettleSimulated settles a single installment through the same path the
// gateway would, with a synthetic reference. Testing bypass.
func (s *PaymentService) SettleSimulated(ctx context.Context, installmentID uuid.UUID) (*domain.SettlementResult, error) {
	ref := fmt.Sprintf("sim_%s", uuid.NewString())
	return s.SettleInstallments(ctx, []uuid.UUID{installmentID}, ref)
}

// SettleVerified is the gateway webhook path. The signature is checked
// before anything is touched; a mismatch is a hard rejection. Re-delivery
// of an already-settled payment is a successful no-op.
func (s *PaymentService) SettleVerified(ctx context.Context, payload *gateway.PaymentWebhook) (*domain.SettlementResult, error) {
	if !gateway.VerifyPaymentSignature(payload.OrderID, payload.PaymentID, payload.Signature, s.cfg.Gateway.KeySecret) {
		return nil, apperrors.WrapInvalidSignature()
	}

	installmentID, err := uuid.Parse(payload.InstallmentID)
	if err != nil {
		return nil, apperrors.WrapInstallmentNotFound(payload.InstallmentID)
	}

	// Fast-path dedupe on the external reference. Advisory only: the
	// status check inside the transaction remains the real guard.
	if s.seenReference(ctx, payload.PaymentID) {
		inst, err := s.InstallmentRepo.GetByID(ctx, installmentID)
		if err == nil && inst.IsPaid() {
			return &domain.SettlementResult{LoanID: inst.LoanID, AlreadyPaid: true}, nil
		}
	}

	result, err := s.SettleInstallments(ctx, []uuid.UUID{installmentID}, payload.PaymentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrInstallmentAlreadyPaid) {
			inst, getErr := s.InstallmentRepo.GetByID(ctx, installmentID)
			if getErr != nil {
				return nil, apperrors.WrapDatabaseError(getErr)
			}
			return &domain.SettlementResult{LoanID: inst.LoanID, AlreadyPaid: true}, nil
		}
		return nil, err
	}

	return result, nil
}

// SettleBatch settles the oldest unpaid installments of a loan, at most
// the configured batch size, in schedule order. The subscription webhook
// calls this once per successful weekly charge; the charge is delivered
// at-least-once, so re-delivery of a reference already on the ledger is
// a no-op.
func (s *PaymentService) SettleBatch(ctx context.Context, loanID uuid.UUID, paymentRef string) (*domain.SettlementResult, error) {
	var result *domain.SettlementResult

	err := s.Tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		loan, err := s.LoanRepo.GetByIDTx(ctx, tx, loanID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.WrapLoanNotFound(loanID.String())
			}
			return err
		}

		// A retried charge must not credit the next batch of unpaid
		// installments.
		seen, err := s.InstallmentRepo.HasPaymentRefTx(ctx, tx, loan.ID, paymentRef)
		if err != nil {
			return err
		}
		if seen {
			result = &domain.SettlementResult{LoanID: loan.ID, AlreadyPaid: true}
			return nil
		}

		targets, err := s.InstallmentRepo.ListUnpaidByLoanTx(ctx, tx, loan.ID, s.cfg.Business.BatchSettleDays)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			result = &domain.SettlementResult{LoanID: loan.ID, Settled: 0}
			return nil
		}

		settled, err := s.settleLockedTx(ctx, tx, loan, targets, paymentRef)
		if err != nil {
			return err
		}
		result = settled
		return nil
	})
	if err != nil {
		return nil, s.asBusinessError(err)
	}

	if result.Settled > 0 {
		s.emitSettlement(ctx, result, nil)
	}
	return result, nil
}

// settle is the shared transactional core for explicitly targeted
// installments. Lock order is loan first, then installments, on every
// mutating path.
func (s *PaymentService) settle(ctx context.Context, loanID uuid.UUID, installmentIDs []uuid.UUID, paymentRef string) (*domain.SettlementResult, error) {
	var result *domain.SettlementResult
	var firstInstallment *uuid.UUID

	err := s.Tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		loan, err := s.LoanRepo.GetByIDTx(ctx, tx, loanID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// An installment pointing at a missing loan is corruption;
				// the mutation must not proceed without its aggregate
				// counterpart.
				return apperrors.WrapLedgerIntegrity(
					fmt.Sprintf("loan %s missing for settlement", loanID), apperrors.ErrLoanMissingForLedger)
			}
			return err
		}

		targets := make([]*domain.Installment, 0, len(installmentIDs))
		for _, id := range installmentIDs {
			inst, err := s.InstallmentRepo.GetByIDTx(ctx, tx, id)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return apperrors.WrapInstallmentNotFound(id.String())
				}
				return err
			}
			if inst.LoanID != loan.ID {
				return apperrors.NewBusinessError(apperrors.ErrCodeLedgerIntegrity,
					"installments belong to different loans", apperrors.ErrMixedLoans)
			}
			if inst.IsPaid() {
				return apperrors.WrapInstallmentAlreadyPaid(id.String())
			}
			targets = append(targets, inst)
		}
		firstInstallment = &targets[0].ID

		settled, err := s.settleLockedTx(ctx, tx, loan, targets, paymentRef)
		if err != nil {
			return err
		}
		result = settled
		return nil
	})
	if err != nil {
		return nil, s.asBusinessError(err)
	}

	s.emitSettlement(ctx, result, firstInstallment)
	return result, nil
}

// settleLockedTx marks the already-locked targets paid and applies the
// loan aggregate delta in the same transaction.
func (s *PaymentService) settleLockedTx(ctx context.Context, tx *sqlx.Tx, loan *domain.Loan, targets []*domain.Installment, paymentRef string) (*domain.SettlementResult, error) {
	paidAt := s.now()

	var paidDelta, balanceDelta int64
	for _, inst := range targets {
		ok, err := s.InstallmentRepo.MarkPaidTx(ctx, tx, inst.ID, paymentRef, paidAt)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperrors.WrapInstallmentAlreadyPaid(inst.ID.String())
		}
		paidDelta += inst.TotalAmount
		// Penalty never reduces the remaining balance.
		balanceDelta -= inst.PrincipalAmount + inst.InterestAmount
	}

	if err := s.LoanRepo.ApplyAggregateDeltaTx(ctx, tx, loan.ID, paidDelta, balanceDelta, 0); err != nil {
		return nil, err
	}

	unpaid, err := s.InstallmentRepo.CountUnpaidTx(ctx, tx, loan.ID)
	if err != nil {
		return nil, err
	}
	completed := unpaid == 0
	if completed {
		if err := s.LoanRepo.MarkCompletedTx(ctx, tx, loan.ID); err != nil {
			return nil, err
		}
	}

	return &domain.SettlementResult{
		LoanID:        loan.ID,
		Settled:       len(targets),
		Amount:        paidDelta,
		LoanCompleted: completed,
	}, nil
}

// emitSettlement produces one event per logical settlement, not per
// installment, plus a completion event when the last installment cleared.
func (s *PaymentService) emitSettlement(ctx context.Context, result *domain.SettlementResult, installmentID *uuid.UUID) {
	s.Emitter.Emit(ctx, notify.Event{
		Type:          domain.EventInstallmentPaid,
		LoanID:        result.LoanID,
		InstallmentID: installmentID,
		Amount:        result.Amount,
		Count:         result.Settled,
		Scope:         domain.ScopeBorrower,
	})

	if result.LoanCompleted {
		s.Emitter.Emit(ctx, notify.Event{
			Type:   domain.EventLoanCompleted,
			LoanID: result.LoanID,
			Scope:  domain.ScopeAdmin,
		})
	}
}

// seenReference records the external reference in Redis; returns true
// when a previous delivery already claimed it. Redis being down just
// disables the fast path.
func (s *PaymentService) seenReference(ctx context.Context, ref string) bool {
	if s.redis == nil {
		return false
	}
	ok, err := s.redis.SetNX(ctx, "settlement:ref:"+ref, 1, 48*time.Hour).Result()
	if err != nil {
		s.log.Warn("settlement dedupe cache unavailable", zap.Error(err))
		return false
	}
	return !ok
}

func (s *PaymentService) asBusinessError(err error) error {
	var berr *apperrors.BusinessError
	if errors.As(err, &berr) {
		return berr
	}
	return apperrors.WrapDatabaseError(err)
}
