package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/daylend/emi-engine/internal/domain"
	"github.com/daylend/emi-engine/internal/repository"
	"github.com/daylend/emi-engine/pkg/apperrors"
)

// ReconcileService is the drift-repair tool: it recomputes a loan's
// aggregates from the summed installment ledger. Normal operation never
// needs it; partial failures do.
type ReconcileService struct {
	LoanRepo        repository.LoanRepository
	InstallmentRepo repository.InstallmentRepository
	Tx              repository.TxManager

	log *zap.Logger
}

func NewReconcileService(
	loanRepo repository.LoanRepository,
	installmentRepo repository.InstallmentRepository,
	tx repository.TxManager,
	log *zap.Logger,
) *ReconcileService {
	return &ReconcileService{
		LoanRepo:        loanRepo,
		InstallmentRepo: installmentRepo,
		Tx:              tx,
		log:             log,
	}
}

// ReconcileLoan recomputes and rewrites the loan's aggregates under lock.
// Loans without a schedule yet are left untouched.
func (s *ReconcileService) ReconcileLoan(ctx context.Context, loanID uuid.UUID) (*domain.ReconcileResponse, error) {
	var resp *domain.ReconcileResponse

	err := s.Tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		loan, err := s.LoanRepo.GetByIDTx(ctx, tx, loanID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.WrapLoanNotFound(loanID.String())
			}
			return err
		}

		if loan.Status != domain.LoanStatusApproved && loan.Status != domain.LoanStatusCompleted {
			resp = &domain.ReconcileResponse{LoanID: loanID, Drifted: false}
			return nil
		}

		drift, expectedStatus, err := s.computeDriftTx(ctx, tx, loan)
		if err != nil {
			return err
		}
		if drift == nil {
			resp = &domain.ReconcileResponse{LoanID: loanID, Drifted: false}
			return nil
		}

		s.log.Error("aggregate drift detected, repairing",
			zap.String("loan_id", loanID.String()),
			zap.Int64("total_paid_before", drift.TotalPaidBefore),
			zap.Int64("total_paid_after", drift.TotalPaidAfter))

		if err := s.LoanRepo.OverwriteAggregatesTx(ctx, tx, loanID,
			drift.TotalPaidAfter, drift.RemainingAfter, drift.PenaltyAfter, expectedStatus); err != nil {
			return err
		}

		resp = &domain.ReconcileResponse{LoanID: loanID, Drifted: true, Report: drift}
		return nil
	})
	if err != nil {
		var berr *apperrors.BusinessError
		if errors.As(err, &berr) {
			return nil, berr
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	return resp, nil
}

// AuditLoans is the report-only pass over all approved loans, used by the
// weekly scheduler job. Nothing is rewritten; drift is surfaced for
// operators.
func (s *ReconcileService) AuditLoans(ctx context.Context) ([]*domain.Drift, error) {
	loans, err := s.LoanRepo.ListByStatus(ctx, domain.LoanStatusApproved)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	var drifts []*domain.Drift
	for _, loan := range loans {
		err := s.Tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
			locked, err := s.LoanRepo.GetByIDTx(ctx, tx, loan.ID)
			if err != nil {
				return err
			}
			drift, _, err := s.computeDriftTx(ctx, tx, locked)
			if err != nil {
				return err
			}
			if drift != nil {
				drifts = append(drifts, drift)
			}
			return nil
		})
		if err != nil {
			s.log.Error("audit failed for loan",
				zap.String("loan_id", loan.ID.String()), zap.Error(err))
		}
	}

	if len(drifts) > 0 {
		s.log.Error("aggregate drift audit found divergent loans",
			zap.Int("drifted", len(drifts)))
	}

	return drifts, nil
}

// computeDriftTx compares the loan's cached aggregates against the summed
// ledger. Returns nil drift when everything matches.
func (s *ReconcileService) computeDriftTx(ctx context.Context, tx *sqlx.Tx, loan *domain.Loan) (*domain.Drift, string, error) {
	totals, err := s.InstallmentRepo.SumTotalsTx(ctx, tx, loan.ID)
	if err != nil {
		return nil, "", err
	}
	if totals.Count == 0 {
		// Approved but never scheduled would itself be corruption; leave
		// it for the operator rather than inventing aggregates.
		return nil, "", nil
	}

	expectedPaid := totals.PaidTotal
	expectedRemaining := loan.TotalPayable() - totals.PaidPrincipalPlus
	expectedPenalty := totals.PenaltySum

	expectedStatus := domain.LoanStatusApproved
	if totals.UnpaidCount == 0 {
		expectedStatus = domain.LoanStatusCompleted
	}

	if loan.TotalPaid == expectedPaid &&
		loan.RemainingBalance == expectedRemaining &&
		loan.PenaltyAmount == expectedPenalty &&
		loan.Status == expectedStatus {
		return nil, expectedStatus, nil
	}

	return &domain.Drift{
		LoanID:          loan.ID,
		TotalPaidBefore: loan.TotalPaid,
		TotalPaidAfter:  expectedPaid,
		RemainingBefore: loan.RemainingBalance,
		RemainingAfter:  expectedRemaining,
		PenaltyBefore:   loan.PenaltyAmount,
		PenaltyAfter:    expectedPenalty,
		CompletedAfter:  expectedStatus == domain.LoanStatusCompleted,
	}, expectedStatus, nil
}
