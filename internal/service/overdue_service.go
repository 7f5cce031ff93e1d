package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/daylend/emi-engine/internal/config"
	"github.com/daylend/emi-engine/internal/domain"
	"github.com/daylend/emi-engine/internal/repository"
	"github.com/daylend/emi-engine/pkg/apperrors"
	"github.com/daylend/emi-engine/pkg/money"
)

// OverdueService is the daily sweep: unpaid installments past their due
// date are reclassified to overdue and their penalty is raised to one
// day's interest per day late. Applying only strictly-greater penalties
// makes the sweep idempotent within a day.
type OverdueService struct {
	LoanRepo        repository.LoanRepository
	InstallmentRepo repository.InstallmentRepository
	Tx              repository.TxManager

	cfg *config.Config
	log *zap.Logger
	now func() time.Time
}

func NewOverdueService(
	loanRepo repository.LoanRepository,
	installmentRepo repository.InstallmentRepository,
	tx repository.TxManager,
	cfg *config.Config,
	log *zap.Logger,
) *OverdueService {
	return &OverdueService{
		LoanRepo:        loanRepo,
		InstallmentRepo: installmentRepo,
		Tx:              tx,
		cfg:             cfg,
		log:             log,
		now:             time.Now,
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *OverdueService) WithClock(now func() time.Time) *OverdueService {
	s.now = now
	return s
}

// RunSweep processes every unpaid installment due before the start of the
// current day and returns how many had their penalty increased. Running
// it again with no elapsed time is a complete no-op.
func (s *OverdueService) RunSweep(ctx context.Context) (int, error) {
	cutoff := money.Midnight(s.now(), s.cfg.GetLocation())

	pastDue, err := s.InstallmentRepo.ListPastDue(ctx, cutoff)
	if err != nil {
		return 0, apperrors.WrapDatabaseError(err)
	}

	penalized := 0
	for _, candidate := range pastDue {
		applied, err := s.penalizeOne(ctx, candidate, cutoff)
		if err != nil {
			// One broken ledger row must not stall the rest of the sweep.
			s.log.Error("overdue penalty not applied",
				zap.String("installment_id", candidate.ID.String()),
				zap.String("loan_id", candidate.LoanID.String()),
				zap.Error(err))
			continue
		}
		if applied {
			penalized++
		}
	}

	s.log.Info("overdue sweep finished",
		zap.Time("cutoff", cutoff),
		zap.Int("candidates", len(pastDue)),
		zap.Int("penalized", penalized))

	return penalized, nil
}

// penalizeOne applies one installment's penalty and the loan's aggregate
// delta in a single transaction. Lock order is loan first, then
// installment, matching the settlement path.
func (s *OverdueService) penalizeOne(ctx context.Context, candidate *domain.Installment, cutoff time.Time) (bool, error) {
	applied := false

	err := s.Tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.LoanRepo.GetByIDTx(ctx, tx, candidate.LoanID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.WrapLedgerIntegrity(
					"loan missing for overdue installment", apperrors.ErrLoanMissingForLedger)
			}
			return err
		}

		inst, err := s.InstallmentRepo.GetByIDTx(ctx, tx, candidate.ID)
		if err != nil {
			return err
		}
		if inst.IsPaid() {
			// Settled between the listing and the lock; penalty is frozen.
			return nil
		}

		// The listing already filtered on the due date; the delta is
		// re-validated to avoid off-by-one at calendar edges.
		daysOverdue := money.DaysOverdue(inst.DueDate, cutoff)
		if daysOverdue < 1 {
			return nil
		}

		newPenalty := inst.InterestAmount * int64(daysOverdue)
		if newPenalty <= inst.PenaltyAmount {
			return nil
		}

		ok, err := s.InstallmentRepo.ApplyPenaltyTx(ctx, tx, inst.ID, newPenalty)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		// The loan mirrors the delta, never the full value.
		delta := newPenalty - inst.PenaltyAmount
		if err := s.LoanRepo.ApplyAggregateDeltaTx(ctx, tx, inst.LoanID, 0, 0, delta); err != nil {
			return err
		}

		applied = true
		return nil
	})

	return applied, err
}
