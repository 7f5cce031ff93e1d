package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/daylend/emi-engine/internal/domain"
)

type loanRepository struct {
	db *sqlx.DB
}

func NewLoanRepository(db *sqlx.DB) LoanRepository {
	return &loanRepository{db: db}
}

const loanColumns = `
	id, borrower_id, amount, total_days, interest_rate,
	daily_principal, daily_interest, daily_installment,
	total_paid, remaining_balance, penalty_amount,
	status, autopay_status, approved_at, start_date, end_date,
	created_at, updated_at
`

func (r *loanRepository) Create(ctx context.Context, loan *domain.Loan) error {
	query := `
		INSERT INTO loans (id, borrower_id, amount, total_days, interest_rate,
			daily_principal, daily_interest, daily_installment,
			total_paid, remaining_balance, penalty_amount,
			status, autopay_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.ExecContext(ctx, query,
		loan.ID,
		loan.BorrowerID,
		loan.Amount,
		loan.TotalDays,
		loan.InterestRate,
		loan.DailyPrincipal,
		loan.DailyInterest,
		loan.DailyInstallment,
		loan.TotalPaid,
		loan.RemainingBalance,
		loan.PenaltyAmount,
		loan.Status,
		loan.AutopayStatus,
		loan.CreatedAt,
		loan.UpdatedAt,
	)

	return err
}

func (r *loanRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`

	var loan domain.Loan
	if err := r.db.GetContext(ctx, &loan, query, id); err != nil {
		return nil, err
	}

	return &loan, nil
}

func (r *loanRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1 FOR UPDATE`

	var loan domain.Loan
	if err := tx.GetContext(ctx, &loan, query, id); err != nil {
		return nil, err
	}

	return &loan, nil
}

func (r *loanRepository) ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE borrower_id = $1 ORDER BY created_at DESC`

	var loans []*domain.Loan
	if err := r.db.SelectContext(ctx, &loans, query, borrowerID); err != nil {
		return nil, err
	}

	return loans, nil
}

func (r *loanRepository) ListByStatus(ctx context.Context, status string) ([]*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE status = $1 ORDER BY created_at`

	var loans []*domain.Loan
	if err := r.db.SelectContext(ctx, &loans, query, status); err != nil {
		return nil, err
	}

	return loans, nil
}

func (r *loanRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	query := `
		UPDATE loans
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`

	res, err := r.db.ExecContext(ctx, query, id, from, to, time.Now())
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *loanRepository) ApproveTx(ctx context.Context, tx *sqlx.Tx, loan *domain.Loan) error {
	query := `
		UPDATE loans
		SET status = $2, interest_rate = $3,
			daily_principal = $4, daily_interest = $5, daily_installment = $6,
			remaining_balance = $7,
			approved_at = $8, start_date = $9, end_date = $10,
			updated_at = $11
		WHERE id = $1
	`

	_, err := tx.ExecContext(ctx, query,
		loan.ID,
		loan.Status,
		loan.InterestRate,
		loan.DailyPrincipal,
		loan.DailyInterest,
		loan.DailyInstallment,
		loan.RemainingBalance,
		loan.ApprovedAt,
		loan.StartDate,
		loan.EndDate,
		time.Now(),
	)

	return err
}

func (r *loanRepository) ApplyAggregateDeltaTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, paidDelta, balanceDelta, penaltyDelta int64) error {
	query := `
		UPDATE loans
		SET total_paid = total_paid + $2,
			remaining_balance = remaining_balance + $3,
			penalty_amount = penalty_amount + $4,
			updated_at = $5
		WHERE id = $1
	`

	_, err := tx.ExecContext(ctx, query, id, paidDelta, balanceDelta, penaltyDelta, time.Now())
	return err
}

func (r *loanRepository) MarkCompletedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	query := `
		UPDATE loans
		SET status = $2, updated_at = $3
		WHERE id = $1
	`

	_, err := tx.ExecContext(ctx, query, id, domain.LoanStatusCompleted, time.Now())
	return err
}

func (r *loanRepository) OverwriteAggregatesTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, totalPaid, remaining, penalty int64, status string) error {
	query := `
		UPDATE loans
		SET total_paid = $2, remaining_balance = $3, penalty_amount = $4,
			status = $5, updated_at = $6
		WHERE id = $1
	`

	_, err := tx.ExecContext(ctx, query, id, totalPaid, remaining, penalty, status, time.Now())
	return err
}

func (r *loanRepository) UpdateAutopayStatus(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error) {
	query := `
		UPDATE loans
		SET autopay_status = $3, updated_at = $4
		WHERE id = $1 AND autopay_status = ANY($2)
	`

	res, err := r.db.ExecContext(ctx, query, id, pq.Array(from), to, time.Now())
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *loanRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM loans WHERE id = $1`, id)
	return err
}
