package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/daylend/emi-engine/internal/domain"
)

type installmentRepository struct {
	db *sqlx.DB
}

func NewInstallmentRepository(db *sqlx.DB) InstallmentRepository {
	return &installmentRepository{db: db}
}

const installmentColumns = `
	id, loan_id, borrower_id, day_number,
	principal_amount, interest_amount, penalty_amount, total_amount,
	due_date, status, payment_ref, paid_at, created_at
`

func (r *installmentRepository) CreateBatchTx(ctx context.Context, tx *sqlx.Tx, installments []*domain.Installment) error {
	query := `
		INSERT INTO installments (id, loan_id, borrower_id, day_number,
			principal_amount, interest_amount, penalty_amount, total_amount,
			due_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	for _, inst := range installments {
		_, err := tx.ExecContext(ctx, query,
			inst.ID,
			inst.LoanID,
			inst.BorrowerID,
			inst.DayNumber,
			inst.PrincipalAmount,
			inst.InterestAmount,
			inst.PenaltyAmount,
			inst.TotalAmount,
			inst.DueDate,
			inst.Status,
			inst.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *installmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM installments WHERE id = $1`

	var inst domain.Installment
	if err := r.db.GetContext(ctx, &inst, query, id); err != nil {
		return nil, err
	}

	return &inst, nil
}

func (r *installmentRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM installments WHERE id = $1 FOR UPDATE`

	var inst domain.Installment
	if err := tx.GetContext(ctx, &inst, query, id); err != nil {
		return nil, err
	}

	return &inst, nil
}

func (r *installmentRepository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM installments WHERE loan_id = $1 ORDER BY day_number`

	var installments []*domain.Installment
	if err := r.db.SelectContext(ctx, &installments, query, loanID); err != nil {
		return nil, err
	}

	return installments, nil
}

func (r *installmentRepository) ListUnpaidByLoanTx(ctx context.Context, tx *sqlx.Tx, loanID uuid.UUID, limit int) ([]*domain.Installment, error) {
	query := `
		SELECT ` + installmentColumns + `
		FROM installments
		WHERE loan_id = $1 AND status <> 'paid'
		ORDER BY day_number
	`
	args := []interface{}{loanID}

	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	query += ` FOR UPDATE`

	var installments []*domain.Installment
	if err := tx.SelectContext(ctx, &installments, query, args...); err != nil {
		return nil, err
	}

	return installments, nil
}

func (r *installmentRepository) ListPastDue(ctx context.Context, cutoff time.Time) ([]*domain.Installment, error) {
	query := `
		SELECT ` + installmentColumns + `
		FROM installments
		WHERE status <> 'paid' AND due_date < $1
		ORDER BY loan_id, day_number
	`

	var installments []*domain.Installment
	if err := r.db.SelectContext(ctx, &installments, query, cutoff); err != nil {
		return nil, err
	}

	return installments, nil
}

func (r *installmentRepository) HasPaymentRefTx(ctx context.Context, tx *sqlx.Tx, loanID uuid.UUID, paymentRef string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM installments WHERE loan_id = $1 AND payment_ref = $2)`

	var exists bool
	if err := tx.GetContext(ctx, &exists, query, loanID, paymentRef); err != nil {
		return false, err
	}

	return exists, nil
}

func (r *installmentRepository) MarkPaidTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, paymentRef string, paidAt time.Time) (bool, error) {
	query := `
		UPDATE installments
		SET status = 'paid', payment_ref = $2, paid_at = $3
		WHERE id = $1 AND status <> 'paid'
	`

	res, err := tx.ExecContext(ctx, query, id, paymentRef, paidAt)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *installmentRepository) ApplyPenaltyTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, newPenalty int64) (bool, error) {
	query := `
		UPDATE installments
		SET penalty_amount = $2,
			total_amount = principal_amount + interest_amount + $2,
			status = 'overdue'
		WHERE id = $1 AND status <> 'paid' AND penalty_amount < $2
	`

	res, err := tx.ExecContext(ctx, query, id, newPenalty)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *installmentRepository) CountUnpaidTx(ctx context.Context, tx *sqlx.Tx, loanID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM installments WHERE loan_id = $1 AND status <> 'paid'`

	var count int
	if err := tx.GetContext(ctx, &count, query, loanID); err != nil {
		return 0, err
	}

	return count, nil
}

func (r *installmentRepository) SumTotalsTx(ctx context.Context, tx *sqlx.Tx, loanID uuid.UUID) (*domain.LedgerTotals, error) {
	query := `
		SELECT
			COUNT(*) AS count,
			COUNT(*) FILTER (WHERE status <> 'paid') AS unpaid_count,
			COALESCE(SUM(total_amount) FILTER (WHERE status = 'paid'), 0) AS paid_total,
			COALESCE(SUM(principal_amount + interest_amount) FILTER (WHERE status = 'paid'), 0) AS paid_principal_plus,
			COALESCE(SUM(penalty_amount), 0) AS penalty_sum
		FROM installments
		WHERE loan_id = $1
	`

	var totals domain.LedgerTotals
	if err := tx.GetContext(ctx, &totals, query, loanID); err != nil {
		return nil, err
	}

	return &totals, nil
}
