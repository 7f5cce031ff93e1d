package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/daylend/emi-engine/internal/domain"
)

type notificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (id, type, loan_id, installment_id, amount, scope, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.Type,
		n.LoanID,
		n.InstallmentID,
		n.Amount,
		n.Scope,
		n.CreatedAt,
	)

	return err
}

func (r *notificationRepository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Notification, error) {
	query := `
		SELECT id, type, loan_id, installment_id, amount, scope, created_at
		FROM notifications
		WHERE loan_id = $1
		ORDER BY created_at DESC
	`

	var notifications []*domain.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, loanID); err != nil {
		return nil, err
	}

	return notifications, nil
}
