// Package notify produces structured ledger events. Delivery (push,
// email, socket) belongs to external collaborators; nothing here may fail
// a ledger mutation.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daylend/emi-engine/internal/domain"
	"github.com/daylend/emi-engine/internal/repository"
)

// Event is the wire shape handed to the delivery collaborators.
type Event struct {
	Type          string     `json:"type"`
	LoanID        uuid.UUID  `json:"loan_id"`
	InstallmentID *uuid.UUID `json:"installment_id,omitempty"`
	Amount        int64      `json:"amount"`
	Count         int        `json:"count,omitempty"`
	Scope         string     `json:"scope"`
}

// Emitter accepts events from the ledger. Implementations are
// fire-and-forget; Emit never blocks the caller on delivery.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Broadcaster is the injected real-time transport capability. Its
// lifecycle (init on startup, teardown on shutdown) is owned by the
// process, never by the ledger components.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload []byte) error
}

// Service persists a notification record and pushes the event to the
// broadcast channel. Both steps are best-effort: failures are logged and
// swallowed.
type Service struct {
	repo        repository.NotificationRepository
	broadcaster Broadcaster
	log         *zap.Logger
	timeout     time.Duration
}

func NewService(repo repository.NotificationRepository, broadcaster Broadcaster, log *zap.Logger) *Service {
	return &Service{
		repo:        repo,
		broadcaster: broadcaster,
		log:         log,
		timeout:     5 * time.Second,
	}
}

// History returns the persisted event records for a loan, newest first.
func (s *Service) History(ctx context.Context, loanID uuid.UUID) ([]*domain.Notification, error) {
	return s.repo.ListByLoan(ctx, loanID)
}

func (s *Service) Emit(ctx context.Context, event Event) {
	// Detach from the caller's context; a settled ledger write must not
	// be tied to the request lifetime.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		record := &domain.Notification{
			ID:            uuid.New(),
			Type:          event.Type,
			LoanID:        event.LoanID,
			InstallmentID: event.InstallmentID,
			Amount:        event.Amount,
			Scope:         event.Scope,
			CreatedAt:     time.Now(),
		}

		if err := s.repo.Create(ctx, record); err != nil {
			s.log.Warn("notification record not persisted",
				zap.String("type", event.Type),
				zap.String("loan_id", event.LoanID.String()),
				zap.Error(err))
		}

		payload, err := json.Marshal(event)
		if err != nil {
			s.log.Warn("notification payload not serializable", zap.Error(err))
			return
		}

		if err := s.broadcaster.Broadcast(ctx, payload); err != nil {
			s.log.Warn("notification broadcast failed",
				zap.String("type", event.Type),
				zap.Error(err))
		}
	}()
}
