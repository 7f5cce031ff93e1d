package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daylend/emi-engine/internal/domain"
	"github.com/daylend/emi-engine/internal/notify"
	"github.com/daylend/emi-engine/tests/mocks"
)

type capturingBroadcaster struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (b *capturingBroadcaster) Broadcast(_ context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
	return b.err
}

func (b *capturingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payloads)
}

func TestEmit_PersistsAndBroadcasts(t *testing.T) {
	repo := &mocks.MockNotificationRepository{}
	broadcaster := &capturingBroadcaster{}

	loanID := uuid.New()
	repo.On("Create", mock.Anything, mock.MatchedBy(func(n *domain.Notification) bool {
		return n.Type == domain.EventInstallmentPaid && n.LoanID == loanID && n.Amount == 120
	})).Return(nil)

	service := notify.NewService(repo, broadcaster, zap.NewNop())
	service.Emit(context.Background(), notify.Event{
		Type:   domain.EventInstallmentPaid,
		LoanID: loanID,
		Amount: 120,
		Count:  1,
		Scope:  domain.ScopeBorrower,
	})

	require.Eventually(t, func() bool { return broadcaster.count() == 1 },
		time.Second, 10*time.Millisecond)

	var decoded notify.Event
	require.NoError(t, json.Unmarshal(broadcaster.payloads[0], &decoded))
	assert.Equal(t, domain.EventInstallmentPaid, decoded.Type)
	assert.Equal(t, loanID, decoded.LoanID)
	assert.Equal(t, int64(120), decoded.Amount)
	repo.AssertExpectations(t)
}

func TestHistory_ReturnsPersistedRecords(t *testing.T) {
	repo := &mocks.MockNotificationRepository{}

	loanID := uuid.New()
	records := []*domain.Notification{
		{ID: uuid.New(), Type: domain.EventInstallmentPaid, LoanID: loanID, Amount: 120},
		{ID: uuid.New(), Type: domain.EventLoanApproved, LoanID: loanID},
	}
	repo.On("ListByLoan", mock.Anything, loanID).Return(records, nil)

	service := notify.NewService(repo, &capturingBroadcaster{}, zap.NewNop())

	got, err := service.History(context.Background(), loanID)

	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestEmit_BroadcastsEvenWhenPersistenceFails(t *testing.T) {
	repo := &mocks.MockNotificationRepository{}
	broadcaster := &capturingBroadcaster{}

	repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

	service := notify.NewService(repo, broadcaster, zap.NewNop())
	service.Emit(context.Background(), notify.Event{
		Type:   domain.EventLoanApproved,
		LoanID: uuid.New(),
		Scope:  domain.ScopeAdmin,
	})

	assert.Eventually(t, func() bool { return broadcaster.count() == 1 },
		time.Second, 10*time.Millisecond)
}
