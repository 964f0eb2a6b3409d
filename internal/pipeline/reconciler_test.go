package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manga-server/internal/mocks"
	"manga-server/internal/model"
)

func newTestReconciler(t *testing.T) (*Reconciler, *mocks.MockSessionRepository, *mocks.MockEventPublisher) {
	sessions := mocks.NewMockSessionRepository(t)
	publisher := mocks.NewMockEventPublisher(t)
	r := NewReconciler(nil, sessions, publisher, time.Minute, 10*time.Minute, zap.NewNop())
	return r, sessions, publisher
}

func TestReconciler_FailsOrphanedFeedbackWaits(t *testing.T) {
	r, sessions, publisher := newTestReconciler(t)

	orphan := &model.Session{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		CurrentPhase: 4,
		Status:       model.StatusWaitingFeedback,
	}

	sessions.On("FindExpiredFeedbackWaits", mock.Anything, mock.Anything, mock.Anything).
		Return([]*model.Session{orphan}, nil).Once()
	sessions.On("UpdateStatus", mock.Anything, mock.Anything, orphan.ID,
		[]model.SessionStatus{model.StatusWaitingFeedback}, model.StatusFailed, mock.Anything).
		Return(true, nil).Once()
	sessions.On("FindAndMarkStaleProcessing", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(int64(0), nil).Once()

	var published model.SessionEvent
	publisher.On("PublishSessionEvent", mock.Anything, mock.Anything).Return(nil).
		Run(func(args mock.Arguments) {
			published = args.Get(1).(model.SessionEvent)
		}).Once()

	r.sweep(context.Background())

	assert.Equal(t, model.EventSessionStatus, published.Type)
	assert.Equal(t, orphan.ID.String(), published.SessionID)
	assert.Equal(t, string(model.StatusFailed), published.Status)
	require.NotNil(t, published.ErrorDetails)
}

func TestReconciler_SkipsAlreadyResolvedSessions(t *testing.T) {
	r, sessions, publisher := newTestReconciler(t)

	resolved := &model.Session{ID: uuid.New(), UserID: uuid.New()}

	sessions.On("FindExpiredFeedbackWaits", mock.Anything, mock.Anything, mock.Anything).
		Return([]*model.Session{resolved}, nil).Once()
	// Сессия успела уйти из waiting_feedback между выборкой и апдейтом
	sessions.On("UpdateStatus", mock.Anything, mock.Anything, resolved.ID,
		[]model.SessionStatus{model.StatusWaitingFeedback}, model.StatusFailed, mock.Anything).
		Return(false, nil).Once()
	sessions.On("FindAndMarkStaleProcessing", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(int64(0), nil).Once()

	r.sweep(context.Background())

	publisher.AssertNotCalled(t, "PublishSessionEvent", mock.Anything, mock.Anything)
}

func TestReconciler_SweepSurvivesRepositoryErrors(t *testing.T) {
	r, sessions, _ := newTestReconciler(t)

	sessions.On("FindExpiredFeedbackWaits", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("база недоступна")).Once()
	// Ошибка первого прохода не блокирует второй
	sessions.On("FindAndMarkStaleProcessing", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(int64(2), nil).Once()

	r.sweep(context.Background())
}
