package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"manga-server/internal/interfaces"
	"manga-server/internal/model"
)

// MockSessionRepository is a mock type for the SessionRepository type
type MockSessionRepository struct {
	mock.Mock
}

func (_m *MockSessionRepository) Create(ctx context.Context, querier interfaces.DBTX, session *model.Session) error {
	ret := _m.Called(ctx, querier, session)
	return ret.Error(0)
}

func (_m *MockSessionRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*model.Session, error) {
	ret := _m.Called(ctx, querier, id)

	var r0 *model.Session
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.Session)
	}
	return r0, ret.Error(1)
}

func (_m *MockSessionRepository) ListByUserID(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID, limit int) ([]*model.Session, error) {
	ret := _m.Called(ctx, querier, userID, limit)

	var r0 []*model.Session
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*model.Session)
	}
	return r0, ret.Error(1)
}

func (_m *MockSessionRepository) CountActiveForUser(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID) (int, error) {
	ret := _m.Called(ctx, querier, userID)
	return ret.Get(0).(int), ret.Error(1)
}

func (_m *MockSessionRepository) UpdateStatus(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, allowedFrom []model.SessionStatus, newStatus model.SessionStatus, errorMessage *string) (bool, error) {
	ret := _m.Called(ctx, querier, id, allowedFrom, newStatus, errorMessage)
	return ret.Get(0).(bool), ret.Error(1)
}

func (_m *MockSessionRepository) MarkStarted(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) error {
	ret := _m.Called(ctx, querier, id)
	return ret.Error(0)
}

func (_m *MockSessionRepository) MarkCompleted(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) error {
	ret := _m.Called(ctx, querier, id)
	return ret.Error(0)
}

func (_m *MockSessionRepository) AdvancePhase(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, newPhase int, status model.SessionStatus) error {
	ret := _m.Called(ctx, querier, id, newPhase, status)
	return ret.Error(0)
}

func (_m *MockSessionRepository) SetWaitingFeedback(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, deadline time.Time) error {
	ret := _m.Called(ctx, querier, id, deadline)
	return ret.Error(0)
}

func (_m *MockSessionRepository) ClearFeedbackDeadline(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) error {
	ret := _m.Called(ctx, querier, id)
	return ret.Error(0)
}

func (_m *MockSessionRepository) IncrementRetryCount(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (int, error) {
	ret := _m.Called(ctx, querier, id)
	return ret.Get(0).(int), ret.Error(1)
}

func (_m *MockSessionRepository) FindExpiredFeedbackWaits(ctx context.Context, querier interfaces.DBTX, olderThan time.Time) ([]*model.Session, error) {
	ret := _m.Called(ctx, querier, olderThan)

	var r0 []*model.Session
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*model.Session)
	}
	return r0, ret.Error(1)
}

func (_m *MockSessionRepository) FindAndMarkStaleProcessing(ctx context.Context, querier interfaces.DBTX, staleThreshold time.Duration, errorMessage string) (int64, error) {
	ret := _m.Called(ctx, querier, staleThreshold, errorMessage)
	return ret.Get(0).(int64), ret.Error(1)
}

// NewMockSessionRepository creates a new instance of MockSessionRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockSessionRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSessionRepository {
	m := &MockSessionRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ interfaces.SessionRepository = (*MockSessionRepository)(nil)
