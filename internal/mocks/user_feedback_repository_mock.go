package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"manga-server/internal/interfaces"
	"manga-server/internal/model"
)

// MockUserFeedbackRepository is a mock type for the UserFeedbackRepository type
type MockUserFeedbackRepository struct {
	mock.Mock
}

func (_m *MockUserFeedbackRepository) Create(ctx context.Context, querier interfaces.DBTX, feedback *model.UserFeedback) error {
	ret := _m.Called(ctx, querier, feedback)
	return ret.Error(0)
}

func (_m *MockUserFeedbackRepository) GetLatest(ctx context.Context, querier interfaces.DBTX, sessionID uuid.UUID, phase int) (*model.UserFeedback, error) {
	ret := _m.Called(ctx, querier, sessionID, phase)

	var r0 *model.UserFeedback
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.UserFeedback)
	}
	return r0, ret.Error(1)
}

func (_m *MockUserFeedbackRepository) ListBySession(ctx context.Context, querier interfaces.DBTX, sessionID uuid.UUID) ([]*model.UserFeedback, error) {
	ret := _m.Called(ctx, querier, sessionID)

	var r0 []*model.UserFeedback
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*model.UserFeedback)
	}
	return r0, ret.Error(1)
}

// NewMockUserFeedbackRepository creates a new instance of MockUserFeedbackRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockUserFeedbackRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockUserFeedbackRepository {
	m := &MockUserFeedbackRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ interfaces.UserFeedbackRepository = (*MockUserFeedbackRepository)(nil)
