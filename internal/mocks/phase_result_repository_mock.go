package mocks

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"manga-server/internal/interfaces"
	"manga-server/internal/model"
)

// MockPhaseResultRepository is a mock type for the PhaseResultRepository type
type MockPhaseResultRepository struct {
	mock.Mock
}

func (_m *MockPhaseResultRepository) CreateAttempt(ctx context.Context, querier interfaces.DBTX, result *model.PhaseResult) error {
	ret := _m.Called(ctx, querier, result)
	return ret.Error(0)
}

func (_m *MockPhaseResultRepository) MarkCompleted(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, content json.RawMessage, qualityScore float64) error {
	ret := _m.Called(ctx, querier, id, content, qualityScore)
	return ret.Error(0)
}

func (_m *MockPhaseResultRepository) MarkFailed(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, errorMessage string) error {
	ret := _m.Called(ctx, querier, id, errorMessage)
	return ret.Error(0)
}

func (_m *MockPhaseResultRepository) UpdateAdjusted(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, content json.RawMessage, qualityScore float64) error {
	ret := _m.Called(ctx, querier, id, content, qualityScore)
	return ret.Error(0)
}

func (_m *MockPhaseResultRepository) SetPreviewVersion(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, versionID uuid.UUID) error {
	ret := _m.Called(ctx, querier, id, versionID)
	return ret.Error(0)
}

func (_m *MockPhaseResultRepository) GetLatestCompleted(ctx context.Context, querier interfaces.DBTX, sessionID uuid.UUID, phase int) (*model.PhaseResult, error) {
	ret := _m.Called(ctx, querier, sessionID, phase)

	var r0 *model.PhaseResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.PhaseResult)
	}
	return r0, ret.Error(1)
}

func (_m *MockPhaseResultRepository) ListBySession(ctx context.Context, querier interfaces.DBTX, sessionID uuid.UUID) ([]*model.PhaseResult, error) {
	ret := _m.Called(ctx, querier, sessionID)

	var r0 []*model.PhaseResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*model.PhaseResult)
	}
	return r0, ret.Error(1)
}

// NewMockPhaseResultRepository creates a new instance of MockPhaseResultRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockPhaseResultRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockPhaseResultRepository {
	m := &MockPhaseResultRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ interfaces.PhaseResultRepository = (*MockPhaseResultRepository)(nil)
