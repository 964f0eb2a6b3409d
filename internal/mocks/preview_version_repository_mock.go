package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"manga-server/internal/interfaces"
	"manga-server/internal/model"
)

// MockPreviewVersionRepository is a mock type for the PreviewVersionRepository type
type MockPreviewVersionRepository struct {
	mock.Mock
}

func (_m *MockPreviewVersionRepository) Create(ctx context.Context, querier interfaces.DBTX, version *model.PreviewVersion) error {
	ret := _m.Called(ctx, querier, version)
	return ret.Error(0)
}

func (_m *MockPreviewVersionRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*model.PreviewVersion, error) {
	ret := _m.Called(ctx, querier, id)

	var r0 *model.PreviewVersion
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.PreviewVersion)
	}
	return r0, ret.Error(1)
}

func (_m *MockPreviewVersionRepository) GetLatestBySession(ctx context.Context, querier interfaces.DBTX, sessionID uuid.UUID) (*model.PreviewVersion, error) {
	ret := _m.Called(ctx, querier, sessionID)

	var r0 *model.PreviewVersion
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.PreviewVersion)
	}
	return r0, ret.Error(1)
}

func (_m *MockPreviewVersionRepository) ListBySession(ctx context.Context, querier interfaces.DBTX, sessionID uuid.UUID) ([]*model.PreviewVersion, error) {
	ret := _m.Called(ctx, querier, sessionID)

	var r0 []*model.PreviewVersion
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*model.PreviewVersion)
	}
	return r0, ret.Error(1)
}

// NewMockPreviewVersionRepository creates a new instance of MockPreviewVersionRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockPreviewVersionRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockPreviewVersionRepository {
	m := &MockPreviewVersionRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ interfaces.PreviewVersionRepository = (*MockPreviewVersionRepository)(nil)
