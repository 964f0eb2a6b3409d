package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"manga-server/internal/generator"
	"manga-server/internal/model"
)

// MockGeneratorClient is a mock type for the generator.Client type
type MockGeneratorClient struct {
	mock.Mock
}

func (_m *MockGeneratorClient) Generate(ctx context.Context, phase model.Phase, sctx model.SessionContext) (generator.PhaseArtifact, error) {
	ret := _m.Called(ctx, phase, sctx)

	var r0 generator.PhaseArtifact
	if rf, ok := ret.Get(0).(func(context.Context, model.Phase, model.SessionContext) generator.PhaseArtifact); ok {
		r0 = rf(ctx, phase, sctx)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(generator.PhaseArtifact)
	}
	return r0, ret.Error(1)
}

// NewMockGeneratorClient creates a new instance of MockGeneratorClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockGeneratorClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockGeneratorClient {
	m := &MockGeneratorClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ generator.Client = (*MockGeneratorClient)(nil)
