// Package mocks provides test doubles for the generation collaborator.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	llm "github.com/sells-group/skillgen/internal/llm"
)

// MockGenerator is a mock type for the Generator interface.
type MockGenerator struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, req
func (_m *MockGenerator) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Generate")
	}

	var r0 *llm.Response
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, llm.Request) (*llm.Response, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, llm.Request) *llm.Response); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*llm.Response)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, llm.Request) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockGenerator creates a new instance of MockGenerator.
func NewMockGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockGenerator {
	mock := &MockGenerator{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
