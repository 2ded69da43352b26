// Package mocks provides test doubles for probe executors.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	model "github.com/sells-group/skillgen/internal/model"
)

// MockExecutor is a mock type for the sandbox.Executor interface.
type MockExecutor struct {
	mock.Mock
}

// Execute provides a mock function with given fields: ctx, probe
func (_m *MockExecutor) Execute(ctx context.Context, probe *model.Probe) (*model.ExecutionOutcome, error) {
	ret := _m.Called(ctx, probe)

	if len(ret) == 0 {
		panic("no return value specified for Execute")
	}

	var r0 *model.ExecutionOutcome
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, *model.Probe) (*model.ExecutionOutcome, error)); ok {
		return rf(ctx, probe)
	}
	if rf, ok := ret.Get(0).(func(context.Context, *model.Probe) *model.ExecutionOutcome); ok {
		r0 = rf(ctx, probe)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*model.ExecutionOutcome)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, *model.Probe) error); ok {
		r1 = rf(ctx, probe)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// CheckAvailable provides a mock function with given fields: ctx, runtimeID
func (_m *MockExecutor) CheckAvailable(ctx context.Context, runtimeID string) error {
	ret := _m.Called(ctx, runtimeID)

	if len(ret) == 0 {
		panic("no return value specified for CheckAvailable")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string) error); ok {
		r0 = rf(ctx, runtimeID)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockExecutor creates a new instance of MockExecutor.
func NewMockExecutor(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockExecutor {
	mock := &MockExecutor{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
