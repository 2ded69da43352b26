// Package mocks provides test doubles for the process supervisor.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	model "github.com/sells-group/skillgen/internal/model"
	procsup "github.com/sells-group/skillgen/internal/procsup"
)

// MockRunner is a mock type for the Runner interface.
type MockRunner struct {
	mock.Mock
}

// Run provides a mock function with given fields: ctx, spec
func (_m *MockRunner) Run(ctx context.Context, spec procsup.Spec) (*model.ExecutionOutcome, error) {
	ret := _m.Called(ctx, spec)

	if len(ret) == 0 {
		panic("no return value specified for Run")
	}

	var r0 *model.ExecutionOutcome
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, procsup.Spec) (*model.ExecutionOutcome, error)); ok {
		return rf(ctx, spec)
	}
	if rf, ok := ret.Get(0).(func(context.Context, procsup.Spec) *model.ExecutionOutcome); ok {
		r0 = rf(ctx, spec)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*model.ExecutionOutcome)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, procsup.Spec) error); ok {
		r1 = rf(ctx, spec)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockRunner creates a new instance of MockRunner.
func NewMockRunner(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockRunner {
	mock := &MockRunner{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
