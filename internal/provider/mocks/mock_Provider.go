// Package mocks provides test doubles for the provider contract.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	model "github.com/sells-group/distill-cli/internal/model"
	provider "github.com/sells-group/distill-cli/internal/provider"
)

// MockProvider is a mock type for the Provider interface.
type MockProvider struct {
	mock.Mock
}

// Name provides a mock function with given fields:
func (_m *MockProvider) Name() string {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Name")
	}

	if rf, ok := ret.Get(0).(func() string); ok {
		return rf()
	}
	return ret.Get(0).(string)
}

// Generate provides a mock function with given fields: ctx, prompt, opts
func (_m *MockProvider) Generate(ctx context.Context, prompt string, opts provider.Options) (*provider.Result, error) {
	ret := _m.Called(ctx, prompt, opts)

	if len(ret) == 0 {
		panic("no return value specified for Generate")
	}

	var r0 *provider.Result
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, provider.Options) (*provider.Result, error)); ok {
		return rf(ctx, prompt, opts)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, provider.Options) *provider.Result); ok {
		r0 = rf(ctx, prompt, opts)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*provider.Result)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, provider.Options) error); ok {
		r1 = rf(ctx, prompt, opts)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// CostPerToken provides a mock function with given fields:
func (_m *MockProvider) CostPerToken() (float64, float64) {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for CostPerToken")
	}

	return ret.Get(0).(float64), ret.Get(1).(float64)
}

// Describe provides a mock function with given fields:
func (_m *MockProvider) Describe() model.ModelInfo {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Describe")
	}

	if rf, ok := ret.Get(0).(func() model.ModelInfo); ok {
		return rf()
	}
	return ret.Get(0).(model.ModelInfo)
}

// WithIdentity registers optional expectations for the metadata methods so
// tests only need to script Generate.
func (_m *MockProvider) WithIdentity(name string, info model.ModelInfo) *MockProvider {
	_m.On("Name").Return(name).Maybe()
	_m.On("Describe").Return(info).Maybe()
	_m.On("CostPerToken").Return(info.Pricing.Input, info.Pricing.Output).Maybe()
	return _m
}

// NewMockProvider creates a new instance of MockProvider. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockProvider(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockProvider {
	m := &MockProvider{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
