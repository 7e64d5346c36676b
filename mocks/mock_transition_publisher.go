package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"prospector/internal/domain"
)

// MockTransitionPublisher is a mock implementation of port.TransitionPublisher.
type MockTransitionPublisher struct {
	mock.Mock
}

func (m *MockTransitionPublisher) Publish(ctx context.Context, event *domain.TransitionEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockTransitionPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}
