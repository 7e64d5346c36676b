package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"prospector/internal/port"
)

// MockJobQueue is a mock implementation of port.JobQueue.
type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Enqueue(ctx context.Context, msg port.JobMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockJobQueue) Dequeue(ctx context.Context) (*port.Delivery, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*port.Delivery), args.Error(1)
}

func (m *MockJobQueue) Ack(ctx context.Context, d *port.Delivery) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockJobQueue) Nack(ctx context.Context, d *port.Delivery, delay time.Duration) error {
	args := m.Called(ctx, d, delay)
	return args.Error(0)
}

func (m *MockJobQueue) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockJobQueue) Extend(ctx context.Context, d *port.Delivery) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}
