package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"prospector/internal/domain"
)

// MockJobRepo is a mock implementation of port.JobRepository.
type MockJobRepo struct {
	mock.Mock
}

func (m *MockJobRepo) Create(ctx context.Context, job *domain.ExtractionJob, event *domain.TransitionEvent) error {
	args := m.Called(ctx, job, event)
	return args.Error(0)
}

func (m *MockJobRepo) GetByID(ctx context.Context, documentID string) (*domain.ExtractionJob, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExtractionJob), args.Error(1)
}

func (m *MockJobRepo) List(ctx context.Context, filter domain.JobFilter, offset, limit int) ([]domain.ExtractionJob, int, error) {
	args := m.Called(ctx, filter, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.ExtractionJob), args.Int(1), args.Error(2)
}

func (m *MockJobRepo) Update(ctx context.Context, job *domain.ExtractionJob, event *domain.TransitionEvent) error {
	args := m.Called(ctx, job, event)
	return args.Error(0)
}

func (m *MockJobRepo) ListEvents(ctx context.Context, documentID string) ([]domain.TransitionEvent, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.TransitionEvent), args.Error(1)
}
