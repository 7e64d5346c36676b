package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"prospector/internal/domain"
)

// MockReviewGate is a mock implementation of service.ReviewGate.
type MockReviewGate struct {
	mock.Mock
}

func (m *MockReviewGate) Approve(ctx context.Context, documentID, reviewer string) (*domain.ExtractionJob, error) {
	args := m.Called(ctx, documentID, reviewer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExtractionJob), args.Error(1)
}

func (m *MockReviewGate) Reject(ctx context.Context, documentID, reviewer, reason string) (*domain.ExtractionJob, error) {
	args := m.Called(ctx, documentID, reviewer, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExtractionJob), args.Error(1)
}
