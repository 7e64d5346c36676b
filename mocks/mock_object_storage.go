package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"prospector/internal/port"
)

// MockObjectStorage is a mock implementation of port.ObjectStorage.
type MockObjectStorage struct {
	mock.Mock
}

func (m *MockObjectStorage) Fetch(ctx context.Context, ref string) (*port.Object, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*port.Object), args.Error(1)
}
