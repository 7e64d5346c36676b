package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"prospector/internal/port"
)

// MockStructurer is a mock implementation of port.Structurer.
type MockStructurer struct {
	mock.Mock
}

func (m *MockStructurer) Structure(ctx context.Context, input port.StructureInput) (*port.StructureOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*port.StructureOutput), args.Error(1)
}
