package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"prospector/internal/port"
)

// MockRecognizer is a mock implementation of port.Recognizer.
type MockRecognizer struct {
	mock.Mock
}

func (m *MockRecognizer) Recognize(ctx context.Context, fileRef string) (*port.RecognitionOutput, error) {
	args := m.Called(ctx, fileRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*port.RecognitionOutput), args.Error(1)
}
