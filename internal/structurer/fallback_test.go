package structurer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prospector/internal/domain"
	"prospector/internal/logger"
	"prospector/internal/port"
	"prospector/internal/structurer"
	"prospector/internal/upstream"
	"prospector/mocks"
)

var input = port.StructureInput{Text: "Owner: JOHN DOE", Schema: domain.PropertyRecordV1}

func rateLimited() error {
	return domain.NewStructuringError(domain.KindTransient, upstream.NewRateLimitError("p", errors.New("429"), 30))
}

func TestFallback_PrimarySucceeds(t *testing.T) {
	primary, secondary := new(mocks.MockStructurer), new(mocks.MockStructurer)
	want := &port.StructureOutput{ModelUsed: "primary"}
	primary.On("Structure", mock.Anything, input).Return(want, nil)

	f := structurer.NewFallbackStructurer([]port.Structurer{primary, secondary}, []string{"primary", "secondary"}, logger.Discard())
	out, err := f.Structure(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, want, out)
	secondary.AssertNotCalled(t, "Structure", mock.Anything, mock.Anything)
}

func TestFallback_RateLimitOpensCircuitForNextCall(t *testing.T) {
	primary, secondary := new(mocks.MockStructurer), new(mocks.MockStructurer)
	primary.On("Structure", mock.Anything, input).Return(nil, rateLimited()).Once()
	secondary.On("Structure", mock.Anything, input).Return(&port.StructureOutput{ModelUsed: "secondary"}, nil)

	f := structurer.NewFallbackStructurer([]port.Structurer{primary, secondary}, []string{"primary", "secondary"}, logger.Discard())

	// The rate-limited call is returned as is; the secondary is not tried in the same call.
	_, err := f.Structure(context.Background(), input)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
	secondary.AssertNotCalled(t, "Structure", mock.Anything, mock.Anything)

	for i := 0; i < 2; i++ {
		out, err := f.Structure(context.Background(), input)
		require.NoError(t, err)
		assert.Equal(t, "secondary", out.ModelUsed)
	}
	primary.AssertNumberOfCalls(t, "Structure", 1)
	secondary.AssertNumberOfCalls(t, "Structure", 2)
}

func TestFallback_OneUpstreamCallPerAttempt(t *testing.T) {
	primary, secondary := new(mocks.MockStructurer), new(mocks.MockStructurer)
	primary.On("Structure", mock.Anything, input).
		Return(nil, domain.NewStructuringError(domain.KindMalformedResponse, errors.New("garbage")))

	f := structurer.NewFallbackStructurer([]port.Structurer{primary, secondary}, []string{"primary", "secondary"}, logger.Discard())
	_, err := f.Structure(context.Background(), input)

	assert.Equal(t, domain.KindMalformedResponse, domain.KindOf(err))
	primary.AssertNumberOfCalls(t, "Structure", 1)
	secondary.AssertNotCalled(t, "Structure", mock.Anything, mock.Anything)
}

func TestFallback_PlainErrorIsClassified(t *testing.T) {
	primary := new(mocks.MockStructurer)
	primary.On("Structure", mock.Anything, input).Return(nil, errors.New("connection reset"))

	f := structurer.NewFallbackStructurer([]port.Structurer{primary}, []string{"primary"}, logger.Discard())
	_, err := f.Structure(context.Background(), input)

	var se *domain.StructuringError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, domain.KindTransient, se.Kind)
}

func TestFallback_AllCircuitsOpenIsTransient(t *testing.T) {
	primary, secondary := new(mocks.MockStructurer), new(mocks.MockStructurer)
	primary.On("Structure", mock.Anything, input).Return(nil, rateLimited())
	secondary.On("Structure", mock.Anything, input).Return(nil, rateLimited())

	f := structurer.NewFallbackStructurer([]port.Structurer{primary, secondary}, []string{"primary", "secondary"}, logger.Discard())
	for i := 0; i < 2; i++ {
		_, err := f.Structure(context.Background(), input)
		assert.Equal(t, domain.KindTransient, domain.KindOf(err))
	}

	// Both circuits are open now; no provider is called.
	_, err := f.Structure(context.Background(), input)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
	var rl *upstream.RateLimitError
	assert.True(t, errors.As(err, &rl))
	primary.AssertNumberOfCalls(t, "Structure", 1)
	secondary.AssertNumberOfCalls(t, "Structure", 1)
}
