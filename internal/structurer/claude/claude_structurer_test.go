package claude_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospector/internal/config"
	"prospector/internal/domain"
	"prospector/internal/port"
	"prospector/internal/structurer/claude"
	"prospector/internal/upstream"
)

var input = port.StructureInput{Text: "Owner: JOHN DOE", Schema: domain.PropertyRecordV1}

func message(text, stop string) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"content":     []map[string]string{{"type": "text", "text": text}},
		"stop_reason": stop,
	})
	return b
}

func newStructurer(url string) *claude.Structurer {
	return claude.NewStructurerWithEndpoint(&config.StructuringProviderConfig{APIKey: "sk-ant"}, url)
}

func TestStructure_Success(t *testing.T) {
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		_, _ = w.Write(message(`Here you go: {"fields":{"owner_name":{"value":"JOHN DOE","confidence":0.95}}}`, "end_turn"))
	}))
	defer srv.Close()

	out, err := newStructurer(srv.URL).Structure(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, "sk-ant", headers.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", headers.Get("anthropic-version"))
	assert.Equal(t, "JOHN DOE", out.Fields[domain.FieldOwnerName].Value)
	assert.NoError(t, out.Fields.Complete(domain.PropertyRecordV1))
	assert.Equal(t, "claude-sonnet-4-20250514", out.ModelUsed)
}

func TestStructure_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newStructurer(srv.URL).Structure(context.Background(), input)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
	var rl *upstream.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 12*time.Second, rl.RetryAfter)
}

func TestStructure_Overloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
	}))
	defer srv.Close()

	_, err := newStructurer(srv.URL).Structure(context.Background(), input)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
}

func TestStructure_MaxTokensIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(message(`{"fields":{"owner_name":{"val`, "max_tokens"))
	}))
	defer srv.Close()

	_, err := newStructurer(srv.URL).Structure(context.Background(), input)
	assert.Equal(t, domain.KindMalformedResponse, domain.KindOf(err))
}

func TestStructure_BadRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := newStructurer(srv.URL).Structure(context.Background(), input)
	assert.Equal(t, domain.KindPermanent, domain.KindOf(err))
}
