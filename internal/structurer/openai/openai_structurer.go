package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"prospector/internal/config"
	"prospector/internal/domain"
	"prospector/internal/port"
	"prospector/internal/structurer"
	"prospector/internal/upstream"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	provider       = "openai"
)

// Structurer implements port.Structurer against any OpenAI-compatible
// chat/completions endpoint (OpenAI, OpenRouter, vLLM, ...).
type Structurer struct {
	apiKey      string
	model       string
	temperature float64
	endpoint    string
	client      *http.Client
}

// NewStructurer creates an OpenAI-compatible structurer from a provider config.
func NewStructurer(cfg *config.StructuringProviderConfig) *Structurer {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return newStructurer(cfg, strings.TrimRight(baseURL, "/")+"/chat/completions")
}

// NewStructurerWithEndpoint creates a structurer pointing at a custom API endpoint (for testing).
func NewStructurerWithEndpoint(cfg *config.StructuringProviderConfig, endpoint string) *Structurer {
	return newStructurer(cfg, endpoint)
}

func newStructurer(cfg *config.StructuringProviderConfig, endpoint string) *Structurer {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Structurer{
		apiKey:      cfg.APIKey,
		model:       model,
		temperature: cfg.Temperature,
		endpoint:    endpoint,
		client:      &http.Client{Timeout: timeout},
	}
}

func (s *Structurer) Structure(ctx context.Context, input port.StructureInput) (*port.StructureOutput, error) {
	if err := structurer.ValidateInput(input); err != nil {
		return nil, err
	}
	prompt := structurer.BuildPrompt(input.Schema, input.Text)

	reqBody := map[string]interface{}{
		"model":       s.model,
		"temperature": s.temperature,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": prompt,
			},
		},
		"response_format": map[string]interface{}{
			"type": "json_object",
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, domain.NewStructuringError(domain.KindPermanent, fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, domain.NewStructuringError(domain.KindPermanent, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.NewStructuringError(domain.KindTransient, fmt.Errorf("calling openai API: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewStructuringError(domain.KindTransient, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewStructuringError(upstream.KindForStatus(resp.StatusCode), upstream.StatusError(provider, resp, respBody))
	}

	return s.parseResponse(respBody, input.Schema, prompt)
}

// apiResponse models the OpenAI Chat Completions API response.
type apiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (s *Structurer) parseResponse(body []byte, schema domain.FieldSchema, prompt string) (*port.StructureOutput, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewStructuringError(domain.KindMalformedResponse, fmt.Errorf("unmarshaling response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, domain.NewStructuringError(domain.KindMalformedResponse, errors.New("empty response from API: no choices"))
	}
	if resp.Choices[0].FinishReason == "length" {
		return nil, domain.NewStructuringError(domain.KindMalformedResponse,
			errors.New("output truncated (finish_reason: length): response exceeded output token limit"))
	}

	out, err := structurer.DecodeResponse(resp.Choices[0].Message.Content, schema)
	if err != nil {
		return nil, err
	}
	out.ModelUsed = s.model
	if resp.Model != "" {
		out.ModelUsed = resp.Model
	}
	out.PromptUsed = prompt
	return out, nil
}
