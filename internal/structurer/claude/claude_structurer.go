package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"prospector/internal/config"
	"prospector/internal/domain"
	"prospector/internal/port"
	"prospector/internal/structurer"
	"prospector/internal/upstream"
)

const (
	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"
	provider   = "claude"
)

// Structurer implements port.Structurer using the Anthropic Messages API.
type Structurer struct {
	apiKey      string
	model       string
	temperature float64
	endpoint    string
	client      *http.Client
}

// NewStructurer creates a Claude-based structurer from a provider config.
func NewStructurer(cfg *config.StructuringProviderConfig) *Structurer {
	endpoint := apiURL
	if cfg.BaseURL != "" {
		endpoint = cfg.BaseURL
	}
	return newStructurer(cfg, endpoint)
}

// NewStructurerWithEndpoint creates a structurer pointing at a custom API endpoint (for testing).
func NewStructurerWithEndpoint(cfg *config.StructuringProviderConfig, endpoint string) *Structurer {
	return newStructurer(cfg, endpoint)
}

func newStructurer(cfg *config.StructuringProviderConfig, endpoint string) *Structurer {
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
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
		"max_tokens":  4096,
		"temperature": s.temperature,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": prompt,
			},
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
	req.Header.Set("x-api-key", s.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.NewStructuringError(domain.KindTransient, fmt.Errorf("calling anthropic API: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewStructuringError(domain.KindTransient, fmt.Errorf("reading response: %w", err))
	}

	// Anthropic reports overload as 529.
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewStructuringError(upstream.KindForStatus(resp.StatusCode), upstream.StatusError(provider, resp, respBody))
	}

	return s.parseResponse(respBody, input.Schema, prompt)
}

// apiResponse models the Anthropic Messages API response.
type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (s *Structurer) parseResponse(body []byte, schema domain.FieldSchema, prompt string) (*port.StructureOutput, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewStructuringError(domain.KindMalformedResponse, fmt.Errorf("unmarshaling response: %w", err))
	}
	if len(resp.Content) == 0 {
		return nil, domain.NewStructuringError(domain.KindMalformedResponse, errors.New("empty response from API"))
	}
	if resp.StopReason == "max_tokens" {
		return nil, domain.NewStructuringError(domain.KindMalformedResponse,
			errors.New("output truncated (stop_reason: max_tokens): response exceeded output token limit"))
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	out, err := structurer.DecodeResponse(text, schema)
	if err != nil {
		return nil, err
	}
	out.ModelUsed = s.model
	out.PromptUsed = prompt
	return out, nil
}
