package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
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
	"prospector/internal/recognizer"
	"prospector/internal/upstream"
)

const (
	apiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	provider   = "gemini"
)

const transcribePrompt = `Transcribe every piece of text visible in this document exactly as written.
Preserve line breaks and reading order. Do not summarize, translate or correct anything.
Respond with a single JSON object: {"text": "<full transcription>", "confidence": <0.0-1.0>}
where confidence is how legible the document was overall.`

var mimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
}

// Engine implements recognizer.Engine using Gemini's vision models.
type Engine struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewEngine creates a Gemini-backed recognition engine.
func NewEngine(cfg *config.RecognitionConfig) *Engine {
	return newEngine(cfg, "")
}

// NewEngineWithEndpoint creates an engine pointing at a custom API endpoint (for testing).
func NewEngineWithEndpoint(cfg *config.RecognitionConfig, endpoint string) *Engine {
	return newEngine(cfg, endpoint)
}

func newEngine(cfg *config.RecognitionConfig, endpoint string) *Engine {
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if endpoint == "" {
		endpoint = fmt.Sprintf("%s/%s:generateContent", apiBaseURL, model)
	}
	return &Engine{
		apiKey:   cfg.APIKey,
		model:    model,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (e *Engine) Name() string { return provider + ":" + e.model }

func (e *Engine) Supports(contentType string) bool { return mimeTypes[contentType] }

func (e *Engine) Recognize(ctx context.Context, doc recognizer.Document) (*port.RecognitionOutput, error) {
	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role": "user",
				"parts": []map[string]interface{}{
					{
						"inline_data": map[string]interface{}{
							"mime_type": doc.ContentType,
							"data":      base64.StdEncoding.EncodeToString(doc.Body),
						},
					},
					{
						"text": transcribePrompt,
					},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"responseMimeType": "application/json",
			"temperature":      0,
			"maxOutputTokens":  16384,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, domain.NewRecognitionError(domain.KindPermanent, fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, domain.NewRecognitionError(domain.KindPermanent, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, domain.NewRecognitionError(domain.KindTransient, fmt.Errorf("calling gemini API: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewRecognitionError(domain.KindTransient, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewRecognitionError(upstream.KindForStatus(resp.StatusCode), upstream.StatusError(provider, resp, respBody))
	}

	return e.parseResponse(respBody)
}

// geminiResponse models the Gemini API response.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// parseResponse treats an unreadable reply as transient: the document itself
// was accepted, so another attempt is likely to succeed.
func (e *Engine) parseResponse(body []byte) (*port.RecognitionOutput, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewRecognitionError(domain.KindTransient, fmt.Errorf("unmarshaling response: %w", err))
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, domain.NewRecognitionError(domain.KindTransient, errors.New("empty response from API"))
	}
	if resp.Candidates[0].FinishReason == "SAFETY" || resp.Candidates[0].FinishReason == "RECITATION" {
		return nil, domain.NewRecognitionError(domain.KindPermanent,
			fmt.Errorf("gemini refused the document (finishReason: %s)", resp.Candidates[0].FinishReason))
	}

	text := resp.Candidates[0].Content.Parts[0].Text
	var parsed struct {
		Text       string   `json:"text"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, domain.NewRecognitionError(domain.KindTransient,
			fmt.Errorf("parsing transcription JSON: %w (raw: %s)", err, upstream.Truncate(text, 500)))
	}

	out := recognizer.Normalize(parsed.Text)
	confidence := recognizer.HeuristicConfidence(out)
	if parsed.Confidence != nil {
		confidence = 0.7*domain.ClampConfidence(*parsed.Confidence) + 0.3*confidence
	}
	return &port.RecognitionOutput{
		Text:       out,
		Confidence: confidence,
		Pages:      1 + strings.Count(out, "\f"),
		Method:     "vision",
		Engine:     e.Name(),
	}, nil
}
