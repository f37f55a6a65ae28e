package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// HuggingFaceGenerator calls the Hugging Face inference API.
type HuggingFaceGenerator struct {
	endpoint    string
	model       string
	token       string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      *zap.Logger
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	MaxNewTokens   int     `json:"max_new_tokens"`
	Temperature    float64 `json:"temperature"`
	TopP           float64 `json:"top_p"`
	ReturnFullText bool    `json:"return_full_text"`
}

type hfGeneration struct {
	GeneratedText string `json:"generated_text"`
	Error         string `json:"error"`
}

// NewHuggingFaceGenerator creates a generator for model hosted under baseURL.
func NewHuggingFaceGenerator(baseURL, model, token string, maxTokens int, temperature float64, client *http.Client, logger *zap.Logger) *HuggingFaceGenerator {
	if client == nil {
		client = http.DefaultClient
	}
	return &HuggingFaceGenerator{
		endpoint:    strings.TrimRight(baseURL, "/") + "/models/" + model,
		model:       model,
		token:       token,
		maxTokens:   maxTokens,
		temperature: temperature,
		client:      client,
		logger:      logger.Named("huggingface"),
	}
}

// Model returns the configured model name.
func (g *HuggingFaceGenerator) Model() string { return g.model }

// Generate sends the prompt to the inference endpoint.
func (g *HuggingFaceGenerator) Generate(ctx context.Context, eventDescription string) (*Report, error) {
	body, err := json.Marshal(hfRequest{
		Inputs: Prompt(eventDescription),
		Parameters: hfParameters{
			MaxNewTokens: g.maxTokens,
			Temperature:  g.temperature,
			TopP:         0.9,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inference request: %w", err)
	}

	resp, raw, err := g.post(ctx, body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("model not found (404) at %s, check that %s exists and is accessible with the token", g.endpoint, g.model)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("HTTP error %d when calling model endpoint: %s", resp.StatusCode, truncate(string(raw), 256))
	}

	text, err := parseGeneratedText(raw)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("Inference response received", zap.Int("chars", len(text)))
	return fromText(text, g.model)
}

// Check probes the model endpoint with an empty-ish request.
func (g *HuggingFaceGenerator) Check(ctx context.Context) ModelStatus {
	body, _ := json.Marshal(hfRequest{Inputs: "ping", Parameters: hfParameters{MaxNewTokens: 1}})
	resp, _, err := g.post(ctx, body)
	if err != nil {
		return ModelStatus{Detail: fmt.Sprintf("Failed to reach inference API: %v", err)}
	}
	if resp.StatusCode == http.StatusOK {
		return ModelStatus{OK: true, StatusCode: resp.StatusCode, Detail: fmt.Sprintf("%s is reachable", g.model)}
	}
	return ModelStatus{StatusCode: resp.StatusCode, Detail: fmt.Sprintf("Model %s returned HTTP %d", g.model, resp.StatusCode)}
}

func (g *HuggingFaceGenerator) post(ctx context.Context, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.token)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read inference response: %w", err)
	}
	return resp, raw, nil
}

// parseGeneratedText accepts both the list and the object response shapes.
func parseGeneratedText(raw []byte) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []hfGeneration
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return "", fmt.Errorf("failed to decode inference response: %w", err)
		}
		if len(list) == 0 {
			return "", ErrEmptyReport
		}
		return list[0].GeneratedText, nil
	}

	var single hfGeneration
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return "", fmt.Errorf("failed to decode inference response: %w", err)
	}
	if single.Error != "" {
		return "", fmt.Errorf("inference error: %s", single.Error)
	}
	return single.GeneratedText, nil
}

var (
	_ Generator = (*HuggingFaceGenerator)(nil)
	_ Checker   = (*HuggingFaceGenerator)(nil)
)
