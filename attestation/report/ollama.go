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

// OllamaGenerator calls a local Ollama server's chat endpoint.
type OllamaGenerator struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      *zap.Logger
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaChatResponse struct {
	Message  ollamaMessage `json:"message"`
	Response string        `json:"response"`
	Error    string        `json:"error"`
}

// NewOllamaGenerator creates a generator for the Ollama server at baseURL.
func NewOllamaGenerator(baseURL, model string, maxTokens int, temperature float64, client *http.Client, logger *zap.Logger) *OllamaGenerator {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaGenerator{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		client:      client,
		logger:      logger.Named("ollama"),
	}
}

// Model returns the configured model name.
func (g *OllamaGenerator) Model() string { return g.model }

// Generate posts the prompt to /api/chat and parses the answer.
func (g *OllamaGenerator) Generate(ctx context.Context, eventDescription string) (*Report, error) {
	payload := ollamaChatRequest{
		Model: g.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: systemMessage},
			{Role: "user", Content: Prompt(eventDescription)},
		},
		Stream:  false,
		Options: ollamaOptions{Temperature: g.temperature, NumPredict: g.maxTokens},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned HTTP %d: %s", resp.StatusCode, truncate(string(raw), 256))
	}

	var result ollamaChatResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", result.Error)
	}

	text := result.Message.Content
	if text == "" {
		text = result.Response
	}
	g.logger.Debug("Ollama response received", zap.Int("chars", len(text)))

	return fromText(text, g.model)
}

// Check asks Ollama whether the configured model is available.
func (g *OllamaGenerator) Check(ctx context.Context) ModelStatus {
	body, _ := json.Marshal(map[string]string{"name": g.model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return ModelStatus{Detail: fmt.Sprintf("Failed to build Ollama request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return ModelStatus{Detail: fmt.Sprintf("Failed to connect to Ollama API: %v", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		return ModelStatus{OK: true, StatusCode: resp.StatusCode, Detail: fmt.Sprintf("Ollama is running and %s is available", g.model)}
	}
	return ModelStatus{StatusCode: resp.StatusCode, Detail: fmt.Sprintf("Model %s not found or not loaded", g.model)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var (
	_ Generator = (*OllamaGenerator)(nil)
	_ Checker   = (*OllamaGenerator)(nil)
)
