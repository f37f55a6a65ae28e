package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"shiporacle/config"

	"go.uber.org/zap"
)

// Report is the generator's answer for one event description.
type Report struct {
	Summary         string
	ConfidenceScore int
	Model           string
	Raw             string
	Degraded        bool
}

// Generator turns an event description into a Report or fails explicitly.
type Generator interface {
	Generate(ctx context.Context, eventDescription string) (*Report, error)
	Model() string
}

// ModelStatus is the result of a generator availability probe.
type ModelStatus struct {
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	Detail     string `json:"body"`
}

// Checker is implemented by generators that can probe their backend.
type Checker interface {
	Check(ctx context.Context) ModelStatus
}

var (
	// ErrMissingConfidence means the generated text carried no confidence score.
	ErrMissingConfidence = errors.New("generated report has no confidence score")
	// ErrEmptyReport means the backend answered with no text.
	ErrEmptyReport = errors.New("generator returned an empty report")
)

const systemMessage = "You are a logistics AI assistant. Analyze the supply chain event and provide a structured report."

const promptTemplate = `Analyze this supply chain event and provide a detailed report. End your analysis with a confidence score.

EVENT: %s

Format your response exactly as follows:

SUMMARY:
[Provide a brief overview]
Severity: [Low/Medium/High]

IMPACT ANALYSIS:
- Delay Duration: [Specify expected delays]
- Cost Impact: [Estimate financial impact]
- Affected Areas: [List affected operations]

RECOMMENDED ACTIONS:
1. [Most urgent action]
2. [Second priority]
3. [Additional step if needed]

End your response with one line showing your confidence score like this:
Confidence: [X] (where X is a number between 0-100)`

// Prompt renders the report prompt for an event.
func Prompt(eventDescription string) string {
	return fmt.Sprintf(promptTemplate, eventDescription)
}

// Checked in order, first match wins.
var confidencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)confidence\s*score\s*(?:of|:)?\s*\[?\s*(-?\d+)`),
	regexp.MustCompile(`(?i)confidence\s*:?\s*\[?\s*(-?\d+)`),
	regexp.MustCompile(`(?i)(-?\d+)\s*%\s*confiden`),
	regexp.MustCompile(`(?i)(-?\d+)\s*%\s*certain`),
	regexp.MustCompile(`(?i)score\s*:?\s*(-?\d+)\s*%`),
}

// ParseConfidence extracts the confidence score from generated text. The value
// is returned unclamped; range checks belong to the caller.
func ParseConfidence(text string) (int, error) {
	for _, pattern := range confidencePatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		score, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, fmt.Errorf("unparseable confidence score %q: %w", match[1], err)
		}
		return score, nil
	}
	return 0, ErrMissingConfidence
}

// fromText builds a Report from raw generated text.
func fromText(text, model string) (*Report, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyReport
	}
	score, err := ParseConfidence(text)
	if err != nil {
		return nil, err
	}
	return &Report{Summary: text, ConfidenceScore: score, Model: model, Raw: text}, nil
}

// New builds the generator selected by cfg.LLMType.
func New(cfg config.GeneratorConfig, logger *zap.Logger) (Generator, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		logger.Warn("Invalid generator timeout, using default 5m", zap.String("timeout", cfg.Timeout))
		timeout = 5 * time.Minute
	}
	client := &http.Client{Timeout: timeout}

	switch cfg.LLMType {
	case "local", "":
		return NewOllamaGenerator(cfg.LocalURL, cfg.LocalModel, cfg.MaxTokens, cfg.Temperature, client, logger), nil
	case "huggingface":
		if cfg.HuggingFaceToken == "" {
			return nil, fmt.Errorf("huggingface generator requires an API token")
		}
		return NewHuggingFaceGenerator(cfg.HuggingFaceURL, cfg.HuggingFaceModel, cfg.HuggingFaceToken,
			cfg.HuggingFaceMaxTokens, cfg.HuggingFaceTemperature, client, logger), nil
	case "mock":
		return Fixed{}, nil
	default:
		return nil, fmt.Errorf("unsupported generator type: %s", cfg.LLMType)
	}
}
