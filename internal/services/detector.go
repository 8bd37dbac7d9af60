package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrAIUnavailable is returned when the OpenAI integration is not configured.
	ErrAIUnavailable = errors.New("openai integration is not configured")
	// ErrNotWordList means the model reply was valid JSON but not an array.
	ErrNotWordList = errors.New("response is not a JSON array")
)

const piiSystemPrompt = "You are a PII detection tool. Return only valid JSON (a list of strings)."

// DetectionOutcome tells whether PII identification produced a usable list.
type DetectionOutcome string

const (
	DetectionOK            DetectionOutcome = "ok"
	DetectionNotConfigured DetectionOutcome = "not_configured"
	DetectionAPIError      DetectionOutcome = "api_error"
	DetectionEmptyResponse DetectionOutcome = "empty_response"
	DetectionParseError    DetectionOutcome = "parse_error"
)

// Detection is the typed result of asking the model for PII words. Words is
// empty whenever Outcome is not DetectionOK.
type Detection struct {
	Words   []string         `json:"words"`
	Outcome DetectionOutcome `json:"outcome"`
	Err     error            `json:"-"`
	Raw     string           `json:"-"`
}

// OK reports whether the model returned a parseable word list.
func (d Detection) OK() bool {
	return d.Outcome == DetectionOK
}

// ErrorMessage returns the failure reason or "".
func (d Detection) ErrorMessage() string {
	if d.Err == nil {
		return ""
	}
	return d.Err.Error()
}

// Detector identifies which words of an OCR transcript are PII.
type Detector interface {
	Detect(ctx context.Context, allText string) Detection
}

// AIService asks an OpenAI-compatible chat model for the PII words of a text.
type AIService struct {
	client     *openai.Client
	model      string
	categories []string
	timeout    time.Duration
}

// NewAIService builds the detector. An empty apiKey yields a service whose
// Detect always reports DetectionNotConfigured.
func NewAIService(apiKey, model, apiEndpoint string, categories []string, timeout time.Duration) *AIService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	svc := &AIService{model: model, categories: categories, timeout: timeout}
	if apiKey == "" {
		return svc
	}

	cfg := openai.DefaultConfig(apiKey)
	if apiEndpoint != "" {
		cfg.BaseURL = apiEndpoint
	}
	svc.client = openai.NewClientWithConfig(cfg)
	return svc
}

func (s *AIService) disabled() bool {
	return s.client == nil || s.model == ""
}

// Detect never returns an error: every failure is folded into the Detection
// outcome so the caller can apply its failure policy.
func (s *AIService) Detect(ctx context.Context, allText string) Detection {
	if s.disabled() {
		return Detection{Outcome: DetectionNotConfigured, Err: ErrAIUnavailable}
	}

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: piiSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPIIPrompt(allText, s.categories),
			},
		},
		// The field is omitempty, so a literal 0 would fall back to the API default of 1.
		Temperature: math.SmallestNonzeroFloat32,
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Detection{Outcome: DetectionAPIError, Err: fmt.Errorf("request openai pii words: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return Detection{Outcome: DetectionEmptyResponse, Err: errors.New("openai returned no choices")}
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if raw == "" {
		return Detection{Outcome: DetectionEmptyResponse, Err: errors.New("openai returned empty content")}
	}

	words, err := ParseWordList(raw)
	if err != nil {
		return Detection{Outcome: DetectionParseError, Err: err, Raw: raw}
	}
	return Detection{Words: words, Outcome: DetectionOK, Raw: raw}
}

func buildPIIPrompt(allText string, categories []string) string {
	if len(categories) == 0 {
		categories = []string{"names", "addresses", "phone numbers"}
	}

	var builder strings.Builder
	builder.WriteString("Here is extracted text from an invoice:\n\n")
	builder.WriteString(allText)
	builder.WriteString("\n\nIdentify which parts are sensitive PII (like ")
	builder.WriteString(strings.Join(categories, ", "))
	builder.WriteString(").\n\n")
	builder.WriteString(`Return only a JSON list of exact words to mask. Example: ["28510500", "Altoona", "104.67"]`)
	return builder.String()
}

// stripCodeFence removes a leading ``` marker with an optional json tag and a
// trailing ``` marker. Text without a leading fence is returned trimmed.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}

	content = content[3:]
	if len(content) >= 4 && strings.EqualFold(content[:4], "json") {
		content = content[4:]
	}
	content = strings.TrimSpace(content)
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// ParseWordList parses a model reply into the list of words to mask.
// Non-string array elements are dropped since they can never equal OCR text.
func ParseWordList(content string) ([]string, error) {
	body := stripCodeFence(content)

	var items []any
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil, fmt.Errorf("unmarshal pii word list: %w", err)
	}
	if items == nil {
		return nil, ErrNotWordList
	}

	words := make([]string, 0, len(items))
	for _, item := range items {
		if word, ok := item.(string); ok {
			words = append(words, word)
		}
	}
	return words, nil
}
