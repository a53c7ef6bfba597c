// internal/ai/openai.go
package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

var (
	ErrInvalidInput     = errors.New("invalid completion input")
	ErrGenerationFailed = errors.New("generation failed")
)

// GenerationError wraps a provider-side failure. It matches both
// ErrGenerationFailed and the underlying cause under errors.Is.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return "generation failed: " + e.Err.Error()
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrGenerationFailed, e.Err}
}

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "openai/gpt-4o-mini"
	DefaultTimeout = 20 * time.Second
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	Model       string // empty selects the service default
}

type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	SiteURL        string
	AppTitle       string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

type AIService struct {
	client         *openai.Client
	model          string
	embeddingModel openai.EmbeddingModel
	timeout        time.Duration
}

// NewAIService builds a client for an OpenAI-compatible API. Without an API key
// the service runs in stub mode and echoes the last user message.
func NewAIService(opts Options) *AIService {
	ai := &AIService{
		model:          opts.Model,
		embeddingModel: openai.EmbeddingModel(opts.EmbeddingModel),
		timeout:        opts.Timeout,
	}
	if ai.model == "" {
		ai.model = DefaultModel
	}
	if ai.embeddingModel == "" {
		ai.embeddingModel = openai.AdaEmbeddingV2
	}
	if ai.timeout <= 0 {
		ai.timeout = DefaultTimeout
	}
	if opts.APIKey == "" {
		return ai
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = opts.BaseURL
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	cfg.HTTPClient = &http.Client{
		Transport: &headerTransport{
			base: transport,
			headers: map[string]string{
				"HTTP-Referer": opts.SiteURL,
				"X-Title":      opts.AppTitle,
			},
		},
		Timeout: base.Timeout,
	}

	ai.client = openai.NewClientWithConfig(cfg)
	return ai
}

// Configured reports whether a provider credential is present.
func (ai *AIService) Configured() bool {
	return ai.client != nil
}

func (ai *AIService) ChatCompletion(ctx context.Context, req CompletionRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("%w: no messages", ErrInvalidInput)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != openai.ChatMessageRoleUser {
		return "", fmt.Errorf("%w: last message must be from user", ErrInvalidInput)
	}

	if ai.client == nil {
		return "AI (stub): " + last.Content, nil
	}

	model := req.Model
	if model == "" {
		model = ai.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	ctx, cancel := context.WithTimeout(ctx, ai.timeout)
	defer cancel()

	resp, err := ai.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature(req.Temperature),
	})
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &GenerationError{Err: errors.New("no choices in completion")}
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &GenerationError{Err: errors.New("no content in completion")}
	}
	return content, nil
}

// temperature maps [0,1] onto the request field. go-openai drops a zero
// temperature from the payload, so zero is sent as the smallest positive value.
func temperature(t float64) float32 {
	switch {
	case t <= 0:
		return math.SmallestNonzeroFloat32
	case t > 1:
		return 1
	}
	return float32(t)
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}
