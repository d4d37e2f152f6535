// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/taho-ai/streamchat/internal/apperr"
	"github.com/taho-ai/streamchat/internal/config"
	"github.com/taho-ai/streamchat/pkg/logger"
)

// StreamCallback is called for each token during streaming.
type StreamCallback func(token string, index int) error

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float32
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CompleteStream sends a streaming completion request.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderGroq      Provider = "groq"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Defaults applied to requests that leave fields unset.
type Defaults struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

func (d Defaults) apply(req *CompletionRequest) CompletionRequest {
	out := *req
	if out.Model == "" {
		out.Model = d.Model
	}
	if out.Temperature == 0 {
		out.Temperature = d.Temperature
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = d.MaxTokens
	}
	return out
}

// NewClient creates the configured provider client wrapped with retries.
func NewClient(cfg config.LLMConfig, log *logger.Logger) (Client, error) {
	var (
		client Client
		err    error
	)

	switch Provider(cfg.Provider) {
	case ProviderGroq, "":
		client, err = NewOpenAICompatibleClient("groq", cfg.GroqAPIKey, cfg.GroqBaseURL, Defaults{
			Model:       cfg.GroqModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, cfg.Timeout)
	case ProviderOpenAI:
		client, err = NewOpenAIClient(cfg.OpenAIAPIKey, Defaults{
			Model:       "gpt-4o-mini",
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, cfg.Timeout)
	case ProviderAnthropic:
		client, err = NewAnthropicClient(cfg.AnthropicAPIKey, Defaults{
			Model:       "claude-3-5-haiku-20241022",
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("%w: unknown LLM provider %q", apperr.ErrValidation, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewRetryClient(client, cfg.MaxRetries, time.Second, log), nil
}

// Validate checks that the provider accepts the configured credentials by
// requesting a one-token completion.
func Validate(ctx context.Context, c Client) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := c.Complete(ctx, &CompletionRequest{
		Messages:  []ChatMessage{{Role: "user", Content: "Hello"}},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("%w: %s API key validation failed: %v", apperr.ErrUpstream, c.Name(), err)
	}
	return nil
}
