package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to OpenAI or any OpenAI-compatible endpoint such as Groq.
type OpenAIClient struct {
	client   *openai.Client
	name     string
	defaults Defaults
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string, defaults Defaults, timeout time.Duration) (*OpenAIClient, error) {
	return NewOpenAICompatibleClient("openai", apiKey, "", defaults, timeout)
}

// NewOpenAICompatibleClient creates a client for an OpenAI-compatible API at
// baseURL. An empty baseURL targets OpenAI itself.
func NewOpenAICompatibleClient(name, apiKey, baseURL string, defaults Defaults, timeout time.Duration) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New(name + " API key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}

	return &OpenAIClient{
		client:   openai.NewClientWithConfig(cfg),
		name:     name,
		defaults: defaults,
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return c.name
}

// Models returns available models.
func (c *OpenAIClient) Models() []string {
	if c.name == "groq" {
		return []string{
			"llama3-70b-8192",
			"llama3-8b-8192",
			"mixtral-8x7b-32768",
			"gemma-7b-it",
		}
	}
	return []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4-turbo",
		"gpt-3.5-turbo",
	}
}

func toOpenAIMessages(in []ChatMessage) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, len(in))
	for i, msg := range in {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return messages
}

// Complete sends a completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	r := c.defaults.apply(req)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.Model,
		Messages:    toOpenAIMessages(r.Messages),
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
	})
	if err != nil {
		return nil, err
	}

	var content, stopReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		stopReason = string(resp.Choices[0].FinishReason)
	}

	return &CompletionResponse{
		Content:    content,
		Model:      resp.Model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// CompleteStream sends a streaming completion request.
func (c *OpenAIClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()
	r := c.defaults.apply(req)

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       r.Model,
		Messages:    toOpenAIMessages(r.Messages),
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var content strings.Builder
	var stopReason string
	index := 0

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if len(response.Choices) > 0 {
			delta := response.Choices[0].Delta.Content
			if delta != "" {
				content.WriteString(delta)
				if err := callback(delta, index); err != nil {
					return nil, err
				}
				index++
			}

			if response.Choices[0].FinishReason != "" {
				stopReason = string(response.Choices[0].FinishReason)
			}
		}
	}

	// Streaming responses carry no usage block; estimate from lengths.
	tokensIn := 0
	for _, m := range r.Messages {
		tokensIn += len(m.Content) / 4
	}

	return &CompletionResponse{
		Content:    content.String(),
		Model:      r.Model,
		TokensIn:   tokensIn,
		TokensOut:  content.Len() / 4,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
