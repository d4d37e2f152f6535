package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/taho-ai/streamchat/pkg/logger"
)

// RetryClient retries a provider call that fails before any token has been
// delivered. Once a token reaches the callback the stream cannot be replayed,
// so later failures are returned as-is.
type RetryClient struct {
	next       Client
	maxRetries int
	initial    time.Duration
	logger     *logger.Logger
}

// NewRetryClient wraps next with up to maxRetries retries using exponential
// backoff starting at initial.
func NewRetryClient(next Client, maxRetries int, initial time.Duration, log *logger.Logger) *RetryClient {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if initial <= 0 {
		initial = time.Second
	}
	return &RetryClient{
		next:       next,
		maxRetries: maxRetries,
		initial:    initial,
		logger:     logger.OrNop(log),
	}
}

// Name returns the wrapped provider name.
func (c *RetryClient) Name() string {
	return c.next.Name()
}

// Models returns the wrapped provider's models.
func (c *RetryClient) Models() []string {
	return c.next.Models()
}

func (c *RetryClient) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = 10 * c.initial
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

func (c *RetryClient) notify(err error, wait time.Duration) {
	c.logger.Warn("LLM request failed, retrying",
		zap.String("provider", c.next.Name()),
		zap.Duration("wait", wait),
		zap.Error(err),
	)
}

// Complete sends a completion request, retrying transient failures.
func (c *RetryClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	var resp *CompletionResponse
	op := func() error {
		out, err := c.next.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = out
		return nil
	}

	if err := backoff.RetryNotify(op, c.policy(ctx), c.notify); err != nil {
		return nil, err
	}
	return resp, nil
}

// CompleteStream sends a streaming request, retrying only until the first token.
func (c *RetryClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	var resp *CompletionResponse
	op := func() error {
		started := false
		out, err := c.next.CompleteStream(ctx, req, func(token string, index int) error {
			started = true
			return callback(token, index)
		})
		if err != nil {
			if started || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = out
		return nil
	}

	if err := backoff.RetryNotify(op, c.policy(ctx), c.notify); err != nil {
		return nil, err
	}
	return resp, nil
}
