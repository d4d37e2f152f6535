// Package restapi is the chat client's HTTP client for conversation CRUD.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taho-ai/streamchat/internal/apperr"
	"github.com/taho-ai/streamchat/internal/model"
	"github.com/taho-ai/streamchat/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// Error is a non-2xx reply from the API.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Detail)
}

// Unwrap maps the status code onto the shared sentinel errors.
func (e *Error) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return apperr.ErrNotFound
	case e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity:
		return apperr.ErrValidation
	case e.StatusCode == http.StatusConflict:
		return apperr.ErrConflict
	case e.StatusCode >= 500:
		return apperr.ErrUpstream
	default:
		return apperr.ErrInternal
	}
}

// Client talks to the chat server's REST endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// New creates a client for baseURL. A nil httpClient uses a 30s timeout.
func New(baseURL string, httpClient *http.Client, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.OrNop(log).Named("restapi"),
	}
}

// CreateConversation creates a conversation. A blank title gets the server default.
func (c *Client) CreateConversation(ctx context.Context, title string) (*model.Conversation, error) {
	var conv model.Conversation
	err := c.do(ctx, http.MethodPost, "/conversations", model.CreateConversationRequest{Title: title}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversation fetches a conversation with its messages.
func (c *Client) GetConversation(ctx context.Context, id int64) (*model.Conversation, error) {
	var conv model.Conversation
	if err := c.do(ctx, http.MethodGet, conversationPath(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// UpdateTitle renames a conversation.
func (c *Client) UpdateTitle(ctx context.Context, id int64, title string) (*model.Conversation, error) {
	var conv model.Conversation
	err := c.do(ctx, http.MethodPut, conversationPath(id)+"/title", model.UpdateTitleRequest{Title: title}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation deletes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, conversationPath(id), nil, nil)
}

// ListConversations lists conversation summaries, most recent first.
func (c *Client) ListConversations(ctx context.Context, limit, offset int) ([]model.ConversationSummary, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var list []model.ConversationSummary
	if err := c.do(ctx, http.MethodGet, "/conversations?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func conversationPath(id int64) string {
	return "/conversations/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", apperr.ErrUpstream, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var payload struct {
			Detail string `json:"detail"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &payload) == nil && payload.Detail != "" {
			apiErr.Detail = payload.Detail
		} else {
			apiErr.Detail = strings.TrimSpace(string(raw))
		}
		c.logger.Debug("api request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
