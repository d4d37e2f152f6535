// Package mocks provides a testify mock of llm.Client.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/taho-ai/streamchat/internal/llm"
)

// MockClient is a mock implementation of llm.Client.
type MockClient struct {
	mock.Mock
}

// NewMockClient creates a mock and registers expectation assertions on cleanup.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Complete provides a mock function.
func (m *MockClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*llm.CompletionResponse)
	return resp, args.Error(1)
}

// CompleteStream provides a mock function. Tokens returned in the first
// argument as a []string are fed to the callback before returning.
func (m *MockClient) CompleteStream(ctx context.Context, req *llm.CompletionRequest, callback llm.StreamCallback) (*llm.CompletionResponse, error) {
	args := m.Called(ctx, req, callback)
	tokens, _ := args.Get(0).([]string)
	content := ""
	for i, tok := range tokens {
		if err := callback(tok, i); err != nil {
			return nil, err
		}
		content += tok
	}
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: content, Model: "mock"}, nil
}

// Name provides a mock function.
func (m *MockClient) Name() string {
	return "mock"
}

// Models provides a mock function.
func (m *MockClient) Models() []string {
	return []string{"mock"}
}
