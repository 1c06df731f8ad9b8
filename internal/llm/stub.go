package llm

import (
	"context"
	"sync"

	"github.com/emachat/ema/pkg/models"
)

// StubClient replays a scripted sequence of responses. It exists for
// tests and for dry-run wiring; GenerateFunc overrides the script when
// set.
type StubClient struct {
	mu        sync.Mutex
	responses []*models.LLMResponse
	errs      []error
	calls     int

	// GenerateFunc, when non-nil, handles every call.
	GenerateFunc func(ctx context.Context, req *Request) (*models.LLMResponse, error)

	// Requests records every request received, in order.
	Requests []*Request
}

// NewStubClient builds a stub that returns the given responses in
// order. Calls past the end repeat the last response.
func NewStubClient(responses ...*models.LLMResponse) *StubClient {
	return &StubClient{responses: responses}
}

// FailWith schedules an error for the i-th call (0-based) instead of a
// response.
func (s *StubClient) FailWith(i int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.errs) <= i {
		s.errs = append(s.errs, nil)
	}
	s.errs[i] = err
}

// Calls reports how many Generate calls the stub has served.
func (s *StubClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Generate implements Client.
func (s *StubClient) Generate(ctx context.Context, req *Request) (*models.LLMResponse, error) {
	if s.GenerateFunc != nil {
		return s.GenerateFunc(ctx, req)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	call := s.calls
	s.calls++
	s.Requests = append(s.Requests, req)

	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	if len(s.responses) == 0 {
		return &models.LLMResponse{
			Message:      models.NewModelMessage(nil, nil),
			FinishReason: "stop",
		}, nil
	}
	if call >= len(s.responses) {
		call = len(s.responses) - 1
	}
	resp := *s.responses[call]
	return &resp, nil
}

// TextResponse is a convenience constructor for a plain-text terminal
// response.
func TextResponse(text, finishReason string, totalTokens int) *models.LLMResponse {
	return &models.LLMResponse{
		Message:      models.NewModelMessage([]models.Content{models.TextContent(text)}, nil),
		FinishReason: finishReason,
		TotalTokens:  totalTokens,
	}
}

// ToolCallResponse is a convenience constructor for a response that
// requests tool invocations.
func ToolCallResponse(text string, totalTokens int, calls ...models.ToolCall) *models.LLMResponse {
	var contents []models.Content
	if text != "" {
		contents = append(contents, models.TextContent(text))
	}
	return &models.LLMResponse{
		Message:      models.NewModelMessage(contents, calls),
		FinishReason: "tool_calls",
		TotalTokens:  totalTokens,
	}
}
