// Package llm defines the adapter contract between the agent loop and
// concrete LLM backends, plus the retry decoration applied to it.
package llm

import (
	"context"
	"encoding/json"

	"github.com/emachat/ema/pkg/models"
)

// ToolSchema describes one tool to the backend: name, natural-language
// description, and a JSON-schema parameter object.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is a single completion request. System travels separately
// from Messages; history never contains a system entry.
type Request struct {
	System    string
	Messages  []models.Message
	Tools     []ToolSchema
	MaxTokens int
}

// Client is the one-call adapter contract. Implementations translate
// the internal message shapes into the provider wire format and back,
// honour ctx cancellation, and never fail on a response without tool
// calls (that is the normal success terminal).
//
// Implementations must be safe for concurrent use.
type Client interface {
	Generate(ctx context.Context, req *Request) (*models.LLMResponse, error)
}
