// Package tools defines the tool contract exposed to the agent loop
// and the registry that dispatches tool calls by name.
package tools

import (
	"context"
	"encoding/json"

	"github.com/emachat/ema/pkg/models"
)

// Tool is a callable capability the LLM can invoke by name. Schema
// returns a JSON-schema object describing the arguments. Execute may
// block; the registry shields the caller from panics. The context is
// plumbed through for I/O-bound tools but runs do not cancel it
// mid-execution.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args map[string]any) models.ToolResult
}
