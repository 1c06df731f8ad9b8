package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/emachat/ema/pkg/models"
)

// MemorySearcher is the slice of the memory layer the search tool
// needs. The actor binds it to its own identity before registering
// the tool.
type MemorySearcher interface {
	Search(ctx context.Context, keywords []string) ([]models.LongTermMemory, error)
}

var memorySearchSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"keywords": {
			"type": "array",
			"items": {"type": "string"},
			"minItems": 1,
			"description": "Keywords to look up in long-term memory."
		}
	},
	"required": ["keywords"]
}`)

// MemorySearchTool lets the LLM query long-term memory by keyword.
type MemorySearchTool struct {
	searcher MemorySearcher
}

// NewMemorySearchTool wraps a searcher in the tool contract.
func NewMemorySearchTool(searcher MemorySearcher) *MemorySearchTool {
	return &MemorySearchTool{searcher: searcher}
}

func (t *MemorySearchTool) Name() string {
	return "memory_search"
}

func (t *MemorySearchTool) Description() string {
	return "Search long-term memory by keywords. Returns matching memory entries, most recent first."
}

func (t *MemorySearchTool) Schema() json.RawMessage {
	return memorySearchSchema
}

// Execute runs the keyword search and renders matches one per line.
func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]any) models.ToolResult {
	raw, _ := args["keywords"].([]any)
	keywords := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			keywords = append(keywords, strings.TrimSpace(s))
		}
	}
	if len(keywords) == 0 {
		return models.FailedResult("memory_search: keywords must contain at least one non-empty string")
	}

	items, err := t.searcher.Search(ctx, keywords)
	if err != nil {
		return models.FailedResult("memory_search: " + err.Error())
	}
	if len(items) == 0 {
		return models.SucceededResult("No memories found.")
	}

	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- [")
		b.WriteString(item.CreatedAt.Format("2006-01-02 15:04:05"))
		b.WriteString("] ")
		b.WriteString(item.Content)
	}
	return models.SucceededResult(b.String())
}
