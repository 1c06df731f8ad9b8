// Package models defines the shared data types exchanged between the
// actor runtime, the agent loop, LLM adapters, and memory stores.
package models

import (
	"encoding/json"
	"strings"
)

// ContentType identifies the kind of a Content item.
type ContentType string

const (
	// ContentTypeText is plain text content.
	ContentTypeText ContentType = "text"
)

// Content is a single tagged item inside a message. Only text content
// exists today; the tag leaves room for other kinds.
type Content struct {
	Type ContentType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// TextContent builds a text content item.
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks input from the human side of the conversation.
	RoleUser Role = "user"

	// RoleModel marks an assistant turn produced by the LLM.
	RoleModel Role = "model"

	// RoleTool marks the result of a tool invocation.
	RoleTool Role = "tool"
)

// Message is one entry in a conversation history. The populated fields
// depend on Role:
//
//   - user: Contents
//   - model: Contents plus optional ToolCalls
//   - tool: ToolCallID, ToolName and Result
//
// System prompts are never stored as messages; they travel as a
// separate field on the LLM request.
type Message struct {
	Role       Role       `json:"role"`
	Contents   []Content  `json:"contents,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	Result     *ToolResult `json:"result,omitempty"`
}

// NewUserMessage builds a user message from content items.
func NewUserMessage(contents ...Content) Message {
	return Message{Role: RoleUser, Contents: contents}
}

// NewUserTextMessage builds a user message from a single text item.
func NewUserTextMessage(text string) Message {
	return NewUserMessage(TextContent(text))
}

// NewModelMessage builds an assistant message with optional tool calls.
func NewModelMessage(contents []Content, toolCalls []ToolCall) Message {
	return Message{Role: RoleModel, Contents: contents, ToolCalls: toolCalls}
}

// NewToolMessage builds a tool result message bound to the originating
// call id and tool name.
func NewToolMessage(result ToolResult, name, callID string) Message {
	return Message{Role: RoleTool, Result: &result, ToolName: name, ToolCallID: callID}
}

// Text joins the text parts of the message contents.
func (m Message) Text() string {
	var b strings.Builder
	for _, c := range m.Contents {
		if c.Type == ContentTypeText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// ToolCall is a single tool invocation requested by the LLM. ID is
// unique within one LLM turn; Args conform to the named tool's JSON
// schema.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ArgsJSON serialises the call arguments, returning "{}" when empty or
// unencodable.
func (c ToolCall) ArgsJSON() string {
	if len(c.Args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(c.Args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// ToolResult is the outcome of one tool execution.
//
// Invariant: Success implies Content is set; failure implies Error is
// set.
type ToolResult struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SucceededResult builds a successful tool result.
func SucceededResult(content string) ToolResult {
	return ToolResult{Success: true, Content: content}
}

// FailedResult builds a failed tool result.
func FailedResult(errMsg string) ToolResult {
	return ToolResult{Success: false, Error: errMsg}
}

// JSON serialises the result for wire transport and token accounting.
func (r ToolResult) JSON() string {
	raw, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// LLMResponse is the adapter-normalised outcome of one LLM call.
// TotalTokens is the running cumulative token count the adapter
// reports for the conversation so far; the context manager uses it to
// drive history summarisation.
type LLMResponse struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
	TotalTokens  int     `json:"total_tokens"`
}
