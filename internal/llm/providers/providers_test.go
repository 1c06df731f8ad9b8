package providers

import (
	"context"
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/emachat/ema/internal/llm"
	"github.com/emachat/ema/pkg/models"
)

var weatherSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"city": {"type": "string"}
	},
	"required": ["city"]
}`)

func sampleHistory() []models.Message {
	return []models.Message{
		models.NewUserTextMessage("What's the weather in Paris?"),
		models.NewModelMessage(
			[]models.Content{models.TextContent("Let me check.")},
			[]models.ToolCall{{ID: "call-1", Name: "get_weather", Args: map[string]any{"city": "Paris"}}},
		),
		models.NewToolMessage(models.SucceededResult("18C, sunny"), "get_weather", "call-1"),
	}
}

func TestOpenAIGenerate_RequiresAPIKey(t *testing.T) {
	client := NewOpenAIClient("", "gpt-4o")
	_, err := client.Generate(context.Background(), &llm.Request{})
	if err == nil {
		t.Fatal("Generate() without API key should fail")
	}
}

func TestConvertMessagesToOpenAI(t *testing.T) {
	result := convertMessagesToOpenAI("You are helpful.", sampleHistory())

	if len(result) != 4 {
		t.Fatalf("got %d messages, want 4", len(result))
	}

	if result[0].Role != openai.ChatMessageRoleSystem || result[0].Content != "You are helpful." {
		t.Errorf("system message = %+v", result[0])
	}
	if result[1].Role != openai.ChatMessageRoleUser {
		t.Errorf("role[1] = %q, want user", result[1].Role)
	}

	assistant := result[2]
	if assistant.Role != openai.ChatMessageRoleAssistant {
		t.Fatalf("role[2] = %q, want assistant", assistant.Role)
	}
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(assistant.ToolCalls))
	}
	tc := assistant.ToolCalls[0]
	if tc.ID != "call-1" || tc.Function.Name != "get_weather" {
		t.Errorf("tool call = %+v", tc)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		t.Fatalf("arguments are not valid JSON: %v", err)
	}
	if args["city"] != "Paris" {
		t.Errorf("args = %v", args)
	}

	toolMsg := result[3]
	if toolMsg.Role != openai.ChatMessageRoleTool || toolMsg.ToolCallID != "call-1" {
		t.Errorf("tool message = %+v", toolMsg)
	}
	if toolMsg.Content == "" {
		t.Error("tool message content should carry the result JSON")
	}
}

func TestConvertMessagesToOpenAI_NoSystem(t *testing.T) {
	result := convertMessagesToOpenAI("", []models.Message{models.NewUserTextMessage("hi")})
	if len(result) != 1 {
		t.Fatalf("got %d messages, want 1", len(result))
	}
	if result[0].Role != openai.ChatMessageRoleUser {
		t.Errorf("role = %q, want user", result[0].Role)
	}
}

func TestConvertToolsToOpenAI(t *testing.T) {
	tools := convertToolsToOpenAI([]llm.ToolSchema{
		{Name: "get_weather", Description: "Current weather for a city.", Parameters: weatherSchema},
	})
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}
	if tools[0].Type != openai.ToolTypeFunction {
		t.Errorf("type = %q, want function", tools[0].Type)
	}
	if tools[0].Function.Name != "get_weather" {
		t.Errorf("name = %q", tools[0].Function.Name)
	}
}

func TestAnthropicGenerate_RequiresAPIKey(t *testing.T) {
	client := NewAnthropicClient("", "claude-sonnet-4-20250514")
	_, err := client.Generate(context.Background(), &llm.Request{})
	if err == nil {
		t.Fatal("Generate() without API key should fail")
	}
}

func TestConvertMessagesToAnthropic(t *testing.T) {
	result, err := convertMessagesToAnthropic(sampleHistory())
	if err != nil {
		t.Fatalf("convertMessagesToAnthropic() error = %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("got %d messages, want 3", len(result))
	}

	// Tool results travel as user turns.
	if result[0].Role != "user" || result[1].Role != "assistant" || result[2].Role != "user" {
		t.Errorf("roles = %q %q %q", result[0].Role, result[1].Role, result[2].Role)
	}

	assistant := result[1]
	if len(assistant.Content) != 2 {
		t.Fatalf("assistant has %d content blocks, want text + tool_use", len(assistant.Content))
	}
}

func TestConvertMessagesToAnthropic_ToolMessageWithoutCallID(t *testing.T) {
	_, err := convertMessagesToAnthropic([]models.Message{
		models.NewToolMessage(models.SucceededResult("ok"), "get_weather", ""),
	})
	if err == nil {
		t.Fatal("expected error for tool message with no call ID")
	}
}

func TestConvertMessagesToAnthropic_SkipsEmptyMessages(t *testing.T) {
	result, err := convertMessagesToAnthropic([]models.Message{
		{Role: models.RoleUser},
		models.NewUserTextMessage("hello"),
	})
	if err != nil {
		t.Fatalf("convertMessagesToAnthropic() error = %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("got %d messages, want 1", len(result))
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools, err := convertToolsToAnthropic([]llm.ToolSchema{
		{Name: "get_weather", Description: "Current weather for a city.", Parameters: weatherSchema},
	})
	if err != nil {
		t.Fatalf("convertToolsToAnthropic() error = %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}
	if tools[0].OfTool == nil {
		t.Fatal("tool union should carry a plain tool definition")
	}
	if tools[0].OfTool.Name != "get_weather" {
		t.Errorf("name = %q", tools[0].OfTool.Name)
	}
}

func TestConvertToolsToAnthropic_InvalidSchema(t *testing.T) {
	_, err := convertToolsToAnthropic([]llm.ToolSchema{
		{Name: "broken", Parameters: json.RawMessage(`{not json`)},
	})
	if err == nil {
		t.Fatal("expected error for malformed schema")
	}
}
