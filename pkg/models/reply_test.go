package models

import (
	"strings"
	"testing"
)

func TestParseEmaReply_Valid(t *testing.T) {
	data := []byte(`{"think":"the user greeted me","expression":"smile","action":"wave","response":"Hello!"}`)

	reply, err := ParseEmaReply(data)
	if err != nil {
		t.Fatalf("ParseEmaReply() error = %v", err)
	}
	if reply.Expression != ExpressionSmile {
		t.Errorf("Expression = %q, want %q", reply.Expression, ExpressionSmile)
	}
	if reply.Action != ActionWave {
		t.Errorf("Action = %q, want %q", reply.Action, ActionWave)
	}
	if reply.Response != "Hello!" {
		t.Errorf("Response = %q, want %q", reply.Response, "Hello!")
	}
}

func TestParseEmaReply_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty think", `{"think":"  ","expression":"neutral","action":"none","response":"hi"}`, "think"},
		{"empty response", `{"think":"x","expression":"neutral","action":"none","response":""}`, "response"},
		{"bad expression", `{"think":"x","expression":"angry","action":"none","response":"hi"}`, "expression"},
		{"bad action", `{"think":"x","expression":"neutral","action":"dance","response":"hi"}`, "action"},
		{"not json", `{`, "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEmaReply([]byte(tt.data))
			if err == nil {
				t.Fatal("ParseEmaReply() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestBufferMessage_PromptLine(t *testing.T) {
	msg := BufferMessage{
		ID:   7,
		Name: "alice",
		Time: 1700000000000,
		Role: BufferRoleUser,
		Text: "hello there",
	}

	line := msg.PromptLine()
	if !strings.HasPrefix(line, "- [") {
		t.Errorf("PromptLine() = %q, want leading timestamp", line)
	}
	for _, part := range []string{"[role:user]", "[id:7]", "[name:alice]", "hello there"} {
		if !strings.Contains(line, part) {
			t.Errorf("PromptLine() = %q, missing %q", line, part)
		}
	}
}

func TestToolResult_Invariants(t *testing.T) {
	ok := SucceededResult("5")
	if !ok.Success || ok.Content != "5" || ok.Error != "" {
		t.Errorf("SucceededResult = %+v", ok)
	}

	bad := FailedResult("boom")
	if bad.Success || bad.Error != "boom" || bad.Content != "" {
		t.Errorf("FailedResult = %+v", bad)
	}
}

func TestMessage_Text(t *testing.T) {
	msg := NewModelMessage([]Content{TextContent("a"), TextContent("b")}, nil)
	if got := msg.Text(); got != "ab" {
		t.Errorf("Text() = %q, want %q", got, "ab")
	}
}
