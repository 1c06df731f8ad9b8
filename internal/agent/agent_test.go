package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emachat/ema/internal/llm"
	"github.com/emachat/ema/internal/retry"
	"github.com/emachat/ema/internal/tools"
	"github.com/emachat/ema/pkg/models"
)

type scriptedTool struct {
	name    string
	execute func(ctx context.Context, args map[string]any) models.ToolResult
}

func (t *scriptedTool) Name() string        { return t.name }
func (t *scriptedTool) Description() string { return "test tool" }
func (t *scriptedTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (t *scriptedTool) Execute(ctx context.Context, args map[string]any) models.ToolResult {
	return t.execute(ctx, args)
}

func newState(systemPrompt, userText string, ts ...tools.Tool) *State {
	registry, err := tools.NewRegistry(ts...)
	if err != nil {
		panic(err)
	}
	var messages []models.Message
	if userText != "" {
		messages = append(messages, models.NewUserTextMessage(userText))
	}
	return &State{SystemPrompt: systemPrompt, Messages: messages, Tools: registry}
}

func runFinishedEvents(events []models.AgentEvent) []*models.RunFinishedPayload {
	var out []*models.RunFinishedPayload
	for _, ev := range events {
		if ev.Type == models.AgentEventRunFinished {
			out = append(out, ev.Run)
		}
	}
	return out
}

func TestRun_SimpleReplyNoTools(t *testing.T) {
	stub := llm.NewStubClient(llm.TextResponse("Hello.", "stop", 10))
	a := New(stub, Config{MaxSteps: 5})

	state := newState("Be brief.", "Hi")
	if err := a.Run(context.Background(), state); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	finished := runFinishedEvents(a.Events().Events())
	if len(finished) != 1 {
		t.Fatalf("runFinished count = %d, want 1", len(finished))
	}
	if !finished[0].OK || finished[0].Msg != "stop" {
		t.Errorf("runFinished = %+v", finished[0])
	}

	last := state.Messages[len(state.Messages)-1]
	if last.Role != models.RoleModel || last.Text() != "Hello." {
		t.Errorf("history tail = %+v", last)
	}
	if stub.Requests[0].System != "Be brief." {
		t.Errorf("system prompt = %q", stub.Requests[0].System)
	}
}

func TestRun_OneToolThenReply(t *testing.T) {
	stub := llm.NewStubClient(
		llm.ToolCallResponse("", 20, models.ToolCall{ID: "c1", Name: "add", Args: map[string]any{"a": float64(2), "b": float64(3)}}),
		llm.TextResponse("Five.", "stop", 30),
	)
	add := &scriptedTool{name: "add", execute: func(ctx context.Context, args map[string]any) models.ToolResult {
		return models.SucceededResult("5")
	}}
	a := New(stub, Config{MaxSteps: 5})

	state := newState("", "What is 2+3?", add)
	if err := a.Run(context.Background(), state); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	n := len(state.Messages)
	if n < 3 {
		t.Fatalf("history too short: %d", n)
	}
	turn1, toolMsg, turn2 := state.Messages[n-3], state.Messages[n-2], state.Messages[n-1]
	if turn1.Role != models.RoleModel || len(turn1.ToolCalls) != 1 {
		t.Errorf("turn1 = %+v", turn1)
	}
	if toolMsg.Role != models.RoleTool || toolMsg.ToolCallID != "c1" || toolMsg.ToolName != "add" {
		t.Errorf("tool message = %+v", toolMsg)
	}
	if toolMsg.Result == nil || !toolMsg.Result.Success || toolMsg.Result.Content != "5" {
		t.Errorf("tool result = %+v", toolMsg.Result)
	}
	if turn2.Role != models.RoleModel || turn2.Text() != "Five." {
		t.Errorf("turn2 = %+v", turn2)
	}

	finished := runFinishedEvents(a.Events().Events())
	if len(finished) != 1 || !finished[0].OK {
		t.Errorf("runFinished = %+v", finished)
	}
}

func TestRun_UnknownToolContinues(t *testing.T) {
	stub := llm.NewStubClient(
		llm.ToolCallResponse("", 20, models.ToolCall{ID: "c1", Name: "nope", Args: map[string]any{}}),
		llm.TextResponse("sorry", "stop", 30),
	)
	a := New(stub, Config{MaxSteps: 5})

	state := newState("", "do the thing")
	if err := a.Run(context.Background(), state); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var toolMsg *models.Message
	for i := range state.Messages {
		if state.Messages[i].Role == models.RoleTool {
			toolMsg = &state.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("history should contain the synthesised tool failure")
	}
	if toolMsg.Result.Success || toolMsg.Result.Error != "Unknown tool: nope" {
		t.Errorf("result = %+v", toolMsg.Result)
	}

	finished := runFinishedEvents(a.Events().Events())
	if len(finished) != 1 || !finished[0].OK {
		t.Errorf("runFinished = %+v", finished)
	}
}

func TestRun_AbortDuringLLMCall(t *testing.T) {
	stub := llm.NewStubClient()
	stub.GenerateFunc = func(ctx context.Context, req *llm.Request) (*models.LLMResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	a := New(stub, Config{MaxSteps: 5})
	state := newState("", "Hi")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.Run(context.Background(), state); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()

	waitUntil(t, a.Running)
	a.Abort()
	<-done

	finished := runFinishedEvents(a.Events().Events())
	if len(finished) != 1 {
		t.Fatalf("runFinished count = %d, want 1", len(finished))
	}
	if finished[0].OK || finished[0].Msg != "Aborted" {
		t.Errorf("runFinished = %+v", finished[0])
	}
	for _, msg := range state.Messages {
		if msg.Role == models.RoleModel {
			t.Error("history must not contain a model message for the aborted turn")
		}
	}

	events := a.Events().Events()
	if events[len(events)-1].Type != models.AgentEventRunFinished {
		t.Error("no events may follow runFinished")
	}
}

func TestRun_AbortBetweenToolCalls(t *testing.T) {
	a := New(nil, Config{MaxSteps: 5})

	slow := &scriptedTool{name: "slow", execute: func(ctx context.Context, args map[string]any) models.ToolResult {
		a.Abort()
		return models.SucceededResult("done anyway")
	}}

	stub := llm.NewStubClient(
		llm.ToolCallResponse("", 20,
			models.ToolCall{ID: "c1", Name: "slow", Args: map[string]any{}},
			models.ToolCall{ID: "c2", Name: "slow", Args: map[string]any{}},
		),
	)
	a.llm = stub

	state := newState("", "Hi", slow)
	if err := a.Run(context.Background(), state); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	finished := runFinishedEvents(a.Events().Events())
	if len(finished) != 1 || finished[0].Msg != "Aborted" {
		t.Fatalf("runFinished = %+v", finished)
	}

	// First call completed and was appended; the second never ran.
	toolMessages := 0
	for _, msg := range state.Messages {
		if msg.Role == models.RoleTool {
			toolMessages++
		}
	}
	if toolMessages != 1 {
		t.Errorf("tool messages = %d, want 1", toolMessages)
	}
}

func TestRun_MaxStepsExhausted(t *testing.T) {
	echo := &scriptedTool{name: "echo", execute: func(ctx context.Context, args map[string]any) models.ToolResult {
		return models.SucceededResult("again")
	}}
	stub := llm.NewStubClient(
		llm.ToolCallResponse("", 20, models.ToolCall{ID: "c", Name: "echo", Args: map[string]any{}}),
	)
	a := New(stub, Config{MaxSteps: 3})

	state := newState("", "loop forever", echo)
	if err := a.Run(context.Background(), state); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	finished := runFinishedEvents(a.Events().Events())
	if len(finished) != 1 {
		t.Fatalf("runFinished count = %d, want 1", len(finished))
	}
	if finished[0].OK || finished[0].Msg != "Task couldn't be completed after 3 steps." {
		t.Errorf("runFinished = %+v", finished[0])
	}
	if stub.Calls() != 3 {
		t.Errorf("llm calls = %d, want 3", stub.Calls())
	}
}

func TestRun_RetryExhaustedSurfacesAttempts(t *testing.T) {
	failing := llm.NewStubClient()
	cause := errors.New("backend down")
	for i := 0; i < 2; i++ {
		failing.FailWith(i, cause)
	}
	client := llm.NewRetryingClient(failing, retry.Config{
		Enabled:      true,
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Factor:       2.0,
	}, nil)
	a := New(client, Config{MaxSteps: 5})

	state := newState("", "Hi")
	if err := a.Run(context.Background(), state); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	finished := runFinishedEvents(a.Events().Events())
	if len(finished) != 1 {
		t.Fatalf("runFinished count = %d, want 1", len(finished))
	}
	if finished[0].OK || finished[0].Msg != "RetryExhausted" {
		t.Errorf("runFinished = %+v", finished[0])
	}
	if !strings.Contains(finished[0].Error, "2 attempts") {
		t.Errorf("error should carry the attempt count, got %q", finished[0].Error)
	}
}

func TestRun_EmaReplyInterception(t *testing.T) {
	stub := llm.NewStubClient(
		llm.ToolCallResponse("", 20, models.ToolCall{
			ID:   "c1",
			Name: tools.EmaReplyName,
			Args: map[string]any{
				"think":      "greet back",
				"expression": "smile",
				"action":     "wave",
				"response":   "Hello there!",
			},
		}),
		llm.TextResponse("", "stop", 30),
	)
	a := New(stub, Config{MaxSteps: 5})

	state := newState("", "Hi", tools.NewEmaReplyTool())
	if err := a.Run(context.Background(), state); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var replies []*models.EmaReply
	for _, ev := range a.Events().Events() {
		if ev.Type == models.AgentEventEmaReply {
			replies = append(replies, ev.Reply)
		}
	}
	if len(replies) != 1 {
		t.Fatalf("emaReplyReceived count = %d, want 1", len(replies))
	}
	if replies[0].Response != "Hello there!" {
		t.Errorf("reply = %+v", replies[0])
	}

	var toolMsg *models.Message
	for i := range state.Messages {
		if state.Messages[i].Role == models.RoleTool {
			toolMsg = &state.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("tool message should be appended")
	}
	if toolMsg.Result.Content != "" {
		t.Errorf("tool message content should be withheld from history, got %q", toolMsg.Result.Content)
	}
	if !toolMsg.Result.Success {
		t.Error("tool message should remain a success")
	}
}

func TestRun_RejectsConcurrentRuns(t *testing.T) {
	stub := llm.NewStubClient()
	stub.GenerateFunc = func(ctx context.Context, req *llm.Request) (*models.LLMResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	a := New(stub, Config{MaxSteps: 5})
	state := newState("", "Hi")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(context.Background(), state)
	}()
	waitUntil(t, a.Running)

	if err := a.Run(context.Background(), newState("", "again")); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}

	a.Abort()
	<-done
}

func TestRun_ParentContextCancelAborts(t *testing.T) {
	stub := llm.NewStubClient()
	stub.GenerateFunc = func(ctx context.Context, req *llm.Request) (*models.LLMResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	a := New(stub, Config{MaxSteps: 5})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx, newState("", "Hi"))
	}()
	waitUntil(t, a.Running)
	cancel()
	<-done

	finished := runFinishedEvents(a.Events().Events())
	if len(finished) != 1 || finished[0].Msg != "Aborted" {
		t.Errorf("runFinished = %+v", finished)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
