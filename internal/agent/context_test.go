package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/emachat/ema/internal/llm"
	"github.com/emachat/ema/pkg/models"
)

func userCount(messages []models.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == models.RoleUser {
			n++
		}
	}
	return n
}

func TestEstimateTokens_CountsOverheadAndToolTraffic(t *testing.T) {
	cm := NewContextManager(llm.NewStubClient(), 0, nil, nil, nil)
	cm.AddUser(models.TextContent("hello world"))
	cm.AddModel(&models.LLMResponse{
		Message: models.NewModelMessage(nil, []models.ToolCall{
			{ID: "c1", Name: "add", Args: map[string]any{"a": 1}},
		}),
	})
	cm.AddTool(models.SucceededResult("2"), "add", "c1")

	got := cm.EstimateTokens()
	// Three messages of overhead alone is 12 tokens; text and JSON add more.
	if got <= 3*perMessageOverhead {
		t.Errorf("EstimateTokens() = %d, want more than bare overhead", got)
	}
}

func TestEstimateTokens_FallbackEmitsEventOnce(t *testing.T) {
	emitter := NewEmitter(nil)
	cm := NewContextManager(llm.NewStubClient(), 0, nil, emitter, nil)
	cm.SetEstimator(func(string) (int, error) { return 0, errors.New("tokeniser offline") })
	cm.AddUser(models.TextContent("some input text"))

	if got := cm.EstimateTokens(); got <= 0 {
		t.Errorf("fallback estimate = %d, want > 0", got)
	}
	cm.EstimateTokens()

	fallbacks := 0
	for _, ev := range emitter.Events() {
		if ev.Type == models.AgentEventTokenFallback {
			fallbacks++
		}
	}
	if fallbacks != 1 {
		t.Errorf("fallback events = %d, want 1", fallbacks)
	}
}

func seededHistory() []models.Message {
	history := []models.Message{}
	for _, turn := range []string{"first question", "second question", "third question"} {
		history = append(history,
			models.NewUserTextMessage(turn),
			models.NewModelMessage(nil, []models.ToolCall{{ID: "c", Name: "add", Args: map[string]any{}}}),
			models.NewToolMessage(models.SucceededResult("ok"), "add", "c"),
			models.NewModelMessage([]models.Content{models.TextContent("done with " + turn)}, nil),
		)
	}
	return history
}

func TestSummarize_PreservesUserMessagesAndStructure(t *testing.T) {
	summariser := llm.NewStubClient(llm.TextResponse("round recap", "stop", 0))
	emitter := NewEmitter(nil)
	history := seededHistory()

	cm := NewContextManager(summariser, 1, history, emitter, nil)
	cm.Summarize(context.Background())

	got := cm.History()
	if len(got) != 6 {
		t.Fatalf("history length = %d, want user+summary per round (6)", len(got))
	}
	if userCount(got) != 6 {
		t.Errorf("all entries should be user-role, got %d", userCount(got))
	}

	// user1, summary1, user2, summary2, user3, summary3
	for i := 0; i < len(got); i += 2 {
		if !strings.Contains(got[i].Text(), "question") {
			t.Errorf("entry %d should be an original user message, got %q", i, got[i].Text())
		}
		summary := got[i+1].Text()
		if !strings.HasPrefix(summary, summaryPrefix) {
			t.Errorf("entry %d should be a synthetic summary, got %q", i+1, summary)
		}
		if !strings.Contains(summary, "round recap") {
			t.Errorf("summary %d should carry the LLM text, got %q", i+1, summary)
		}
	}

	var started, finished int
	for _, ev := range emitter.Events() {
		switch ev.Type {
		case models.AgentEventSummarizeStarted:
			started++
		case models.AgentEventSummarizeFinished:
			finished++
		}
	}
	if started != 1 || finished != 1 {
		t.Errorf("summarize events = %d/%d, want 1/1", started, finished)
	}
}

func TestSummarize_SkipOncePreventsImmediateRetrigger(t *testing.T) {
	summariser := llm.NewStubClient(llm.TextResponse("recap", "stop", 0))

	cm := NewContextManager(summariser, 1, seededHistory(), nil, nil)
	cm.Summarize(context.Background())
	callsAfterFirst := summariser.Calls()

	// Still over the limit, but the pass just ran.
	cm.Summarize(context.Background())
	if summariser.Calls() != callsAfterFirst {
		t.Error("second Summarize should be a no-op until fresh token counts arrive")
	}

	// The skip is consumed; a third call may summarise again.
	cm.Summarize(context.Background())
	if summariser.Calls() == callsAfterFirst {
		t.Error("third Summarize should run again while still over the limit")
	}
}

func TestSummarize_FallsBackToRawJoinOnLLMFailure(t *testing.T) {
	summariser := llm.NewStubClient()
	summariser.GenerateFunc = func(ctx context.Context, req *llm.Request) (*models.LLMResponse, error) {
		return nil, errors.New("summariser down")
	}

	history := []models.Message{
		models.NewUserTextMessage("only question"),
		models.NewModelMessage([]models.Content{models.TextContent("worked on it")}, nil),
	}
	cm := NewContextManager(summariser, 1, history, nil, nil)
	cm.Summarize(context.Background())

	got := cm.History()
	if len(got) != 2 {
		t.Fatalf("history length = %d, want 2", len(got))
	}
	summary := got[1].Text()
	if !strings.HasPrefix(summary, summaryPrefix) {
		t.Fatalf("second entry should be the synthetic summary, got %q", summary)
	}
	if !strings.Contains(summary, "worked on it") {
		t.Errorf("fallback should keep the raw execution text, got %q", summary)
	}
}

func TestSummarize_NoOpUnderLimit(t *testing.T) {
	summariser := llm.NewStubClient()
	cm := NewContextManager(summariser, 1_000_000, seededHistory(), nil, nil)
	cm.Summarize(context.Background())

	if summariser.Calls() != 0 {
		t.Error("Summarize under the limit should not call the LLM")
	}
	if len(cm.History()) != len(seededHistory()) {
		t.Error("history should be unchanged")
	}
}

func TestSummarize_RespectsAPITokenCount(t *testing.T) {
	summariser := llm.NewStubClient(llm.TextResponse("recap", "stop", 0))
	cm := NewContextManager(summariser, 1_000_000, seededHistory(), nil, nil)

	// Local estimate is tiny, but the adapter reports a huge
	// cumulative count.
	cm.AddModel(&models.LLMResponse{
		Message:     models.NewModelMessage([]models.Content{models.TextContent("x")}, nil),
		TotalTokens: 2_000_000,
	})
	cm.Summarize(context.Background())

	if summariser.Calls() == 0 {
		t.Error("adapter-reported tokens over the limit should trigger summarisation")
	}
}
