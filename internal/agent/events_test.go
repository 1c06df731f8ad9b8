package agent

import (
	"testing"

	"github.com/emachat/ema/pkg/models"
)

func TestEmitter_DeliveryInRegistrationOrder(t *testing.T) {
	e := NewEmitter(nil)

	var order []string
	e.Subscribe(func(models.AgentEvent) { order = append(order, "first") })
	e.Subscribe(func(models.AgentEvent) { order = append(order, "second") })
	e.Subscribe(func(models.AgentEvent) { order = append(order, "third") })

	e.Emit(models.AgentEvent{Type: models.AgentEventStepStarted})

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("deliveries = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestEmitter_OnceFiresOnce(t *testing.T) {
	e := NewEmitter(nil)

	count := 0
	e.SubscribeOnce(func(models.AgentEvent) { count++ })

	e.Emit(models.AgentEvent{Type: models.AgentEventStepStarted})
	e.Emit(models.AgentEvent{Type: models.AgentEventStepStarted})

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter(nil)

	count := 0
	id := e.Subscribe(func(models.AgentEvent) { count++ })
	e.Emit(models.AgentEvent{Type: models.AgentEventStepStarted})
	e.Unsubscribe(id)
	e.Emit(models.AgentEvent{Type: models.AgentEventStepStarted})

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestEmitter_PanickingSubscriberIsIsolated(t *testing.T) {
	e := NewEmitter(nil)

	delivered := false
	e.Subscribe(func(models.AgentEvent) { panic("bad subscriber") })
	e.Subscribe(func(models.AgentEvent) { delivered = true })

	e.Emit(models.AgentEvent{Type: models.AgentEventStepStarted})

	if !delivered {
		t.Error("panic in one subscriber must not block the next")
	}
}

func TestEmitter_SequenceAndReplay(t *testing.T) {
	e := NewEmitter(nil)

	e.Emit(models.AgentEvent{Type: models.AgentEventStepStarted})
	e.Emit(models.AgentEvent{Type: models.AgentEventLLMResponse})

	events := e.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Sequence != 1 || events[1].Sequence != 2 {
		t.Errorf("sequences = %d, %d", events[0].Sequence, events[1].Sequence)
	}
	if events[0].Time.IsZero() {
		t.Error("events should carry a timestamp")
	}
}
