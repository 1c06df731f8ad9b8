package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emachat/ema/internal/agent"
	"github.com/emachat/ema/pkg/models"
)

// ErrIdleTimeout is returned by WaitForIdle when the agent is still
// running at the deadline.
var ErrIdleTimeout = errors.New("schedule: agent did not go idle in time")

// WaitForIdle blocks until the agent has no run in flight, without
// polling: it watches for the run's terminal event. A zero timeout
// means wait indefinitely (bounded only by ctx).
func WaitForIdle(ctx context.Context, a *agent.Agent, timeout time.Duration) error {
	if !a.Running() {
		return nil
	}

	idle := make(chan struct{}, 1)
	sub := a.Events().Subscribe(func(ev models.AgentEvent) {
		if ev.Type == models.AgentEventRunFinished {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})
	defer a.Events().Unsubscribe(sub)

	// The run may have finished between the first check and the
	// subscription.
	if !a.Running() {
		return nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline:
		return ErrIdleTimeout
	case <-idle:
		return nil
	}
}

// AgentTask binds a timed task to an agent: on each fire, Work runs
// once the agent is idle.
type AgentTask struct {
	Name  string
	Task  TimedTask
	Agent *agent.Agent

	// Work performs the scheduled unit against the agent.
	Work func(ctx context.Context, a *agent.Agent) error

	// IdleTimeout bounds the wait for a busy agent; zero waits
	// indefinitely.
	IdleTimeout time.Duration
}

// AgentTasks runs agent-bound timed tasks on a shared scheduler.
type AgentTasks struct {
	scheduler *Scheduler
	logger    *slog.Logger

	mu   sync.Mutex
	tabs map[string]*TimedTab
}

// NewAgentTasks wraps a scheduler for agent-bound tasks.
func NewAgentTasks(scheduler *Scheduler, logger *slog.Logger) *AgentTasks {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentTasks{
		scheduler: scheduler,
		logger:    logger,
		tabs:      make(map[string]*TimedTab),
	}
}

// Run schedules the task. Task names are unique; scheduling a name that
// is already active fails.
func (t *AgentTasks) Run(task AgentTask) (*TimedTab, error) {
	if task.Name == "" {
		return nil, fmt.Errorf("schedule: agent task name is required")
	}
	if task.Agent == nil || task.Work == nil {
		return nil, fmt.Errorf("schedule: agent task %q needs an agent and work func", task.Name)
	}

	t.mu.Lock()
	if _, exists := t.tabs[task.Name]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("schedule: agent task %q already scheduled", task.Name)
	}
	t.mu.Unlock()

	tab, err := t.scheduler.Schedule(task.Task, func(fire time.Time) {
		ctx := context.Background()
		if err := WaitForIdle(ctx, task.Agent, task.IdleTimeout); err != nil {
			t.logger.Warn("skipping fire, agent busy", "task", task.Name, "fire", fire, "error", err)
			return
		}
		if err := task.Work(ctx, task.Agent); err != nil {
			t.logger.Error("agent task failed", "task", task.Name, "error", err)
		}
	})
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.tabs[task.Name] = tab
	t.mu.Unlock()
	return tab, nil
}

// Cancel stops the named task. Unknown names are ignored.
func (t *AgentTasks) Cancel(name string) {
	t.mu.Lock()
	tab := t.tabs[name]
	delete(t.tabs, name)
	t.mu.Unlock()
	if tab != nil {
		tab.Cancel()
	}
}

// Close cancels every task.
func (t *AgentTasks) Close() {
	t.mu.Lock()
	tabs := t.tabs
	t.tabs = make(map[string]*TimedTab)
	t.mu.Unlock()
	for _, tab := range tabs {
		tab.Cancel()
	}
}
