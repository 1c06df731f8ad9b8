package schedule

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler owns a set of timed tabs. Each tab runs its own timer
// goroutine; callbacks execute on that goroutine, so a slow callback
// delays only its own tab.
type Scheduler struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint64
	tabs   map[uint64]*TimedTab
	closed bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		tabs:   make(map[uint64]*TimedTab),
	}
}

// TimedTab is a handle to one scheduled task. Cancel is idempotent and
// safe to call from any goroutine, including the callback itself.
type TimedTab struct {
	id        uint64
	scheduler *Scheduler

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Cancel stops future fires. A callback already in progress is allowed
// to finish.
func (t *TimedTab) Cancel() {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.scheduler.remove(t.id)
	})
}

// Done is closed when the tab's timer goroutine has exited.
func (t *TimedTab) Done() <-chan struct{} {
	return t.done
}

// Schedule validates the task and starts firing fn per its plan. fn
// receives the scheduled fire instant, not the delivery time. The
// returned tab cancels it.
func (s *Scheduler) Schedule(task TimedTask, fn func(fire time.Time)) (*TimedTab, error) {
	plan, err := task.plan()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextID++
	tab := &TimedTab{
		id:        s.nextID,
		scheduler: s,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if s.closed {
		close(tab.stop)
		close(tab.done)
		s.mu.Unlock()
		return tab, nil
	}
	s.tabs[tab.id] = tab
	s.mu.Unlock()

	go s.run(tab, plan, task.once(), fn)
	return tab, nil
}

// Close cancels every tab and waits for their goroutines to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	tabs := make([]*TimedTab, 0, len(s.tabs))
	for _, tab := range s.tabs {
		tabs = append(tabs, tab)
	}
	s.mu.Unlock()

	for _, tab := range tabs {
		tab.Cancel()
		<-tab.done
	}
}

func (s *Scheduler) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tabs, id)
}

func (s *Scheduler) run(tab *TimedTab, plan cron.Schedule, once bool, fn func(time.Time)) {
	defer close(tab.done)

	for {
		next := plan.Next(time.Now())
		if next.IsZero() {
			// Cron expressions that never match again.
			tab.Cancel()
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-tab.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		s.fire(fn, next)

		if once {
			tab.Cancel()
			return
		}
	}
}

func (s *Scheduler) fire(fn func(time.Time), at time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("scheduled callback panicked",
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()
	fn(at)
}
