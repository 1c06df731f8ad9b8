package schedule

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrIteratorStopped is returned by Next once the iterator is stopped
// and its queue is drained.
var ErrIteratorStopped = errors.New("schedule: iterator stopped")

// Iterator delivers fire times on demand. Fires that happen while no
// Next call is waiting are queued and delivered in order; nothing is
// dropped. Not safe for concurrent Next calls.
type Iterator struct {
	tab *TimedTab

	mu      sync.Mutex
	queue   []time.Time
	stopped bool
	wake    chan struct{}
}

// Iterate starts the task and returns an iterator over its fires. Stop
// releases it; a fresh Iterate on the same task starts over.
func (s *Scheduler) Iterate(task TimedTask) (*Iterator, error) {
	it := &Iterator{wake: make(chan struct{}, 1)}

	tab, err := s.Schedule(task, func(fire time.Time) {
		it.mu.Lock()
		it.queue = append(it.queue, fire)
		if task.once() {
			it.stopped = true
		}
		it.mu.Unlock()
		it.notify()
	})
	if err != nil {
		return nil, err
	}
	it.tab = tab
	return it, nil
}

// Next blocks until a fire is available and returns its scheduled
// instant. Queued fires drain first. After Stop (or a once task's single fire) the
// remaining queue is still delivered, then ErrIteratorStopped.
func (it *Iterator) Next(ctx context.Context) (time.Time, error) {
	for {
		it.mu.Lock()
		if len(it.queue) > 0 {
			fire := it.queue[0]
			it.queue = it.queue[1:]
			it.mu.Unlock()
			return fire, nil
		}
		if it.stopped {
			it.mu.Unlock()
			return time.Time{}, ErrIteratorStopped
		}
		it.mu.Unlock()

		select {
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		case <-it.wake:
		}
	}
}

// Stop cancels the underlying tab. Idempotent.
func (it *Iterator) Stop() {
	it.tab.Cancel()
	it.mu.Lock()
	it.stopped = true
	it.mu.Unlock()
	it.notify()
}

func (it *Iterator) notify() {
	select {
	case it.wake <- struct{}{}:
	default:
	}
}
