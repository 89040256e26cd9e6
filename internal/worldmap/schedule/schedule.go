// Package schedule runs recurring background tasks, such as chunk autosave.
package schedule

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Handle cancels a scheduled task. Cancel is safe to call more than once.
type Handle interface {
	Cancel()
}

// Scheduler runs fn every interval until the returned handle is cancelled.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Handle
}

// Ticker runs each task on its own goroutine driven by a time.Ticker.
type Ticker struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTicker creates a Ticker whose tasks stop when ctx is cancelled or Close is called.
func NewTicker(ctx context.Context) *Ticker {
	ctx, cancel := context.WithCancel(ctx)
	return &Ticker{ctx: ctx, cancel: cancel}
}

type cancelFunc context.CancelFunc

func (c cancelFunc) Cancel() { c() }

// Every implements Scheduler. The first run happens one interval after scheduling.
func (t *Ticker) Every(interval time.Duration, fn func()) Handle {
	ctx, cancel := context.WithCancel(t.ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// A tick may race with cancellation; cancellation wins.
				if ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}()
	return cancelFunc(cancel)
}

// Close stops every task and waits for running ones to return.
func (t *Ticker) Close() {
	t.cancel()
	t.wg.Wait()
}

// Manual is a Scheduler driven by explicit calls to Advance, for tests.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks map[int]*manualTask
}

type manualTask struct {
	id       int
	interval time.Duration
	next     time.Duration
	fn       func()
}

type manualHandle struct {
	m  *Manual
	id int
}

func (h manualHandle) Cancel() {
	h.m.mu.Lock()
	delete(h.m.tasks, h.id)
	h.m.mu.Unlock()
}

// NewManual creates a Manual scheduler at time zero.
func NewManual() *Manual {
	return &Manual{tasks: make(map[int]*manualTask)}
}

// Every implements Scheduler.
func (m *Manual) Every(interval time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.tasks[m.seq] = &manualTask{id: m.seq, interval: interval, next: m.now + interval, fn: fn}
	return manualHandle{m: m, id: m.seq}
}

// Len returns the number of scheduled tasks.
func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Advance moves the clock forward by d and synchronously runs every task that
// comes due, in due-time order. Tasks run without the scheduler lock held.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var due []*manualTask
		for _, t := range m.tasks {
			if t.next <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			m.now = target
			m.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].next != due[j].next {
				return due[i].next < due[j].next
			}
			return due[i].id < due[j].id
		})
		t := due[0]
		m.now = t.next
		t.next += t.interval
		m.mu.Unlock()

		t.fn()
	}
}
