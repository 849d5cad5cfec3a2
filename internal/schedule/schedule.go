// Package schedule runs recurring pipeline commands from a min-heap of
// due times. Tasks run one at a time so runs never overlap.
package schedule

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var ErrStopped = errors.New("scheduler is stopped")

// Task is a callback due at a point in time
type Task struct {
	ID  string
	At  time.Time
	Run func(ctx context.Context)
	// Every reschedules the task after it ran; zero runs it once.
	Every time.Duration
	index int
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].At.Equal(h[j].At) {
		return h[i].ID < h[j].ID
	}
	return h[i].At.Before(h[j].At)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[:n-1]
	return task
}

// Scheduler keeps tasks ordered by due time
type Scheduler struct {
	mu      sync.Mutex
	heap    taskHeap
	tasks   map[string]*Task
	wakeup  chan struct{}
	stopped bool
	now     func() time.Time
}

func New() *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]*Task),
		wakeup: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Schedule adds a one-off task, replacing any task with the same id
func (s *Scheduler) Schedule(id string, at time.Time, run func(ctx context.Context)) error {
	return s.add(&Task{ID: id, At: at, Run: run})
}

// Every adds a task first due at first and then every interval
func (s *Scheduler) Every(id string, first time.Time, interval time.Duration, run func(ctx context.Context)) error {
	return s.add(&Task{ID: id, At: first, Run: run, Every: interval})
}

func (s *Scheduler) add(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if existing, ok := s.tasks[task.ID]; ok {
		heap.Remove(&s.heap, existing.index)
	}
	heap.Push(&s.heap, task)
	s.tasks[task.ID] = task

	// Wake the loop if the task is now the earliest
	if s.heap[0] == task {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel removes a scheduled task
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, task.index)
	delete(s.tasks, id)
	return true
}

// Pending returns the ids of scheduled tasks in due order
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	ordered := append(taskHeap(nil), s.heap...)
	s.mu.Unlock()
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].At.Equal(ordered[j].At) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].At.Before(ordered[j].At)
	})
	out := make([]string, len(ordered))
	for i, t := range ordered {
		out[i] = t.ID
	}
	return out
}

// next pops the earliest due task, or returns how long to wait for it
func (s *Scheduler) next() (*Task, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heap.Len() == 0 {
		return nil, 0, false
	}
	wait := s.heap[0].At.Sub(s.now())
	if wait > 0 {
		return nil, wait, true
	}
	task := heap.Pop(&s.heap).(*Task)
	delete(s.tasks, task.ID)
	return task, 0, true
}

// reschedule queues a recurring task at its next due time after now
func (s *Scheduler) reschedule(task *Task) {
	now := s.now()
	next := task.At
	for !next.After(now) {
		next = next.Add(task.Every)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, replaced := s.tasks[task.ID]; replaced {
		return
	}
	task.At = next
	heap.Push(&s.heap, task)
	s.tasks[task.ID] = task
}

// Run executes due tasks until ctx is done or no task is left
func (s *Scheduler) Run(ctx context.Context) error {
	defer func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	}()
	for {
		task, wait, ok := s.next()
		if !ok {
			return nil
		}
		if task != nil {
			fmt.Printf("Running scheduled task %s (due %s)\n", task.ID, task.At.Format("2006-01-02 15:04:05"))
			task.Run(ctx)
			if task.Every > 0 {
				s.reschedule(task)
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// NextDaily returns the next time after now at hour:00 UTC
func NextDaily(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
