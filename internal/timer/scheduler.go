package timer

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned when scheduling on a stopped Scheduler.
var ErrStopped = errors.New("timer scheduler is stopped")

// Task is a deferred action, e.g. the redelivery of a notification
type Task struct {
	ID    string
	DueAt time.Time
	Run   func(ctx context.Context)
	index int
}

// taskHeap is a min-heap of tasks ordered by DueAt
type taskHeap []*Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].DueAt.Before(h[j].DueAt) }

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

// Scheduler runs tasks at their due time on a fixed pool of workers.
type Scheduler struct {
	mu      sync.Mutex
	heap    taskHeap
	byID    map[string]*Task
	wakeup  chan struct{}
	ready   chan *Task
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

// NewScheduler creates a scheduler with the given number of workers
func NewScheduler(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		byID:    make(map[string]*Task),
		wakeup:  make(chan struct{}, 1),
		ready:   make(chan *Task),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the dispatch loop and the worker pool
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.dispatch()
}

// Stop cancels pending tasks and waits for running ones to return.
// The context passed to running tasks is cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Schedule adds a task due at dueAt, replacing any pending task with the same id
func (s *Scheduler) Schedule(id string, dueAt time.Time, run func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	if existing, ok := s.byID[id]; ok {
		heap.Remove(&s.heap, existing.index)
	}

	task := &Task{ID: id, DueAt: dueAt, Run: run}
	heap.Push(&s.heap, task)
	s.byID[id] = task

	if s.heap[0] == task {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// Cancel removes a pending task
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, task.index)
	delete(s.byID, id)
	return true
}

// Pending returns the number of tasks not yet handed to a worker
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *Scheduler) dispatch() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		wait := time.Hour
		var due *Task
		if s.heap.Len() > 0 {
			wait = time.Until(s.heap[0].DueAt)
			if wait <= 0 {
				due = heap.Pop(&s.heap).(*Task)
				delete(s.byID, due.ID)
			}
		}
		s.mu.Unlock()

		if due != nil {
			select {
			case s.ready <- due:
			case <-s.ctx.Done():
				return
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.ready:
			task.Run(s.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}
