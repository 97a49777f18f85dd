// Package scheduler runs the engine's periodic maintenance tasks.
//
// A min-heap tracks when each task is next due. Workers execute due tasks
// concurrently with panic recovery and a per-run timeout. The first run of
// each task is jittered so a restart does not fire everything at once.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hydronet/aquifer/internal/logging"
)

var log = logging.Component("scheduler")

// backpressureDelay reschedules a due task when the job queue is full.
const backpressureDelay = time.Second

// =============================================================================
// Types
// =============================================================================

// Task is one periodic maintenance job.
type Task struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// taskItem is a heap entry.
type taskItem struct {
	task      Task
	nextRunMs int64
	running   bool
	index     int
}

// taskHeap implements heap.Interface ordered by next run time.
type taskHeap []*taskItem

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].nextRunMs < h[j].nextRunMs }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) { item := x.(*taskItem); item.index = len(*h); *h = append(*h, item) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

func (h taskHeap) peek() *taskItem {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// =============================================================================
// Scheduler
// =============================================================================

// Config holds scheduler configuration.
type Config struct {
	Workers      int
	QueueSize    int
	TickInterval time.Duration
	DrainTimeout time.Duration
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      2,
		QueueSize:    8,
		TickInterval: time.Second,
		DrainTimeout: 30 * time.Second,
	}
}

// Scheduler runs registered tasks on their intervals.
//
// Scheduler is safe for concurrent use.
type Scheduler struct {
	mu    sync.Mutex
	heap  taskHeap
	items map[string]*taskItem

	jobs chan *taskItem

	shutdown chan struct{}
	wg       sync.WaitGroup
	wakeup   chan struct{}

	workers      int
	tickInterval time.Duration
	drainTimeout time.Duration

	activeWorkers atomic.Int32
	runsTotal     atomic.Int64
	runsFailed    atomic.Int64
	backpressure  atomic.Int64
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		heap:         make(taskHeap, 0),
		items:        make(map[string]*taskItem),
		jobs:         make(chan *taskItem, cfg.QueueSize),
		shutdown:     make(chan struct{}),
		wakeup:       make(chan struct{}, 1),
		workers:      cfg.Workers,
		tickInterval: cfg.TickInterval,
		drainTimeout: cfg.DrainTimeout,
	}
}

// Register adds a task. The first run is jittered within the interval.
// Registering a duplicate name is a no-op.
func (s *Scheduler) Register(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[t.Name]; ok {
		return
	}

	jitter := rand.Int63n(t.Interval.Milliseconds() + 1)
	item := &taskItem{task: t, nextRunMs: time.Now().UnixMilli() + jitter}
	heap.Push(&s.heap, item)
	s.items[t.Name] = item
	s.signalWakeup()

	log.Debug("task registered", "task", t.Name, "interval", t.Interval)
}

// Kick schedules a task to run as soon as possible.
func (s *Scheduler) Kick(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[name]
	if !ok || item.running || item.index < 0 {
		return
	}
	item.nextRunMs = time.Now().UnixMilli()
	heap.Fix(&s.heap, item.index)
	s.signalWakeup()
}

// Start starts the workers and the dispatch loop.
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.wg.Add(1)
	go s.dispatchLoop()

	log.Info("scheduler started", "workers", s.workers, "tasks", len(s.items))
}

// Stop stops the scheduler, waiting up to the drain timeout for running
// tasks to finish.
func (s *Scheduler) Stop() {
	log.Info("scheduler stopping")
	close(s.shutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("scheduler stopped")
	case <-time.After(s.drainTimeout):
		log.Warn("scheduler drain timeout", "active_workers", s.activeWorkers.Load())
	}
}

// =============================================================================
// Dispatch
// =============================================================================

func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.dispatchDue()
		case <-s.wakeup:
			s.dispatchDue()
		case <-s.shutdown:
			return
		}
	}
}

func (s *Scheduler) dispatchDue() {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.heap.Len() > 0 {
		next := s.heap.peek()
		if next.nextRunMs > now {
			break
		}

		item := heap.Pop(&s.heap).(*taskItem)
		item.running = true

		select {
		case s.jobs <- item:
		default:
			// Queue full, push back with a short delay.
			item.nextRunMs = now + backpressureDelay.Milliseconds()
			item.running = false
			heap.Push(&s.heap, item)
			s.backpressure.Add(1)
		}
	}
}

// reschedule puts a finished task back on the heap.
func (s *Scheduler) reschedule(item *taskItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item.nextRunMs = time.Now().UnixMilli() + item.task.Interval.Milliseconds()
	item.running = false
	heap.Push(&s.heap, item)
}

// =============================================================================
// Worker
// =============================================================================

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case item := <-s.jobs:
			s.execute(item)
			s.reschedule(item)
		case <-s.shutdown:
			return
		}
	}
}

// execute runs one task with timeout and panic recovery.
func (s *Scheduler) execute(item *taskItem) {
	s.activeWorkers.Add(1)
	s.runsTotal.Add(1)

	defer func() {
		s.activeWorkers.Add(-1)
		if r := recover(); r != nil {
			s.runsFailed.Add(1)
			log.Error("panic in task", "task", item.task.Name, "panic", fmt.Sprintf("%v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), item.task.Timeout)
	defer cancel()

	start := time.Now()
	if err := item.task.Run(ctx); err != nil {
		s.runsFailed.Add(1)
		log.Warn("task failed", "task", item.task.Name, "elapsed", time.Since(start), "error", err)
		return
	}
	log.Debug("task complete", "task", item.task.Name, "elapsed", time.Since(start))
}

// =============================================================================
// Stats
// =============================================================================

// Stats holds scheduler counters.
type Stats struct {
	Tasks        int
	Active       int
	RunsTotal    int64
	RunsFailed   int64
	Backpressure int64
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	tasks := len(s.items)
	s.mu.Unlock()

	return Stats{
		Tasks:        tasks,
		Active:       int(s.activeWorkers.Load()),
		RunsTotal:    s.runsTotal.Load(),
		RunsFailed:   s.runsFailed.Load(),
		Backpressure: s.backpressure.Load(),
	}
}

func (s *Scheduler) signalWakeup() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}
