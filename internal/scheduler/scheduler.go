// Package scheduler implements C7: the concurrency fabric shared by
// every component that acts on a swap. It provides a bounded worker
// pool (grounded on the teacher's stream_manager.go worker/channel
// shape), per-swap serialization via a sharded keyed mutex, a
// single-second-resolution timer wheel for deadline-driven
// re-evaluation, and a per-ledger token-bucket rate limiter
// (spec.md §4.7, §5).
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/DevJSter/eth-suiResolver/internal/metrics"
	"github.com/DevJSter/eth-suiResolver/internal/obslog"
	"github.com/DevJSter/eth-suiResolver/internal/store"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

const tickResolution = 1 * time.Second

// Reason names why a swap's state machine is being re-evaluated.
type Reason string

const (
	ReasonDeadline Reason = "deadline"
	ReasonEvent    Reason = "event"
	ReasonOperator Reason = "operator_force_refund"
)

// Task is one unit of swap re-evaluation work.
type Task struct {
	SwapID swaptypes.SwapID
	Reason Reason
}

// Evaluator re-evaluates a single swap's state machine; the Swap
// Engine satisfies this.
type Evaluator interface {
	Evaluate(ctx context.Context, swapID swaptypes.SwapID, reason string) error
}

// timerEntry is one pending deadline in the wheel.
type timerEntry struct {
	atMs   int64
	swapID swaptypes.SwapID
	index  int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].atMs < h[j].atMs }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler is the coordinator's concurrency fabric.
type Scheduler struct {
	workerCount int
	tasks       chan Task
	evaluator   Evaluator
	store       store.Store
	logger      *obslog.Logger

	limiters map[swaptypes.Ledger]*rate.Limiter

	mu        sync.Mutex
	heap      timerHeap
	swapLocks map[swaptypes.SwapID]*sync.Mutex

	wg sync.WaitGroup
}

// Config configures a Scheduler.
type Config struct {
	WorkerCount       int
	ChannelBufferSize int
	RateLimitA        float64
	RateLimitB        float64
}

func New(cfg Config, evaluator Evaluator, st store.Store, logger *obslog.Logger) *Scheduler {
	return &Scheduler{
		workerCount: cfg.WorkerCount,
		tasks:       make(chan Task, cfg.ChannelBufferSize),
		evaluator:   evaluator,
		store:       st,
		logger:      logger.Component("scheduler"),
		limiters: map[swaptypes.Ledger]*rate.Limiter{
			swaptypes.LedgerA: rate.NewLimiter(rate.Limit(cfg.RateLimitA), 1),
			swaptypes.LedgerB: rate.NewLimiter(rate.Limit(cfg.RateLimitB), 1),
		},
		swapLocks: make(map[swaptypes.SwapID]*sync.Mutex),
	}
}

// RateLimiter returns the per-ledger token bucket, for chain adapters
// that need it wired at construction.
func (s *Scheduler) RateLimiter(ledger swaptypes.Ledger) *rate.Limiter {
	return s.limiters[ledger]
}

// Start launches the worker pool and the timer wheel's 1-second tick
// loop, then rebuilds the timer wheel from the store (spec.md §4.7's
// restart requirement). It returns once workers are running; callers
// stop by cancelling ctx and calling Wait.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.rebuildFromStore(ctx); err != nil {
		return err
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.runWorker(ctx, i)
	}

	s.wg.Add(1)
	go s.runTimerWheel(ctx)

	return nil
}

// Wait blocks until all workers and the timer loop have exited —
// callers invoke this after cancelling ctx to drain in-flight actions
// during a graceful stop (spec.md §4.8, §5).
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Enqueue submits an immediate re-evaluation request.
func (s *Scheduler) Enqueue(task Task) {
	select {
	case s.tasks <- task:
		metrics.SchedulerQueueDepthGauge.Set(float64(len(s.tasks)))
	default:
		s.logger.Warn().Str("swap_id", string(task.SwapID)).Msg("task queue full, dropping enqueue (timer wheel will retry)")
	}
}

// Schedule arms a one-shot timer for swapID at atMs, used by the Swap
// Engine to re-arm its own deadline after each transition.
func (s *Scheduler) Schedule(swapID swaptypes.SwapID, atMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.heap, &timerEntry{atMs: atMs, swapID: swapID})
}

func (s *Scheduler) runWorker(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-s.tasks:
			if !ok {
				return
			}
			s.runTask(ctx, task)
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	lock := s.swapLock(task.SwapID)
	lock.Lock()
	defer lock.Unlock()

	err := s.evaluator.Evaluate(ctx, task.SwapID, string(task.Reason))
	if err != nil {
		metrics.SchedulerTasksRunTotal.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("swap_id", string(task.SwapID)).Msg("swap evaluation failed")
		return
	}
	metrics.SchedulerTasksRunTotal.WithLabelValues("ok").Inc()
}

func (s *Scheduler) swapLock(swapID swaptypes.SwapID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.swapLocks[swapID]
	if !ok {
		lock = &sync.Mutex{}
		s.swapLocks[swapID] = lock
	}
	return lock
}

func (s *Scheduler) runTimerWheel(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(tickResolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDueTimers()
		}
	}
}

func (s *Scheduler) fireDueTimers() {
	now := swaptypes.NowMs()
	var due []swaptypes.SwapID

	s.mu.Lock()
	for s.heap.Len() > 0 && s.heap[0].atMs <= now {
		e := heap.Pop(&s.heap).(*timerEntry)
		due = append(due, e.swapID)
	}
	s.mu.Unlock()

	for _, swapID := range due {
		s.Enqueue(Task{SwapID: swapID, Reason: ReasonDeadline})
	}
}

// rebuildFromStore repopulates the timer wheel from every
// non-terminal swap's earliest deadline, so a restarted coordinator
// resumes firing deadline re-evaluations without waiting for a fresh
// event (spec.md §4.7).
func (s *Scheduler) rebuildFromStore(ctx context.Context) error {
	for _, phase := range []swaptypes.Phase{
		swaptypes.PhasePending, swaptypes.PhaseOneSideLocked, swaptypes.PhaseBothLocked, swaptypes.PhaseRevealed,
	} {
		swaps, err := s.store.ListSwaps(ctx, store.SwapFilter{Phase: phase})
		if err != nil {
			return err
		}
		for _, swap := range swaps {
			s.Schedule(swap.ID, earliestDeadline(swap))
		}
	}
	return nil
}

func earliestDeadline(swap *swaptypes.Swap) int64 {
	if swap.ADeadlineMs == 0 {
		return swap.BDeadlineMs
	}
	if swap.BDeadlineMs == 0 {
		return swap.ADeadlineMs
	}
	if swap.ADeadlineMs < swap.BDeadlineMs {
		return swap.ADeadlineMs
	}
	return swap.BDeadlineMs
}
