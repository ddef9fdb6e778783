// Package scheduler drives every artifact marked has_loop with its own
// concurrent, self-throttled task: a stopCh/goroutine-per-loop idiom
// generalized from "fixed interval" to "rate-tracker-gated, no fixed
// sleep".
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/r3e-network/agent-kernel/internal/kernel/artifact"
	"github.com/r3e-network/agent-kernel/internal/kernel/eventlog"
	"github.com/r3e-network/agent-kernel/internal/kernel/executor"
	"github.com/r3e-network/agent-kernel/internal/kernel/kernelerr"
	"github.com/r3e-network/agent-kernel/internal/kernel/ratetracker"
	"github.com/r3e-network/agent-kernel/internal/llmgateway"
	"github.com/r3e-network/agent-kernel/pkg/logger"
	"github.com/r3e-network/agent-kernel/pkg/metrics"
)

const resourceCPU = "cpu_rate"

// errQuiescent marks a runOnce return as "stop retrying for good", distinct
// from both a clean tick (nil) and a crash (any other error). A loop that
// hits it exits its supervise loop without counting toward
// MaxConsecutiveCrashes or emitting loop_died.
var errQuiescent = errors.New("loop quiescent: budget exhausted")

// Config controls the supervisor's restart policy.
type Config struct {
	MaxConsecutiveCrashes int
	CrashWindow           time.Duration
	BackoffInitial        time.Duration
	BackoffMax            time.Duration
}

// Scheduler owns one loop task per has_loop artifact.
type Scheduler struct {
	store    *artifact.Store
	executor *executor.Executor
	rates    *ratetracker.Tracker
	events   *eventlog.Log
	llm      llmgateway.Client
	cfg      Config
	log      *logger.Logger

	mu              sync.Mutex
	loops           map[string]*loopHandle
	budgetExhausted bool
	quiescedLoops   map[string]bool
}

type loopHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a scheduler. It satisfies artifact.LoopOwnerChecker, so
// callers should wire store.SetLoopOwnerChecker(scheduler) after
// construction.
func New(store *artifact.Store, ex *executor.Executor, rates *ratetracker.Tracker, events *eventlog.Log, llm llmgateway.Client, cfg Config, log *logger.Logger) *Scheduler {
	return &Scheduler{
		store: store, executor: ex, rates: rates, events: events, llm: llm, cfg: cfg, log: log,
		loops:         make(map[string]*loopHandle),
		quiescedLoops: make(map[string]bool),
	}
}

// LoopRunning implements artifact.LoopOwnerChecker.
func (s *Scheduler) LoopRunning(artifactID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[artifactID]
	return ok
}

// Boot discovers every has_loop artifact already in the store and starts
// one loop task per match.
func (s *Scheduler) Boot(ctx context.Context) {
	for _, a := range s.store.List(artifact.Query{}) {
		if a.HasLoop {
			s.StartLoop(ctx, a.ID)
		}
	}
}

// StartLoop launches (or restarts) the loop task for artifactID. It is
// idempotent: calling it for an artifact that already has a running loop
// is a no-op.
func (s *Scheduler) StartLoop(ctx context.Context, artifactID string) {
	s.mu.Lock()
	if _, exists := s.loops[artifactID]; exists {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	handle := &loopHandle{cancel: cancel, done: make(chan struct{})}
	s.loops[artifactID] = handle
	s.mu.Unlock()

	metrics.SetLoopsRunning(s.runningCount())
	s.events.Append(eventlog.CategoryLoopStarted, artifactID, artifactID, artifactID, nil)

	go func() {
		defer close(handle.done)
		s.supervise(loopCtx, artifactID)
		s.mu.Lock()
		delete(s.loops, artifactID)
		s.mu.Unlock()
		metrics.SetLoopsRunning(s.runningCount())
	}()
}

// StopLoop cancels artifactID's loop at its next suspension point and
// waits for it to exit.
func (s *Scheduler) StopLoop(artifactID string) {
	s.mu.Lock()
	handle, ok := s.loops[artifactID]
	s.mu.Unlock()
	if !ok {
		return
	}
	handle.cancel()
	<-handle.done
}

// supervise runs artifactID's loop body to completion or crash, restarting
// it with exponential backoff. After cfg.MaxConsecutiveCrashes crashes
// within cfg.CrashWindow of each other, the loop is classified dead and
// supervise returns for good.
func (s *Scheduler) supervise(ctx context.Context, artifactID string) {
	backoff := s.cfg.BackoffInitial
	var consecutiveCrashes int
	var lastCrash time.Time

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		crashed, quiescent := s.runGuarded(ctx, artifactID)
		if ctx.Err() != nil {
			return
		}
		if quiescent {
			return
		}
		if !crashed {
			backoff = s.cfg.BackoffInitial
			consecutiveCrashes = 0
			continue
		}

		now := time.Now()
		if lastCrash.IsZero() || now.Sub(lastCrash) > s.cfg.CrashWindow {
			consecutiveCrashes = 1
		} else {
			consecutiveCrashes++
		}
		lastCrash = now

		if consecutiveCrashes >= s.cfg.MaxConsecutiveCrashes {
			s.events.Append(eventlog.CategoryLoopDied, artifactID, artifactID, artifactID, map[string]any{
				"consecutive_crashes": consecutiveCrashes,
			})
			return
		}

		s.events.Append(eventlog.CategoryLoopCrashed, artifactID, artifactID, artifactID, map[string]any{
			"consecutive_crashes": consecutiveCrashes,
			"backoff_ms":          backoff.Milliseconds(),
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		metrics.RecordLoopRestart(artifactID)
		backoff *= 2
		if backoff > s.cfg.BackoffMax {
			backoff = s.cfg.BackoffMax
		}
	}
}

// runGuarded calls runOnce and converts a panic into a reported crash so
// one misbehaving loop body can't take the supervisor goroutine down with
// it. quiescent is true only when runOnce signals budget exhaustion via
// errQuiescent, which supervise treats as a clean, permanent exit rather
// than a crash.
func (s *Scheduler) runGuarded(ctx context.Context, artifactID string) (crashed, quiescent bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("artifact_id", artifactID).Warn("loop panic recovered")
			crashed = true
		}
	}()
	err := s.runOnce(ctx, artifactID)
	if err == nil {
		return false, false
	}
	if errors.Is(err, errQuiescent) {
		return false, true
	}
	if ctx.Err() == nil {
		return true, false
	}
	return false, false
}

func (s *Scheduler) runningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

// markBudgetExhausted trips the scheduler-wide flag every loop's next
// runOnce checks, so one loop observing BudgetExhausted pauses all of
// them rather than just itself.
func (s *Scheduler) markBudgetExhausted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgetExhausted = true
}

func (s *Scheduler) isBudgetExhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budgetExhausted
}

// quiesce records artifactID as having stopped for budget exhaustion and
// emits exactly one budget_exhausted event for it; later calls for the
// same artifact are no-ops.
func (s *Scheduler) quiesce(artifactID string) {
	s.mu.Lock()
	if s.quiescedLoops[artifactID] {
		s.mu.Unlock()
		return
	}
	s.quiescedLoops[artifactID] = true
	s.mu.Unlock()
	s.events.Append(eventlog.CategoryBudgetExhausted, artifactID, artifactID, artifactID, nil)
}

// runOnce executes exactly one iteration of the loop contract: wait for
// cpu_rate capacity, read a snapshot, ask the LLM for an intent, submit it
// as one action, persist the result.
func (s *Scheduler) runOnce(ctx context.Context, artifactID string) error {
	if s.isBudgetExhausted() {
		s.quiesce(artifactID)
		return errQuiescent
	}

	if !s.rates.WaitForCapacity(artifactID, resourceCPU, 1, ctx.Done()) {
		return ctx.Err()
	}

	self, err := s.store.Get(artifactID)
	if err != nil {
		return err
	}
	if !self.HasLoop {
		return context.Canceled
	}

	intent, err := s.llm.Generate(ctx, artifactID, buildPrompt(self), "")
	if err != nil {
		if errors.Is(err, kernelerr.ErrBudgetExhausted) {
			s.markBudgetExhausted()
			s.quiesce(artifactID)
			return errQuiescent
		}
		s.log.WithField("artifact_id", artifactID).WithError(err).Warn("ask_llm failed")
		return nil
	}

	frame := executor.NewRootFrame(artifactID+"-"+time.Now().Format(time.RFC3339Nano), artifactID)
	action := parseIntent(intent.Text)
	result := s.executor.Submit(frame, artifactID, action)

	s.persistResult(artifactID, result)
	return nil
}

func (s *Scheduler) persistResult(artifactID string, result *executor.Result) {
	state := map[string]any{"last_result": result.State, "last_error_kind": string(result.ErrorKind)}
	payload, err := jsonMarshal(state)
	if err != nil {
		return
	}
	s.store.Update(artifactID, func(a *artifact.Artifact) { a.Content = payload })
}

func buildPrompt(a *artifact.Artifact) string {
	return "state:" + string(a.Content)
}
