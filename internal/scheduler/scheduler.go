package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probo/internal/common"
	"github.com/ternarybob/probo/internal/factory"
	"github.com/ternarybob/probo/internal/harness"
)

// Augmenter is the plugin hook invoked over the assembled jobs before
// dispatch. The QueueManager uses it to intercept the batch.
type Augmenter interface {
	AugmentJobs(jobs []*Job) error
}

// Options tune the scheduler
type Options struct {
	Slots            int
	Workers          int
	DefaultTimeout   time.Duration
	ProgressInterval time.Duration
	IgnorePatterns   []string
	Controllers      []harness.Controller
	Reporter         *harness.Reporter
}

// Scheduler assembles TestCases into a dependency graph and dispatches
// them to a worker pool, honoring slot budgets, prerequisites, timeouts
// and cancellation. One dispatcher goroutine owns the READY bookkeeping;
// workers only execute jobs and signal completions.
type Scheduler struct {
	opts      Options
	reporter  *harness.Reporter
	log       arbor.ILogger
	augmenter Augmenter

	// reserveHook decides whether a job may take slots; the QueueManager
	// replaces it with an unconditional grant.
	reserveHook func(job *Job) bool

	mu        sync.Mutex
	cond      *sync.Cond
	freeSlots int
	jobs      []*Job
	aborted   bool
}

// New creates a scheduler with the given options
func New(opts Options) *Scheduler {
	if opts.Slots < 1 {
		opts.Slots = 1
	}
	if opts.Workers < 1 {
		opts.Workers = opts.Slots
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Minute
	}

	s := &Scheduler{
		opts:      opts,
		reporter:  opts.Reporter,
		log:       common.GetLogger(),
		freeSlots: opts.Slots,
	}
	s.cond = sync.NewCond(&s.mu)
	s.reserveHook = s.reserveSlots
	return s
}

// SetAugmenter installs the plugin hook invoked by Schedule
func (s *Scheduler) SetAugmenter(a Augmenter) {
	s.augmenter = a
}

// Jobs returns the assembled batch
func (s *Scheduler) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Schedule wraps each warehouse entry in a TestCase and Job, validates the
// dependency graph and applies the augmenter hook.
func (s *Scheduler) Schedule(entries []factory.Entry) error {
	seen := make(map[string]struct{}, len(entries))
	jobs := make([]*Job, 0, len(entries))

	for _, entry := range entries {
		tc := harness.NewTestCase(entry.Runner, harness.Options{
			Controllers:      s.opts.Controllers,
			ProgressInterval: s.opts.ProgressInterval,
			IgnorePatterns:   s.opts.IgnorePatterns,
		})
		job := NewJob(tc, entry.Source, s.opts.DefaultTimeout)

		if _, ok := seen[job.Name()]; ok {
			return fmt.Errorf("duplicate test name %q in batch", job.Name())
		}
		seen[job.Name()] = struct{}{}

		if job.Slots > s.opts.Slots {
			job.SetSkip(fmt.Sprintf("skipped (insufficient slots: needs %d, budget %d)", job.Slots, s.opts.Slots))
		}
		jobs = append(jobs, job)
	}

	if err := checkGraph(jobs); err != nil {
		return err
	}

	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()

	if s.augmenter != nil {
		if err := s.augmenter.AugmentJobs(jobs); err != nil {
			return fmt.Errorf("failed to augment jobs: %w", err)
		}
	}

	s.log.Info().Int("jobs", len(jobs)).Int("slots", s.opts.Slots).Int("workers", s.opts.Workers).Msg("Batch scheduled")
	return nil
}

// reserveSlots is the default slot-accounting hook; the scheduler mutex is
// held by the caller.
func (s *Scheduler) reserveSlots(job *Job) bool {
	if s.freeSlots < job.Slots {
		return false
	}
	s.freeSlots -= job.Slots
	return true
}

// RunAll dispatches the batch and blocks until every job is finished. It
// returns the aggregate summary; the error reports dispatcher-level
// failures only (individual test failures land in the summary).
func (s *Scheduler) RunAll(ctx context.Context) (harness.Summary, error) {
	start := time.Now()

	jobCh := make(chan *Job, len(s.jobs))
	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go s.worker(ctx, jobCh, &wg)
	}

	// Periodic wakeups let the dispatcher poll running jobs for progress
	// reporting and notice context cancellation.
	tickerDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-tickerDone:
				return
			case <-ticker.C:
				s.cond.Broadcast()
			}
		}
	}()

	var dispatchErr error

	s.mu.Lock()
	for {
		if ctx.Err() != nil && !s.aborted {
			s.abortLocked("batch aborted")
			dispatchErr = ctx.Err()
		}

		s.collectLocked()

		if s.allFinishedLocked() {
			break
		}

		if job := s.pickReadyLocked(); job != nil {
			job.dispatched = true
			jobCh <- job
			continue
		}

		s.cond.Wait()
	}
	s.mu.Unlock()

	close(jobCh)
	close(tickerDone)
	wg.Wait()

	// Final render pass for anything finished after the last collect
	for _, job := range s.jobs {
		if s.reporter != nil && job.Case.Progress() == harness.Finished {
			s.reporter.Report(job.Case)
		}
	}

	summary := s.summarize(start)
	if s.reporter != nil {
		s.reporter.PrintSummary(summary)
	}
	return summary, dispatchErr
}

// collectLocked renders finished jobs and propagates failures to
// dependents. Runs with the scheduler mutex held.
func (s *Scheduler) collectLocked() {
	for _, job := range s.jobs {
		switch {
		case job.Case.Progress() == harness.Finished:
			if s.reporter != nil {
				s.reporter.Report(job.Case) // moves the case to CLOSED
			}
		case job.Case.Progress() == harness.Running:
			if s.reporter != nil {
				s.reporter.Report(job.Case)
			}
		case !job.dispatched && job.IsSkip():
			s.finishSkipLocked(job, job.SkipReason())
		case !job.dispatched && s.prereqFailedLocked(job):
			job.AddCaveat("skipped (prereq failed)")
			s.finishSkipLocked(job, "skipped (prereq failed)")
		}
	}
}

func (s *Scheduler) finishSkipLocked(job *Job, reason string) {
	job.dispatched = true
	job.Case.SetResult(harness.Skip, []harness.StageResult{{
		Name:   job.Name(),
		State:  harness.Skip,
		Output: reason,
	}})
	if s.reporter != nil {
		s.reporter.Report(job.Case)
	}
}

func (s *Scheduler) prereqFailedLocked(job *Job) bool {
	for _, name := range job.Prereqs {
		if p := s.findLocked(name); p != nil && p.Failing() {
			return true
		}
	}
	return false
}

func (s *Scheduler) findLocked(name string) *Job {
	for _, job := range s.jobs {
		if job.Name() == name {
			return job
		}
	}
	return nil
}

// pickReadyLocked returns a dispatchable job and reserves its slots. A job
// is READY when every prerequisite finished without failing.
func (s *Scheduler) pickReadyLocked() *Job {
	var best *Job
	for _, job := range s.jobs {
		if job.dispatched || job.IsSkip() {
			continue
		}
		if job.Case.Progress() >= harness.Finished {
			continue
		}
		ready := true
		for _, name := range job.Prereqs {
			p := s.findLocked(name)
			if p == nil || !p.Finished() || p.Failing() {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if best == nil || job.Slots < best.Slots {
			best = job
		}
	}
	if best == nil {
		return nil
	}
	if !s.reserveHook(best) {
		return nil
	}
	return best
}

func (s *Scheduler) allFinishedLocked() bool {
	for _, job := range s.jobs {
		if job.Case.Progress() < harness.Finished {
			return false
		}
	}
	return true
}

// abortLocked cancels every running job and errors everything unfinished
func (s *Scheduler) abortLocked(caveat string) {
	s.aborted = true
	for _, job := range s.jobs {
		if job.Case.Progress() >= harness.Finished {
			continue
		}
		job.Cancel()
		if !job.dispatched {
			job.dispatched = true
			job.AddCaveat(caveat)
			job.Case.SetResult(harness.Error, []harness.StageResult{{
				Name:   job.Name(),
				State:  harness.Error,
				Output: caveat,
			}})
		}
	}
}

// worker drives dispatched jobs to FINISHED and releases their slots
func (s *Scheduler) worker(ctx context.Context, jobCh <-chan *Job, wg *sync.WaitGroup) {
	defer wg.Done()

	for job := range jobCh {
		s.runJob(ctx, job)

		s.mu.Lock()
		s.freeSlots += job.Slots
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// runJob executes one job with its wall-clock timeout armed
func (s *Scheduler) runJob(ctx context.Context, job *Job) {
	jctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()
	job.setCancel(cancel)

	s.log.Debug().Str("job", job.Name()).Dur("timeout", job.Timeout).Msg("Dispatching job")

	job.mu.Lock()
	override := job.override
	job.mu.Unlock()

	if override != nil {
		s.runOverride(jctx, job, override)
	} else {
		job.Case.Execute(jctx)
	}

	if errors.Is(jctx.Err(), context.DeadlineExceeded) {
		job.AddCaveat("TIMEOUT")
		if job.Case.Result().ExitCode() == 0 {
			job.Case.OverrideResult(harness.Error)
		}
	}
}

// runOverride runs a queue-mode replacement function in place of the case
func (s *Scheduler) runOverride(ctx context.Context, job *Job, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		job.Case.SetResult(harness.Error, []harness.StageResult{{
			Name:   job.Name(),
			State:  harness.Error,
			Output: err.Error(),
		}})
		return
	}
	job.Case.SetResult(harness.Pass, []harness.StageResult{{
		Name:  job.Name(),
		State: harness.Pass,
	}})
}

func (s *Scheduler) summarize(start time.Time) harness.Summary {
	summary := harness.Summary{
		Counts:  make(map[harness.Result]int),
		Elapsed: time.Since(start),
	}
	for _, job := range s.jobs {
		result := job.Case.Result()
		summary.Counts[result]++
		if result.ExitCode() != 0 {
			summary.ExitCode = 1
		}
	}
	return summary
}
