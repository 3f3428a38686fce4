package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probo/internal/common"
	"github.com/ternarybob/probo/internal/harness"
	"github.com/ternarybob/probo/internal/params"
	"github.com/ternarybob/probo/internal/storage"
	"golang.org/x/time/rate"
)

// ErrExternalQueue wraps failures of the external submit command
var ErrExternalQueue = errors.New("external queue failure")

// QueueMode selects the QueueManager pass over a batch
type QueueMode int

const (
	// QueueSubmit launches one executor per test directory through the
	// external batch system
	QueueSubmit QueueMode = iota
	// QueueReap applies the results an earlier external run produced
	QueueReap
	// QueueCleanup deletes the recorded artifact files and silences the batch
	QueueCleanup
)

// QueueManager is a Scheduler plugin that delegates execution to an
// external batch system. The submission pass flattens the dependency graph,
// elects one executor job per test directory and writes a submission script
// from the configured template; the reap pass (a later invocation over the
// same batch) applies the statuses the external run recorded.
type QueueManager struct {
	*Scheduler
	plugin  string
	mode    QueueMode
	cfg     common.QueueConfig
	store   *storage.SessionStore
	limiter *rate.Limiter
	log     arbor.ILogger
}

// NewQueueManager wraps a scheduler in queue-delegation mode
func NewQueueManager(sched *Scheduler, store *storage.SessionStore, cfg common.QueueConfig, plugin string, mode QueueMode) *QueueManager {
	limit := rate.Inf
	if cfg.SubmitRate > 0 {
		limit = rate.Limit(cfg.SubmitRate)
	}
	burst := cfg.SubmitBurst
	if burst < 1 {
		burst = 1
	}

	q := &QueueManager{
		Scheduler: sched,
		plugin:    plugin,
		mode:      mode,
		cfg:       cfg,
		store:     store,
		limiter:   rate.NewLimiter(limit, burst),
		log:       common.GetLogger(),
	}

	sched.SetAugmenter(q)
	// The external system owns resource accounting; grant slots freely.
	sched.reserveHook = func(*Job) bool { return true }

	return q
}

// AugmentJobs intercepts the assembled batch per the active mode. The
// external system is presumed not to encode dependencies, so prerequisites
// are removed first.
func (q *QueueManager) AugmentJobs(jobs []*Job) error {
	for _, job := range jobs {
		job.Prereqs = nil
	}

	if q.mode == QueueCleanup {
		return q.cleanup(jobs)
	}

	for dir, group := range groupByDir(jobs) {
		switch q.mode {
		case QueueReap:
			if err := q.reapGroup(dir, group); err != nil {
				return err
			}
		case QueueSubmit:
			if err := q.prepareGroup(dir, group); err != nil {
				return err
			}
		}
	}
	return nil
}

func groupByDir(jobs []*Job) map[string][]*Job {
	groups := make(map[string][]*Job)
	for _, job := range jobs {
		groups[job.TestDir] = append(groups[job.TestDir], job)
	}
	return groups
}

// prepareGroup elects one executor job per test-file directory and finishes
// the rest with a non-terminal LAUNCHING caveat. The executor's execution
// is replaced by the submission function.
func (q *QueueManager) prepareGroup(dir string, group []*Job) error {
	existing, err := q.store.FindSubmission(dir, q.plugin)
	if err != nil {
		return err
	}
	if existing != nil {
		// Launched by an earlier invocation; results are not in yet
		for _, job := range group {
			job.AddCaveat("QUEUED")
			job.finish(harness.NoResult)
		}
		return nil
	}

	var executor *Job
	slots := 1
	maxTime := 0.0
	for _, job := range group {
		if job.IsSkip() {
			continue
		}
		job.ClearCaveats() // caveats do not apply during job submission
		if job.Slots > slots {
			slots = job.Slots
		}
		maxTime += job.Timeout.Seconds()
		if executor == nil {
			executor = job
		}
	}
	if executor == nil {
		return nil
	}

	executor.SetMeta("QUEUEING", q.plugin)
	executor.SetMeta("QUEUEING_NCPUS", slots)
	executor.SetMeta("QUEUEING_MAXTIME", maxTime)

	for _, job := range group {
		if job == executor || job.IsSkip() {
			continue
		}
		// Companions stay untouched pending the external batch; only the
		// executor ever reaches a worker.
		job.AddCaveat("LAUNCHING")
		job.finish(harness.NoResult)
	}

	executor.SetOverride(func(ctx context.Context) error {
		return q.submit(ctx, dir, executor, slots, maxTime)
	})
	return nil
}

// submit writes the submission script from the template and invokes the
// external submit command, recording the generated artifacts.
func (q *QueueManager) submit(ctx context.Context, dir string, executor *Job, slots int, maxTime float64) error {
	if err := q.limiter.Wait(ctx); err != nil {
		return err
	}

	content, err := os.ReadFile(q.cfg.Template)
	if err != nil {
		return fmt.Errorf("unable to read the submission template: %w", err)
	}

	values := templateValues(executor.Case.Runner().Parameters())
	values["PLUGIN"] = q.plugin
	values["TEST_DIR"] = dir
	values["SLOTS"] = fmt.Sprintf("%d", slots)
	values["MAX_TIME"] = fmt.Sprintf("%.0f", maxTime)
	values["RESULTS_FILE"] = filepath.Join(dir, q.cfg.ResultsFileName)

	scriptPath := filepath.Join(dir, fmt.Sprintf("%s_launch.sh", strings.ToLower(q.plugin)))
	if err := os.WriteFile(scriptPath, []byte(RenderTemplate(string(content), values)), 0755); err != nil {
		return fmt.Errorf("unable to write the submission script: %w", err)
	}

	argv := strings.Fields(q.cfg.SubmitCommand)
	if len(argv) == 0 {
		return fmt.Errorf("%w: no submit command configured", ErrExternalQueue)
	}
	argv = append(argv, scriptPath)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %v\n%s", ErrExternalQueue, err, out)
	}

	q.log.Info().Str("dir", dir).Str("script", scriptPath).Msg("Submitted to external queue")

	return q.store.SaveSubmission(&storage.Submission{
		ID:        common.NewSubmissionID(),
		TestDir:   dir,
		Plugin:    q.plugin,
		Slots:     slots,
		MaxTime:   maxTime,
		Artifacts: []string{scriptPath, filepath.Join(dir, q.cfg.ResultsFileName)},
		CreatedAt: time.Now(),
	})
}

// reapGroup applies the results file an external run produced for one test
// directory. An absent file leaves the group QUEUED; tests missing from
// the file are skipped as not originally launched.
func (q *QueueManager) reapGroup(dir string, group []*Job) error {
	path := filepath.Join(dir, q.cfg.ResultsFileName)
	if _, err := os.Stat(path); err != nil {
		for _, job := range group {
			job.AddCaveat("QUEUED")
			job.finish(harness.NoResult)
		}
		return nil
	}

	results, err := LoadResultsFile(path)
	if err != nil {
		return err
	}

	entries := results.Lookup(dir, q.plugin)
	for _, job := range group {
		entry, ok := entries[job.Name()]
		if !ok {
			job.AddCaveat("not originally launched")
			job.finish(harness.Skip)
			continue
		}

		state := harness.ResultFromDisplay(entry.Status)
		job.markDispatched()
		job.Case.SetResult(state, []harness.StageResult{{
			Name:   job.Name(),
			State:  state,
			Output: entry.Output,
		}})
		job.Case.SetElapsed(time.Duration(entry.Timing * float64(time.Second)))
		for _, caveat := range entry.Caveats {
			job.AddCaveat(caveat)
		}
	}
	return nil
}

// cleanup deletes every artifact recorded in the session store for the
// batch's directories and silences all jobs.
func (q *QueueManager) cleanup(jobs []*Job) error {
	for _, job := range jobs {
		job.finish(harness.NoResult)
	}

	for dir := range groupByDir(jobs) {
		sub, err := q.store.FindSubmission(dir, q.plugin)
		if err != nil {
			return err
		}
		if sub == nil {
			continue
		}
		for _, artifact := range sub.Artifacts {
			// Generated queue files only ever live in the test directory
			if filepath.Dir(artifact) != dir {
				continue
			}
			if err := os.Remove(artifact); err != nil && !os.IsNotExist(err) {
				q.log.Warn().Err(err).Str("artifact", artifact).Msg("Failed to remove artifact")
			}
		}
		if err := q.store.DeleteSubmission(dir, q.plugin); err != nil {
			return err
		}
	}
	return nil
}

// templateValues flattens an object's parameters into upper-cased template
// substitutions. Nested groups contribute PREFIX_NAME keys.
func templateValues(set *params.Set) map[string]string {
	values := make(map[string]string)
	flattenValues(values, "", set)
	return values
}

func flattenValues(values map[string]string, prefix string, set *params.Set) {
	for _, key := range set.Keys() {
		if sub := set.Sub(key); sub != nil {
			flattenValues(values, prefix+strings.ToUpper(key)+"_", sub)
			continue
		}
		v := set.Get(key)
		if v == nil {
			continue
		}
		name := prefix + strings.ToUpper(key)
		switch t := v.(type) {
		case []string:
			values[name] = strings.Join(t, " ")
		default:
			values[name] = fmt.Sprintf("%v", t)
		}
	}
}
