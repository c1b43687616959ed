package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/service"

	"github.com/ishan/user-service/internal/ratelimit"
)

// ErrRunnerStopped is returned by Submit after the runner began shutting down.
var ErrRunnerStopped = errors.New("job runner is stopped")

// releaseTimeout bounds the store calls made while finishing a job whose
// context is already canceled.
const releaseTimeout = 5 * time.Second

// AdmissionGuard is the slice of the admission controller the runner needs.
// Satisfied by *ratelimit.Guard.
type AdmissionGuard interface {
	CheckAndReserve(ctx context.Context, userID string, requestedCount int, jobID string) (ratelimit.Tier, error)
	MarkFinished(ctx context.Context, userID string, tier ratelimit.Tier, jobID string) error
}

// ProgressFunc reports workload progress. The runner persists every
// progressInterval-th report plus the final one.
type ProgressFunc func(processedCount int, message string)

// Workload performs the actual import work of a job. It returns the number
// of processed records. The runner treats every return — value, error, or
// panic — as the end of the job's reservation.
type Workload func(ctx context.Context, job Job, report ProgressFunc) (processedCount int, err error)

// RunnerOpts contains optional parameters for constructing Runner.
type RunnerOpts struct {
	// WorkerPoolSize caps how many workloads run in parallel on this replica.
	WorkerPoolSize int
	// ProgressInterval is the number of progress reports between status writes.
	ProgressInterval int
}

// Runner owns the asynchronous execution of admitted jobs: it reserves a
// slot through the guard, tracks status, runs the workload on a bounded
// worker pool, and releases the reservation on every exit path.
//
// Implements service.Unit.
type Runner struct {
	guard    AdmissionGuard
	statuses StatusStore
	workload Workload
	logger   log.FieldLogger

	progressInterval int
	sem              chan struct{}

	ctx       context.Context
	ctxCancel context.CancelFunc
	stopping  atomic.Bool
	wg        sync.WaitGroup
	stopped   chan struct{}
}

var _ service.Unit = (*Runner)(nil)

// NewRunner creates a new Runner with default options.
func NewRunner(guard AdmissionGuard, statuses StatusStore, workload Workload, logger log.FieldLogger) *Runner {
	return NewRunnerWithOpts(guard, statuses, workload, logger, RunnerOpts{})
}

// NewRunnerWithOpts creates a new Runner with an ability to specify optional parameters.
func NewRunnerWithOpts(
	guard AdmissionGuard, statuses StatusStore, workload Workload, logger log.FieldLogger, opts RunnerOpts,
) *Runner {
	if opts.WorkerPoolSize <= 0 {
		opts.WorkerPoolSize = runtime.NumCPU()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		guard:            guard,
		statuses:         statuses,
		workload:         workload,
		logger:           logger,
		progressInterval: opts.ProgressInterval,
		sem:              make(chan struct{}, opts.WorkerPoolSize),
		ctx:              ctx,
		ctxCancel:        cancel,
		stopped:          make(chan struct{}),
	}
}

// Submit admits and schedules a new import job for the user. On success the
// returned job is already persisted with status PENDING and the workload is
// queued on the worker pool. Admission rejections are returned unchanged
// from the guard.
func (r *Runner) Submit(ctx context.Context, userID string, requestedCount int) (*Job, error) {
	if r.stopping.Load() {
		return nil, ErrRunnerStopped
	}

	jobID := uuid.NewString()
	tier, err := r.guard.CheckAndReserve(ctx, userID, requestedCount, jobID)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:             jobID,
		UserID:         userID,
		Tier:           tier,
		RequestedCount: requestedCount,
		Status:         StatusPending,
		StartedAt:      time.Now().UTC(),
		Message:        "Job accepted",
	}
	if err := r.statuses.Save(ctx, job); err != nil {
		// The job will never run, so hand the slot back right away.
		if relErr := r.guard.MarkFinished(ctx, userID, tier, jobID); relErr != nil {
			r.logger.Error("release reservation after status write failure",
				log.String("job_id", jobID), log.Error(relErr))
		}
		return nil, err
	}

	r.wg.Add(1)
	go r.run(*job)

	return job, nil
}

func (r *Runner) run(job Job) {
	defer r.wg.Done()

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-r.ctx.Done():
		r.finish(&job, 0, errors.New("runner stopped before job started"))
		return
	}

	processed, err := r.execute(&job)
	r.finish(&job, processed, err)
}

// execute runs the workload and converts panics into errors so that finish
// always runs exactly once per job.
func (r *Runner) execute(job *Job) (processed int, err error) {
	defer func() {
		if p := recover(); p != nil {
			const logStackSize = 8192
			stack := make([]byte, logStackSize)
			stack = stack[:runtime.Stack(stack, false)]
			r.logger.Error(fmt.Sprintf("workload panic: %+v", p),
				log.String("job_id", job.ID), log.Bytes("stack", stack))
			err = fmt.Errorf("workload panic: %v", p)
		}
	}()

	job.Status = StatusInProgress
	job.Message = "Import in progress"
	r.saveStatus(job)

	var reports int
	report := func(processedCount int, message string) {
		job.ProcessedCount = processedCount
		if message != "" {
			job.Message = message
		}
		reports++
		if reports%r.progressInterval == 0 {
			r.saveStatus(job)
		}
	}

	return r.workload(r.ctx, *job, report)
}

// finish releases the reservation and writes the terminal status. Runs under
// its own timeout because the runner's context may already be canceled.
func (r *Runner) finish(job *Job, processed int, workloadErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := r.guard.MarkFinished(ctx, job.UserID, job.Tier, job.ID); err != nil {
		r.logger.Error("mark job finished failed, listener will reclaim the slot",
			log.String("job_id", job.ID), log.Error(err))
	}

	job.ProcessedCount = processed
	job.FinishedAt = time.Now().UTC()
	if workloadErr != nil {
		job.Status = StatusFailed
		job.Message = workloadErr.Error()
		r.logger.Error("import job failed",
			log.String("job_id", job.ID), log.String("user_id", job.UserID), log.Error(workloadErr))
	} else {
		job.Status = StatusCompleted
		job.Message = fmt.Sprintf("Imported %d users", processed)
		r.logger.Info("import job completed",
			log.String("job_id", job.ID), log.String("user_id", job.UserID), log.Int("processed", processed))
	}
	r.saveStatusCtx(ctx, job)
}

func (r *Runner) saveStatus(job *Job) {
	r.saveStatusCtx(r.ctx, job)
}

func (r *Runner) saveStatusCtx(ctx context.Context, job *Job) {
	if err := r.statuses.Save(ctx, job); err != nil {
		r.logger.Warn("save job status failed",
			log.String("job_id", job.ID), log.String("status", string(job.Status)), log.Error(err))
	}
}

// Start blocks until Stop is called. Implements service.Unit.
func (r *Runner) Start(fatalError chan<- error) {
	<-r.stopped
}

// Stop stops accepting new jobs. A graceful stop waits for the running
// workloads to drain; a non-graceful one cancels them first (their
// reservations are still released through finish).
// Implements service.Unit.
func (r *Runner) Stop(gracefully bool) error {
	if !r.stopping.CompareAndSwap(false, true) {
		return nil
	}
	defer close(r.stopped)
	if !gracefully {
		r.ctxCancel()
	}
	r.wg.Wait()
	r.ctxCancel()
	return nil
}
