// Package indexer: JobController enforces the single-active-job
// ingestion state machine (idle -> running -> terminal -> idle).
package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bhanu1232/RepoRAG/internal/core"
	"github.com/bhanu1232/RepoRAG/internal/observability"
)

// DefaultJobTimeout bounds an ingestion job when the caller configures zero.
const DefaultJobTimeout = 10 * time.Minute

// JobController runs one Indexer job at a time in the background and
// exposes its progress.
type JobController struct {
	indexer    Indexer
	jobTimeout time.Duration
	logger     *observability.Logger

	mu      sync.RWMutex
	running bool
	status  Progress
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewJobController builds a JobController around indexer. A non-positive
// timeout falls back to DefaultJobTimeout.
func NewJobController(indexer Indexer, jobTimeout time.Duration) *JobController {
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	return &JobController{
		indexer:    indexer,
		jobTimeout: jobTimeout,
		status:     Progress{Phase: PhaseIdle},
	}
}

// WithLogger attaches a logger that records each job's terminal phase.
// Returns c for chaining at construction time.
func (c *JobController) WithLogger(logger *observability.Logger) *JobController {
	c.logger = logger
	return c
}

// Start begins a job in the background. It enforces the single-active-job
// invariant: a second Start while one is running returns core.ErrKindConflict.
// The job is bounded by the controller's configured timeout; a hung
// fetch/walk/embed call is cancelled rather than holding the active-job slot
// forever.
func (c *JobController) Start(ctx context.Context, req Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return "", core.NewError(core.ErrKindConflict, "a job is already running", nil)
	}

	jobID := uuid.NewString()
	jobCtx, cancel := context.WithTimeout(context.Background(), c.jobTimeout)
	c.cancel = cancel
	c.running = true
	c.status = Progress{
		JobID:     jobID,
		RepoURL:   req.RepoURL,
		Phase:     PhaseWalking,
		StartedAt: time.Now(),
	}

	c.wg.Add(1)
	go c.run(jobCtx, jobID, req)

	return jobID, nil
}

func (c *JobController) run(ctx context.Context, jobID string, req Request) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	startedAt := time.Now()
	result, err := c.indexer.Index(ctx, req, func(prog Progress) {
		prog.JobID = jobID
		c.setStatus(prog)
	})

	c.mu.Lock()
	if err != nil {
		c.status.Phase = PhaseError
		c.status.Err = err.Error()
	} else {
		c.status.Phase = PhaseDone
	}
	c.status.FinishedAt = time.Now()
	phase := c.status.Phase
	c.mu.Unlock()

	if c.logger != nil {
		jobCtx := context.WithValue(context.Background(), observability.JobIDKey, jobID)
		jobCtx = context.WithValue(jobCtx, observability.RepoIDKey, result.RepoID)
		c.logger.LogIndexerJob(jobCtx, string(phase), req.RepoURL, result.ChunkCount, time.Since(startedAt))
	}
}

// setStatus merges an in-flight progress snapshot, preserving job
// identity and monotonicity of the counters the indexer reports.
func (c *JobController) setStatus(prog Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prog.JobID != c.status.JobID {
		return
	}
	started := c.status.StartedAt
	prog.StartedAt = started
	c.status = prog
}

// Cancel requests cancellation of the active job, if any, and returns
// immediately; the job transitions to the error terminal state once its
// goroutine observes the cancellation.
func (c *JobController) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.cancel == nil {
		return fmt.Errorf("no job is running")
	}
	c.cancel()
	return nil
}

// Status returns the most recent progress snapshot.
func (c *JobController) Status() Progress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// HealthCheck reports whether the active job (if any) is still making
// progress. A job running past the controller's timeout with no terminal
// status is reported stuck; Start's own context deadline should already be
// unwinding it, so observing this for long means the job isn't responding to
// cancellation.
func (c *JobController) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.running && !c.status.StartedAt.IsZero() {
		if elapsed := time.Since(c.status.StartedAt); elapsed > c.jobTimeout {
			return fmt.Errorf("job %s appears stuck (running for %v, timeout %v)",
				c.status.JobID, elapsed, c.jobTimeout)
		}
	}

	if c.status.Phase == PhaseError && c.status.Err != "" {
		return fmt.Errorf("last job %s ended in error: %s", c.status.JobID, c.status.Err)
	}

	return nil
}
