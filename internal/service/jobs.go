package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a background job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// EnrichResult summarizes an applied enrichment batch.
type EnrichResult struct {
	Enriched int
	Failed   int
	Missing  []string // planning keys that vanished before the batch landed
}

// Job represents a background enrichment batch.
type Job struct {
	ID          string
	Name        string
	Status      JobStatus
	Keys        []string // planning keys in the batch
	Progress    int
	Total       int
	Result      *EnrichResult
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time

	mu   sync.RWMutex
	done chan struct{}
}

// Done is closed when the job completes or fails.
func (j *Job) Done() <-chan struct{} { return j.done }

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Job{
		ID:          j.ID,
		Name:        j.Name,
		Status:      j.Status,
		Keys:        slices.Clone(j.Keys),
		Progress:    j.Progress,
		Total:       j.Total,
		Result:      j.Result,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// JobManager runs background jobs with bounded concurrency.
type JobManager struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewJobManager creates a job manager running at most concurrency jobs.
func NewJobManager(concurrency int, logger *slog.Logger) *JobManager {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		sem:    make(chan struct{}, concurrency),
		logger: logger,
	}
}

// CreateJob returns a new pending job.
func (m *JobManager) CreateJob(name string, keys []string) *Job {
	job := &Job{
		ID:        uuid.New().String()[:8], // Short ID for convenience
		Name:      name,
		Status:    JobStatusPending,
		Keys:      keys,
		Total:     len(keys),
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	m.logger.Info("job created", "job_id", job.ID, "name", name, "entries", len(keys))
	return job
}

// Run executes fn for job in the background. A panic fails the job.
func (m *JobManager) Run(ctx context.Context, job *Job, fn func(ctx context.Context, job *Job) (*EnrichResult, error)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("job goroutine panicked", "job_id", job.ID, "panic", r)
				m.Fail(job, fmt.Errorf("internal panic: %v", r))
			}
		}()

		select {
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
		case <-ctx.Done():
			m.Fail(job, ctx.Err())
			return
		}

		m.SetRunning(job)
		result, err := fn(ctx, job)
		if err != nil {
			m.Fail(job, err)
			return
		}
		m.Complete(job, result)
	}()
}

// Wait blocks until every started job finished.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// UpdateProgress updates job progress.
func (m *JobManager) UpdateProgress(job *Job, current int) {
	job.mu.Lock()
	job.Progress = current
	job.mu.Unlock()
}

// SetRunning marks job as running.
func (m *JobManager) SetRunning(job *Job) {
	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()
}

// Complete marks job as completed with result.
func (m *JobManager) Complete(job *Job, result *EnrichResult) {
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.Result = result
	job.Progress = job.Total
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()
	close(job.done)

	m.logger.Info("job completed", "job_id", job.ID, "enriched", result.Enriched, "failed", result.Failed)
}

// Fail marks job as failed with error.
func (m *JobManager) Fail(job *Job, err error) {
	job.mu.Lock()
	if job.Status == JobStatusCompleted || job.Status == JobStatusFailed {
		job.mu.Unlock()
		return
	}
	job.Status = JobStatusFailed
	job.Error = err.Error()
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()
	close(job.done)

	m.logger.Error("job failed", "job_id", job.ID, "error", err)
}
