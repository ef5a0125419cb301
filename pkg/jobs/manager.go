package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/iddaa-lens/rds-snapshots/pkg/logger"
)

type cronJobManager struct {
	cron    *cron.Cron
	jobs    []Job
	timeout time.Duration
	logger  *logger.Logger
}

// NewJobManager creates a job manager running schedules in UTC.
// A tick is skipped while the previous run of the same job is still executing.
func NewJobManager(timeout time.Duration, log *logger.Logger) JobManager {
	if log == nil {
		log = logger.New("job-manager")
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &cronJobManager{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		jobs:    make([]Job, 0),
		timeout: timeout,
		logger:  log,
	}
}

func (m *cronJobManager) RegisterJob(job Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}

	m.logger.Info().
		Str("action", "register_job").
		Str("job_name", job.Name()).
		Str("schedule", job.Schedule()).
		Msg("Registering job")

	var running sync.Mutex
	_, err := m.cron.AddFunc(job.Schedule(), func() {
		if !running.TryLock() {
			m.logger.Warn().
				Str("job_name", job.Name()).
				Str("action", "job_skipped_running").
				Msg("Job still running, skipping tick")
			return
		}
		defer running.Unlock()

		RunOnce(context.Background(), job, m.timeout, m.logger)
	})

	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.Name(), err)
	}

	m.jobs = append(m.jobs, job)
	return nil
}

func (m *cronJobManager) Start() {
	m.logger.Info().
		Str("action", "start").
		Int("job_count", len(m.jobs)).
		Msg("Starting job manager")
	m.cron.Start()
}

func (m *cronJobManager) Stop() {
	m.logger.Info().Str("action", "stop_initiated").Msg("Stopping job manager")
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info().Str("action", "stopped").Msg("Job manager stopped")
}

func (m *cronJobManager) GetJobs() []Job {
	return append([]Job(nil), m.jobs...)
}

// RunOnce executes job with a fresh run ID and timeout, logging start and outcome.
// The job's error is logged and returned.
func RunOnce(ctx context.Context, job Job, timeout time.Duration, log *logger.Logger) error {
	requestID := uuid.New().String()
	jobLogger := log.WithRequestID(requestID).WithJob(job.Name())

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx = jobLogger.ToContext(ctx)

	jobLogger.LogJobStart(job.Name(), job.Schedule())
	start := time.Now()

	if err := job.Execute(ctx); err != nil {
		jobLogger.Error().
			Err(err).
			Str("action", "job_failed").
			Dur("duration", time.Since(start)).
			Msg("Job execution failed")
		return err
	}

	jobLogger.Info().
		Str("action", "job_finished").
		Dur("duration", time.Since(start)).
		Msg("Job execution finished")
	return nil
}
