package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/iddaa-lens/rds-snapshots/internal/config"
	"github.com/iddaa-lens/rds-snapshots/pkg/database"
	"github.com/iddaa-lens/rds-snapshots/pkg/executor"
	"github.com/iddaa-lens/rds-snapshots/pkg/jobs"
	"github.com/iddaa-lens/rds-snapshots/pkg/logger"
	"github.com/iddaa-lens/rds-snapshots/pkg/metrics"
	"github.com/iddaa-lens/rds-snapshots/pkg/provider"
	"github.com/iddaa-lens/rds-snapshots/pkg/scheduler"
	"github.com/iddaa-lens/rds-snapshots/pkg/sweep"
)

// app holds everything one invocation needs. Every condition it handles
// itself (bad region, missing instance, provider errors) is logged and the
// process still exits 0.
type app struct {
	cfg      *config.Config
	logger   *logger.Logger
	client   provider.Client
	policy   scheduler.Policy
	metrics  *metrics.Metrics
	lockConn *pgx.Conn
	locks    jobs.JobLockManager
}

func newApp(cmd *cobra.Command) (*app, bool) {
	logger.SetupLogger()
	log := logger.New("rds-snapshots")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error().Err(err).Str("action", "config_failed").Msg("Failed to load configuration - bailing out")
		return nil, false
	}

	if err := cfg.ValidateRegion(); err != nil {
		log.Error().
			Str("region", cfg.AWS.Region).
			Strs("permitted_regions", cfg.AWS.PermittedRegions).
			Str("action", "region_not_permitted").
			Msgf("Region '%s' not in permitted list - bailing out", cfg.AWS.Region)
		return nil, false
	}

	policy, ok := scheduler.PolicyByName(cfg.Snapshot.Policy)
	if !ok {
		log.Error().
			Str("policy", cfg.Snapshot.Policy).
			Str("action", "unknown_policy").
			Msgf("Unknown snapshot policy '%s' - bailing out", cfg.Snapshot.Policy)
		return nil, false
	}
	if cfg.Snapshot.DefaultSchedule != "" {
		policy.DefaultSchedule = cfg.Snapshot.DefaultSchedule
	}
	if cfg.Snapshot.DefaultRetentionDays > 0 {
		policy.DefaultRetentionDays = cfg.Snapshot.DefaultRetentionDays
	}

	client, err := provider.NewRDSClient(ctx, cfg.AWS.Region, provider.BreakerConfig{
		MaxFailures: uint32(cfg.AWS.BreakerMaxFailures),
		Timeout:     cfg.BreakerTimeout(),
	})
	if err != nil {
		log.Error().Err(err).Str("action", "client_failed").Msg("Failed to create RDS client - bailing out")
		return nil, false
	}

	a := &app{
		cfg:     cfg,
		logger:  log,
		client:  client,
		policy:  policy,
		metrics: metrics.New(),
	}

	if cfg.Lock.DatabaseURL != "" {
		conn, err := database.Connect(ctx, cfg.Lock.DatabaseURL, database.DefaultConfig())
		if err != nil {
			log.Error().Err(err).Str("action", "lock_db_failed").Msg("Failed to connect to lock database - bailing out")
			return nil, false
		}
		a.lockConn = conn
		a.locks = jobs.NewPostgreSQLLockManager(conn, cfg.AWS.Region)
	}

	log.Info().
		Str("region", cfg.AWS.Region).
		Str("policy", policy.Name).
		Str("default_schedule", policy.DefaultSchedule).
		Int("default_retention_days", policy.DefaultRetentionDays).
		Bool("locking", a.locks != nil).
		Str("action", "startup").
		Msg("RDS snapshot tooling configured")

	return a, true
}

func (a *app) Close() {
	if a.lockConn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.lockConn.Close(ctx)
	}
}

func (a *app) TakeSnapshotsJob() jobs.Job {
	exec := executor.New(a.client, a.metrics, logger.New("executor"))
	engine := scheduler.NewEngine(a.client, exec, a.policy, a.metrics, logger.New("scheduler"))
	return a.guard(jobs.NewTakeSnapshotsJob(a.client, engine, a.cfg.Jobs.TakeSnapshotsCron, time.Now, a.metrics))
}

func (a *app) DeleteSnapshotsJob() jobs.Job {
	sweeper := sweep.New(a.client, a.metrics, logger.New("sweep"))
	return a.guard(jobs.NewDeleteSnapshotsJob(sweeper, a.cfg.Jobs.DeleteSnapshotsCron, time.Now, a.metrics))
}

func (a *app) InstanceSnapshotJob() (jobs.Job, bool) {
	id, err := a.cfg.RequireInstanceID()
	if err != nil {
		a.logger.Error().Str("action", "instance_id_missing").Msg("RDS_INSTANCE_ID undefined - bailing out")
		return nil, false
	}
	exec := executor.New(a.client, a.metrics, logger.New("executor"))
	return a.guard(jobs.NewInstanceSnapshotJob(a.client, exec, id, a.policy.DefaultRetentionDays, a.cfg.Jobs.TakeSnapshotsCron, time.Now)), true
}

func (a *app) guard(job jobs.Job) jobs.Job {
	if a.locks == nil {
		return job
	}
	return jobs.NewLockedJob(job, a.locks, a.cfg.LockTimeout())
}

// RunOnce runs job and pushes metrics; a job error is already logged by jobs.RunOnce
func (a *app) RunOnce(job jobs.Job) {
	_ = jobs.RunOnce(context.Background(), job, a.cfg.JobTimeout(), a.logger)
	a.push(job.Name())
}

func (a *app) push(jobName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, jobName); err != nil {
		a.logger.Warn().Err(err).Str("job_name", jobName).Str("action", "metrics_push_failed").Msg("Failed to push metrics")
	}
}

// Serve registers the take and delete jobs and blocks until SIGINT or SIGTERM
func (a *app) Serve() error {
	manager := jobs.NewJobManager(a.cfg.JobTimeout(), a.logger)

	for _, job := range []jobs.Job{a.TakeSnapshotsJob(), a.DeleteSnapshotsJob()} {
		if err := manager.RegisterJob(pushing{Job: job, push: a.push}); err != nil {
			return err
		}
	}

	manager.Start()
	a.logger.Info().
		Int("job_count", len(manager.GetJobs())).
		Str("action", "service_started").
		Msg("Cron job service started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.logger.Info().Str("action", "shutdown").Msg("Shutting down cron job service...")
	manager.Stop()
	return nil
}

// pushing pushes metrics after every scheduled run
type pushing struct {
	jobs.Job
	push func(jobName string)
}

func (p pushing) Execute(ctx context.Context) error {
	defer p.push(p.Name())
	return p.Job.Execute(ctx)
}
