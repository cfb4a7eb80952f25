package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/desertthunder/libsync/internal/metrics"
	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/repositories"
	"github.com/desertthunder/libsync/internal/services"
	"github.com/desertthunder/libsync/internal/shared"
)

const queuedMessage = "Waiting in queue"

// Options tunes retries, retention and polling of the [Coordinator].
type Options struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	KeepCompleted  int
	KeepFailed     int
	PollInterval   time.Duration
}

// DefaultOptions returns the coordinator defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    3,
		BackoffInitial: 5 * time.Second,
		BackoffMax:     5 * time.Minute,
		KeepCompleted:  5,
		KeepFailed:     10,
		PollInterval:   2 * time.Second,
	}
}

// OptionsFromConfig reads [Options] from the sync config section, keeping defaults for unset values.
func OptionsFromConfig(cfg shared.SyncConfig) Options {
	opts := DefaultOptions()
	if cfg.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BackoffInitial > 0 {
		opts.BackoffInitial = cfg.BackoffInitial
	}
	if cfg.BackoffMax > 0 {
		opts.BackoffMax = cfg.BackoffMax
	}
	if cfg.PollInterval > 0 {
		opts.PollInterval = cfg.PollInterval
	}
	if cfg.KeepCompleted > 0 {
		opts.KeepCompleted = cfg.KeepCompleted
	}
	if cfg.KeepFailed > 0 {
		opts.KeepFailed = cfg.KeepFailed
	}
	return opts
}

// ProviderFactory builds the provider client for a job. The returned session, when non-nil, is watched for
// refreshed credentials.
type ProviderFactory func(ns models.Namespace, creds models.Credentials) (services.Provider, *services.Session, error)

// NewProviderFactory builds provider clients from the credentials and sync sections of cfg. Tokens are refreshed
// through the provider's OAuth client when one is configured.
func NewProviderFactory(cfg *shared.Config, logger *log.Logger) ProviderFactory {
	opts := services.ClientOptions{RateLimit: cfg.Sync.RateLimit, Timeout: cfg.Sync.RequestTimeout, Logger: logger}

	return func(ns models.Namespace, creds models.Credentials) (services.Provider, *services.Session, error) {
		pc, err := services.ProviderConfig(ns.Provider, cfg)
		if err != nil {
			return nil, nil, err
		}

		var refresher services.TokenRefresher
		if oc, err := services.OAuthConfig(ns.Provider, pc); err == nil {
			refresher = services.NewOAuthRefresher(oc)
		}

		session := services.NewSession(ns.Provider, creds, refresher)
		session.SetLogger(logger)

		p, err := services.NewProvider(ns.Provider, session, opts)
		if err != nil {
			return nil, nil, err
		}
		return p, session, nil
	}
}

// JobStatus is the pollable view of a sync job.
//
// Stage and Message are derived from State and Progress only.
type JobStatus struct {
	ID            string          `json:"id"`
	Namespace     string          `json:"namespace"`
	State         models.JobState `json:"state"`
	Progress      int             `json:"progress"`
	Stage         string          `json:"stage"`
	Message       string          `json:"message"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// NewJobStatus maps a queued job to its status.
func NewJobStatus(job *models.SyncJob) *JobStatus {
	status := &JobStatus{
		ID:            job.ID,
		Namespace:     job.Namespace.String(),
		State:         job.State,
		Progress:      job.Progress,
		FailureReason: job.FailureReason,
		Attempts:      job.Attempts,
		MaxAttempts:   job.MaxAttempts,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
		FinishedAt:    job.FinishedAt,
	}

	var stage Stage
	switch job.State {
	case models.JobWaiting:
		status.Progress = 0
		status.Stage = StageStarted.String()
		status.Message = queuedMessage
		return status
	case models.JobCompleted:
		stage = StageCompleted
	case models.JobFailed:
		stage = StageFailed
	default:
		stage = StageForProgress(job.Progress)
	}

	status.Stage = stage.String()
	status.Message = stage.Message()
	return status
}

// Done reports whether the job reached a terminal state.
func (s *JobStatus) Done() bool {
	return s.State.Terminal()
}

// Coordinator queues sync jobs and runs them with at most one waiting or active job per namespace.
type Coordinator struct {
	jobs      *repositories.JobRepository
	library   *repositories.LibraryRepository
	engine    *SyncEngine
	providers ProviderFactory
	opts      Options
	logger    *log.Logger
	wake      chan struct{}
	now       func() time.Time
}

// NewCoordinator creates a coordinator.
func NewCoordinator(
	jobs *repositories.JobRepository, library *repositories.LibraryRepository,
	providers ProviderFactory, opts Options, logger *log.Logger,
) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Coordinator{
		jobs:      jobs,
		library:   library,
		engine:    NewSyncEngine(library, logger),
		providers: providers,
		opts:      opts,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StartSync enqueues a sync for ns. When a job for ns is already waiting or active, its id is returned with
// existing set and nothing is enqueued.
func (c *Coordinator) StartSync(ctx context.Context, ns models.Namespace, creds models.Credentials) (string, bool, error) {
	if !ns.Valid() || ns.Provider == "" {
		return "", false, fmt.Errorf("%w: namespace %q", shared.ErrInvalidInput, ns.String())
	}
	if creds.AccessToken == "" {
		return "", false, fmt.Errorf("%w: access token", shared.ErrMissingCredentials)
	}

	job := &models.SyncJob{
		ID:          uuid.NewString(),
		Namespace:   ns,
		Credentials: creds,
		MaxAttempts: c.opts.MaxAttempts,
	}

	id, existing, err := c.jobs.Enqueue(ctx, job)
	if err != nil {
		return "", false, err
	}

	if existing {
		c.logger.Debug("sync already queued", "namespace", ns.String(), "job", id)
		return id, true, nil
	}

	c.logger.Info("sync queued", "namespace", ns.String(), "job", id)
	c.notify()
	return id, false, nil
}

// ActiveJob returns the waiting or active job id for ns.
func (c *Coordinator) ActiveJob(ctx context.Context, ns models.Namespace) (string, bool, error) {
	return c.jobs.ActiveID(ctx, ns)
}

// Status returns the status of a job.
func (c *Coordinator) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return NewJobStatus(job), nil
}

// History returns the newest retained jobs for ns.
func (c *Coordinator) History(ctx context.Context, ns models.Namespace, limit int) ([]*JobStatus, error) {
	jobs, err := c.jobs.List(ctx, ns, limit)
	if err != nil {
		return nil, err
	}

	statuses := make([]*JobStatus, len(jobs))
	for i, job := range jobs {
		statuses[i] = NewJobStatus(job)
	}
	return statuses, nil
}

// LibraryStatus reports the sync status of ns. Syncing is set while a job is waiting or active, in which case the
// cached library may be partial.
func (c *Coordinator) LibraryStatus(ctx context.Context, ns models.Namespace) (status models.SyncStatus, syncing bool, err error) {
	if _, syncing, err = c.jobs.ActiveID(ctx, ns); err != nil {
		return status, false, err
	}
	status, err = c.library.ReadSyncStatus(ctx, ns)
	return status, syncing, err
}

// DeleteLibrary removes the cached library of ns. It fails with [shared.ErrSyncInProgress] while a job for ns is
// waiting or active. The namespace is locked for the duration of the delete so no sync can be queued or claimed
// against a half-deleted library.
func (c *Coordinator) DeleteLibrary(ctx context.Context, ns models.Namespace) (int, error) {
	if !ns.Valid() || ns.Provider == "" {
		return 0, fmt.Errorf("%w: namespace %q", shared.ErrInvalidInput, ns.String())
	}
	if err := c.jobs.LockNamespace(ctx, ns); err != nil {
		return 0, err
	}
	defer func() {
		if err := c.jobs.UnlockNamespace(context.WithoutCancel(ctx), ns); err != nil {
			c.logger.Warn("failed to release library lock", "namespace", ns.String(), "error", err)
		}
	}()

	n, err := c.library.DeleteNamespace(ctx, ns)
	if err != nil {
		return 0, err
	}
	c.logger.Info("library deleted", "namespace", ns.String(), "keys", n)
	return n, nil
}

// Recover returns jobs left active by a previous process to the queue.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	n, err := c.jobs.RequeueActive(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.Warn("requeued interrupted sync jobs", "count", n)
		c.notify()
	}
	return n, nil
}

// RunNext claims and runs the next runnable job. It reports false when the queue had nothing to run.
func (c *Coordinator) RunNext(ctx context.Context) (bool, error) {
	job, err := c.jobs.ClaimNext(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	c.process(ctx, job)
	return true, nil
}

// Wait polls a job until it reaches a terminal state, calling fn with every status read.
func (c *Coordinator) Wait(ctx context.Context, jobID string, interval time.Duration, fn func(*JobStatus)) (*JobStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if fn != nil {
			fn(status)
		}
		if status.Done() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RefreshGauges publishes the job counts per state.
func (c *Coordinator) RefreshGauges(ctx context.Context) {
	counts, err := c.jobs.CountByState(ctx)
	if err != nil {
		c.logger.Warn("failed to count jobs", "error", err)
		return
	}

	byName := make(map[string]int, len(counts))
	for state, n := range counts {
		byName[string(state)] = n
	}
	metrics.UpdateJobGauges(byName)
}

// process runs one claimed job and records its outcome.
func (c *Coordinator) process(ctx context.Context, job *models.SyncJob) {
	ns := job.Namespace
	logger := c.logger.With("job", job.ID, "namespace", ns.String(), "attempt", job.Attempts)
	logger.Info("sync started")
	start := time.Now()

	// Terminal bookkeeping must land even when ctx is cancelled by shutdown.
	bg := context.WithoutCancel(ctx)

	provider, session, err := c.providers(ns, job.Credentials)
	if err != nil {
		c.fail(bg, job, err, logger)
		metrics.RecordSyncJob(ns.Provider, "failed", 0)
		return
	}
	if session != nil {
		session.OnRefresh(func(creds models.Credentials) {
			if err := c.jobs.UpdateCredentials(bg, job.ID, creds); err != nil {
				logger.Warn("failed to store refreshed credentials", "error", err)
			}
		})
	}

	last := 0
	report := func(u ProgressUpdate) {
		if u.Percent < last {
			return
		}
		last = u.Percent
		if err := c.jobs.UpdateProgress(bg, job.ID, u.Percent); err != nil {
			logger.Warn("failed to store progress", "error", err)
		}
		logger.Debug(u.Message, "progress", u.Percent, "stage", u.Stage)
	}

	_, err = c.engine.Run(ctx, ns, provider, report)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		if err := c.jobs.Complete(bg, job.ID); err != nil {
			logger.Error("failed to mark job completed", "error", err)
		}
		metrics.RecordSyncJob(ns.Provider, "completed", elapsed)
		c.prune(bg, models.JobCompleted, c.opts.KeepCompleted, job.ID)
	case ctx.Err() != nil:
		logger.Warn("sync interrupted, requeueing")
		if err := c.jobs.Requeue(bg, job.ID, "interrupted by shutdown"); err != nil {
			logger.Error("failed to requeue job", "error", err)
		}
		metrics.RecordSyncJob(ns.Provider, "interrupted", elapsed)
	case retryable(err) && job.Attempts < job.MaxAttempts:
		delay := c.retryDelay(job.Attempts)
		logger.Warn("sync failed, retrying", "error", err, "retry_in", delay)
		if err := c.jobs.Retry(bg, job.ID, err.Error(), c.now().Add(delay)); err != nil {
			logger.Error("failed to schedule retry", "error", err)
		}
		metrics.RecordSyncJob(ns.Provider, "retried", elapsed)
	default:
		c.fail(bg, job, err, logger)
		metrics.RecordSyncJob(ns.Provider, "failed", elapsed)
	}

	c.RefreshGauges(bg)
}

func (c *Coordinator) fail(ctx context.Context, job *models.SyncJob, cause error, logger *log.Logger) {
	logger.Error("sync failed", "error", cause)
	if err := c.jobs.Fail(ctx, job.ID, cause.Error()); err != nil {
		logger.Error("failed to mark job failed", "error", err)
	}
	c.prune(ctx, models.JobFailed, c.opts.KeepFailed, job.ID)
}

// prune trims the history of state, never removing the job that just finished.
func (c *Coordinator) prune(ctx context.Context, state models.JobState, keep int, finished string) {
	n, err := c.jobs.Prune(ctx, state, keep, finished)
	if err != nil {
		c.logger.Warn("failed to prune jobs", "state", state, "error", err)
		return
	}
	if n > 0 {
		c.logger.Debug("pruned jobs", "state", state, "count", n)
	}
}

// retryDelay returns the exponential backoff before the retry following attempt (1-based).
func (c *Coordinator) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.BackoffInitial
	b.MaxInterval = c.opts.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (c *Coordinator) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// retryable reports whether a failed run may succeed on a later attempt. Credential and configuration errors
// will not.
func retryable(err error) bool {
	return !errors.Is(err, shared.ErrAuthFailed) &&
		!errors.Is(err, shared.ErrMissingCredentials) &&
		!errors.Is(err, shared.ErrUnknownProvider)
}
