package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/shared"
)

const jobColumns = `id, sequence, app, user_id, provider, credentials, state, progress, attempts, max_attempts,
	failure_reason, run_after, created_at, updated_at, started_at, finished_at`

// libraryLockTTL bounds how long a delete left behind by a crashed process keeps its namespace locked.
const libraryLockTTL = 10 * time.Minute

// JobRepository is the durable sync job queue.
//
// sync_active holds at most one waiting or active job per namespace. It is written in the same transaction as the
// job row so duplicate detection and enqueue cannot race. library_locks holds namespaces whose library is being
// deleted; neither Enqueue nor ClaimNext touch a locked namespace.
type JobRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewJobRepository creates a job repository on a migrated database.
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Enqueue inserts job unless the namespace already has a waiting or active job, in which case that job's id is
// returned with existing set.
func (r *JobRepository) Enqueue(ctx context.Context, job *models.SyncJob) (id string, existing bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, storeErr("enqueue", err)
	}
	defer tx.Rollback()

	ns := job.Namespace.String()
	locked, err := namespaceLocked(ctx, tx, ns, r.now())
	if err != nil {
		return "", false, storeErr("enqueue", err)
	}
	if locked {
		return "", false, fmt.Errorf("%w: %s", shared.ErrDeleteInProgress, ns)
	}

	err = tx.QueryRowContext(ctx, "SELECT job_id FROM sync_active WHERE namespace = ?", ns).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", false, storeErr("enqueue", err)
	}

	if job.Sequence, err = NextSequence(ctx, tx, "sync_jobs"); err != nil {
		return "", false, storeErr("enqueue", err)
	}

	creds, err := json.Marshal(job.Credentials)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode credentials: %w", err)
	}

	now := r.now()
	job.State = models.JobWaiting
	job.CreatedAt, job.UpdatedAt = now, now
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_jobs (id, sequence, namespace, app, user_id, provider, credentials, state, progress,
			attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?)`,
		job.ID, job.Sequence, ns, job.Namespace.App, job.Namespace.UserID, job.Namespace.Provider, string(creds), job.State,
		job.MaxAttempts, job.RunAfter.UTC(), now, now)
	if err != nil {
		return "", false, storeErr("enqueue", err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO sync_active (namespace, job_id) VALUES (?, ?)", ns, job.ID); err != nil {
		return "", false, storeErr("enqueue", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, storeErr("enqueue", err)
	}
	return job.ID, false, nil
}

// Get returns a job by id.
func (r *JobRepository) Get(ctx context.Context, id string) (*models.SyncJob, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM sync_jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, storeErr("get job", err)
	}
	return job, nil
}

// ActiveID returns the waiting or active job for a namespace.
func (r *JobRepository) ActiveID(ctx context.Context, ns models.Namespace) (string, bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, "SELECT job_id FROM sync_active WHERE namespace = ?", ns.String()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("active job", err)
	}
	return id, true, nil
}

// LockNamespace reserves ns for a library delete. It fails with [shared.ErrSyncInProgress] while a job for ns is
// waiting or active, and with [shared.ErrDeleteInProgress] while another delete holds the lock. Locks older than
// libraryLockTTL are taken over.
func (r *JobRepository) LockNamespace(ctx context.Context, ns models.Namespace) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("lock", err)
	}
	defer tx.Rollback()

	key, now := ns.String(), r.now()
	var jobID string
	err = tx.QueryRowContext(ctx, "SELECT job_id FROM sync_active WHERE namespace = ?", key).Scan(&jobID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s (job %s)", shared.ErrSyncInProgress, key, jobID)
	case !errors.Is(err, sql.ErrNoRows):
		return storeErr("lock", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM library_locks WHERE namespace = ? AND created_at < ?",
		key, now.Add(-libraryLockTTL)); err != nil {
		return storeErr("lock", err)
	}
	res, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO library_locks (namespace, created_at) VALUES (?, ?)", key, now)
	if err != nil {
		return storeErr("lock", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", shared.ErrDeleteInProgress, key)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("lock", err)
	}
	return nil
}

// UnlockNamespace releases a lock taken by [JobRepository.LockNamespace].
func (r *JobRepository) UnlockNamespace(ctx context.Context, ns models.Namespace) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM library_locks WHERE namespace = ?", ns.String()); err != nil {
		return storeErr("unlock", err)
	}
	return nil
}

func namespaceLocked(ctx context.Context, tx *sql.Tx, ns string, now time.Time) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM library_locks WHERE namespace = ? AND created_at >= ?",
		ns, now.Add(-libraryLockTTL)).Scan(&n)
	return n > 0, err
}

// ClaimNext marks the oldest runnable waiting job active and returns it, or nil when nothing is runnable.
func (r *JobRepository) ClaimNext(ctx context.Context) (*models.SyncJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("claim", err)
	}
	defer tx.Rollback()

	now := r.now()
	row := tx.QueryRowContext(ctx, "SELECT "+jobColumns+` FROM sync_jobs
		WHERE state = ? AND run_after <= ?
			AND namespace NOT IN (SELECT namespace FROM library_locks WHERE created_at >= ?)
		ORDER BY sequence LIMIT 1`, models.JobWaiting, now, now.Add(-libraryLockTTL))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("claim", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sync_jobs SET state = ?, progress = 0, attempts = attempts + 1, started_at = ?, updated_at = ?
		WHERE id = ?`, models.JobActive, now, now, job.ID)
	if err != nil {
		return nil, storeErr("claim", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("claim", err)
	}

	job.State = models.JobActive
	job.Progress = 0
	job.Attempts++
	job.StartedAt = &now
	job.UpdatedAt = now
	return job, nil
}

// UpdateProgress stores the latest reported percentage of an active job.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, "UPDATE sync_jobs SET progress = ?, updated_at = ? WHERE id = ? AND state = ?",
		progress, r.now(), id, models.JobActive)
	if err != nil {
		return storeErr("progress", err)
	}
	return nil
}

// UpdateCredentials replaces the stored tokens of a job so a retry starts from the refreshed access token.
func (r *JobRepository) UpdateCredentials(ctx context.Context, id string, creds models.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	_, err = r.db.ExecContext(ctx, "UPDATE sync_jobs SET credentials = ?, updated_at = ? WHERE id = ?",
		string(data), r.now(), id)
	if err != nil {
		return storeErr("credentials", err)
	}
	return nil
}

// Complete marks a job completed and releases its namespace.
func (r *JobRepository) Complete(ctx context.Context, id string) error {
	return r.finish(ctx, id, models.JobCompleted, "", 100)
}

// Fail marks a job failed with reason and releases its namespace.
func (r *JobRepository) Fail(ctx context.Context, id, reason string) error {
	return r.finish(ctx, id, models.JobFailed, reason, -1)
}

// Retry returns an active job to the queue, runnable after runAfter. The namespace stays reserved.
func (r *JobRepository) Retry(ctx context.Context, id, reason string, runAfter time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_jobs SET state = ?, failure_reason = ?, run_after = ?, updated_at = ? WHERE id = ?`,
		models.JobWaiting, reason, runAfter.UTC(), r.now(), id)
	if err != nil {
		return storeErr("retry", err)
	}
	return nil
}

// Requeue returns an interrupted active job to the queue, runnable immediately. The interrupted run does not count
// against MaxAttempts. The namespace stays reserved.
func (r *JobRepository) Requeue(ctx context.Context, id, reason string) error {
	now := r.now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_jobs SET state = ?, attempts = MAX(attempts - 1, 0), failure_reason = ?, run_after = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		models.JobWaiting, reason, now, now, id, models.JobActive)
	if err != nil {
		return storeErr("requeue", err)
	}
	return nil
}

// RequeueActive returns jobs left active by a stopped process to the queue. As with [JobRepository.Requeue], the
// interrupted run does not count as an attempt.
func (r *JobRepository) RequeueActive(ctx context.Context) (int, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_jobs SET state = ?, attempts = MAX(attempts - 1, 0), run_after = ?, updated_at = ?
		WHERE state = ?`,
		models.JobWaiting, now, now, models.JobActive)
	if err != nil {
		return 0, storeErr("requeue", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Prune deletes all but the newest keep jobs in a terminal state. The job named by except is never deleted, so a
// job that just finished stays readable even when it is not among the newest.
func (r *JobRepository) Prune(ctx context.Context, state models.JobState, keep int, except string) (int, error) {
	if keep < 0 {
		keep = 0
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_jobs WHERE state = ?1 AND id != ?3 AND id NOT IN (
			SELECT id FROM sync_jobs WHERE state = ?1 ORDER BY sequence DESC LIMIT ?2
		)`, state, keep, except)
	if err != nil {
		return 0, storeErr("prune", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// List returns the newest jobs for a namespace, newest first.
func (r *JobRepository) List(ctx context.Context, ns models.Namespace, limit int) ([]*models.SyncJob, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+jobColumns+` FROM sync_jobs
		WHERE namespace = ? ORDER BY sequence DESC LIMIT ?`, ns.String(), limit)
	if err != nil {
		return nil, storeErr("list jobs", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, storeErr("list jobs", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list jobs", err)
	}
	return jobs, nil
}

// CountByState returns the number of jobs in each state.
func (r *JobRepository) CountByState(ctx context.Context) (map[models.JobState]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT state, COUNT(*) FROM sync_jobs GROUP BY state")
	if err != nil {
		return nil, storeErr("count jobs", err)
	}
	defer rows.Close()

	counts := make(map[models.JobState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, storeErr("count jobs", err)
		}
		counts[models.JobState(state)] = n
	}
	return counts, rows.Err()
}

// finish moves a job to a terminal state. A negative progress keeps the stored value.
func (r *JobRepository) finish(ctx context.Context, id string, state models.JobState, reason string, progress int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("finish", err)
	}
	defer tx.Rollback()

	now := r.now()
	_, err = tx.ExecContext(ctx, `
		UPDATE sync_jobs SET state = ?, failure_reason = NULLIF(?, ''),
			progress = CASE WHEN ? >= 0 THEN ? ELSE progress END, finished_at = ?, updated_at = ?
		WHERE id = ?`, state, reason, progress, progress, now, now, id)
	if err != nil {
		return storeErr("finish", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_active WHERE job_id = ?", id); err != nil {
		return storeErr("finish", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("finish", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.SyncJob, error) {
	var (
		job                   models.SyncJob
		app, userID, provider string
		creds, state          string
		reason                sql.NullString
		startedAt, finishedAt sql.NullTime
	)

	err := row.Scan(&job.ID, &job.Sequence, &app, &userID, &provider, &creds, &state, &job.Progress, &job.Attempts,
		&job.MaxAttempts, &reason, &job.RunAfter, &job.CreatedAt, &job.UpdatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(creds), &job.Credentials); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}

	job.Namespace = models.NewNamespace(app, userID, provider)
	job.State = models.JobState(state)
	job.FailureReason = reason.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	return &job, nil
}
