package tasks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/repositories"
	"github.com/desertthunder/libsync/internal/services"
	"github.com/desertthunder/libsync/internal/shared"
	tu "github.com/desertthunder/libsync/internal/testing"
)

var testCreds = models.Credentials{AccessToken: "access", RefreshToken: "refresh"}

func testOptions() Options {
	return Options{
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     10 * time.Millisecond,
		KeepCompleted:  5,
		KeepFailed:     10,
		PollInterval:   5 * time.Millisecond,
	}
}

func setupCoordinator(t *testing.T, provider services.Provider, opts Options) (*Coordinator, *repositories.JobRepository, *repositories.LibraryRepository) {
	t.Helper()
	db, library := setupStore(t)
	jobs := repositories.NewJobRepository(db)
	factory := func(ns models.Namespace, creds models.Credentials) (services.Provider, *services.Session, error) {
		return provider, nil, nil
	}
	return NewCoordinator(jobs, library, factory, opts, discard), jobs, library
}

// waitForState polls until the job reaches state or the deadline passes.
func waitForState(t *testing.T, c *Coordinator, id string, state models.JobState) *JobStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := c.Status(context.Background(), id)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if status.State == state {
			return status
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", id, state)
	return nil
}

func TestCoordinator_StartSync(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate start returns the active job", func(t *testing.T) {
		provider := tu.NewFakeLibrary()
		provider.Gate = make(chan struct{})
		c, _, _ := setupCoordinator(t, provider, testOptions())

		id, existing, err := c.StartSync(ctx, testNS, testCreds)
		if err != nil || existing {
			t.Fatalf("StartSync = %s, %v, %v", id, existing, err)
		}

		done := make(chan error, 1)
		go func() {
			_, err := c.RunNext(ctx)
			done <- err
		}()

		status := waitForState(t, c, id, models.JobActive)
		if status.Message == "" || status.Stage != StageStarted.String() {
			t.Errorf("unexpected active status: %+v", status)
		}

		again, existing, err := c.StartSync(ctx, testNS, testCreds)
		if err != nil {
			t.Fatalf("second StartSync failed: %v", err)
		}
		if again != id || !existing {
			t.Errorf("expected existing job %s, got %s (existing=%v)", id, again, existing)
		}

		active, ok, err := c.ActiveJob(ctx, testNS)
		if err != nil || !ok || active != id {
			t.Errorf("ActiveJob = %s, %v, %v", active, ok, err)
		}

		if _, err := c.DeleteLibrary(ctx, testNS); !errors.Is(err, shared.ErrSyncInProgress) {
			t.Errorf("expected ErrSyncInProgress, got %v", err)
		}

		_, syncing, err := c.LibraryStatus(ctx, testNS)
		if err != nil || !syncing {
			t.Errorf("expected syncing library status, got %v (%v)", syncing, err)
		}

		close(provider.Gate)
		if err := <-done; err != nil {
			t.Fatalf("RunNext failed: %v", err)
		}

		status = waitForState(t, c, id, models.JobCompleted)
		if status.Progress != 100 || status.Stage != StageCompleted.String() {
			t.Errorf("unexpected completed status: %+v", status)
		}
		if _, ok, _ := c.ActiveJob(ctx, testNS); ok {
			t.Error("expected no active job after completion")
		}

		next, existing, _ := c.StartSync(ctx, testNS, testCreds)
		if existing || next == id {
			t.Errorf("expected a new job after completion, got %s", next)
		}
	})

	t.Run("different namespaces queue separately", func(t *testing.T) {
		c, _, _ := setupCoordinator(t, tu.NewFakeLibrary(), testOptions())

		a, _, _ := c.StartSync(ctx, testNS, testCreds)
		b, existing, err := c.StartSync(ctx, models.NewNamespace("libsync", "other", "spotify"), testCreds)
		if err != nil || existing || a == b {
			t.Errorf("expected distinct jobs, got %s and %s (%v)", a, b, err)
		}
	})

	t.Run("validation", func(t *testing.T) {
		c, _, _ := setupCoordinator(t, tu.NewFakeLibrary(), testOptions())

		if _, _, err := c.StartSync(ctx, models.NewNamespace("libsync", "", "spotify"), testCreds); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, _, err := c.StartSync(ctx, models.NewNamespace("libsync", "u", ""), testCreds); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for missing provider, got %v", err)
		}
		if _, _, err := c.StartSync(ctx, testNS, models.Credentials{}); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		c, _, _ := setupCoordinator(t, tu.NewFakeLibrary(), testOptions())
		if _, err := c.Status(ctx, "missing"); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})
}

func TestCoordinator_Retries(t *testing.T) {
	ctx := context.Background()

	t.Run("transient failure is retried", func(t *testing.T) {
		provider := tu.NewFakeLibrary()
		provider.Errors = map[string]error{"OwnedPlaylists": shared.ErrServiceUnavailable}
		c, _, _ := setupCoordinator(t, provider, testOptions())

		id, _, _ := c.StartSync(ctx, testNS, testCreds)
		if ran, err := c.RunNext(ctx); !ran || err != nil {
			t.Fatalf("RunNext = %v, %v", ran, err)
		}

		status, _ := c.Status(ctx, id)
		if status.State != models.JobWaiting || status.Attempts != 1 || status.Message != queuedMessage {
			t.Errorf("expected job waiting for retry, got %+v", status)
		}
		if !strings.Contains(status.FailureReason, shared.ErrServiceUnavailable.Error()) {
			t.Errorf("expected failure reason, got %q", status.FailureReason)
		}
		if _, ok, _ := c.ActiveJob(ctx, testNS); !ok {
			t.Error("namespace must stay reserved between attempts")
		}

		provider.Errors = nil
		time.Sleep(20 * time.Millisecond)
		if ran, err := c.RunNext(ctx); !ran || err != nil {
			t.Fatalf("retry RunNext = %v, %v", ran, err)
		}

		status, _ = c.Status(ctx, id)
		if status.State != models.JobCompleted || status.Attempts != 2 {
			t.Errorf("expected completion on attempt 2, got %+v", status)
		}
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		provider := tu.NewFakeLibrary()
		provider.Errors = map[string]error{"SavedTracks": shared.ErrServiceUnavailable}
		opts := testOptions()
		opts.MaxAttempts = 2
		c, _, _ := setupCoordinator(t, provider, opts)

		id, _, _ := c.StartSync(ctx, testNS, testCreds)
		_, _ = c.RunNext(ctx)
		time.Sleep(20 * time.Millisecond)
		_, _ = c.RunNext(ctx)

		status, _ := c.Status(ctx, id)
		if status.State != models.JobFailed || status.Attempts != 2 || status.Stage != StageFailed.String() {
			t.Errorf("expected failure after 2 attempts, got %+v", status)
		}
		if ran, _ := c.RunNext(ctx); ran {
			t.Error("failed job must not run again")
		}
	})

	t.Run("auth failure is not retried", func(t *testing.T) {
		provider := tu.NewFakeLibrary()
		provider.Errors = map[string]error{"CurrentUser": shared.ErrAuthFailed}
		c, _, _ := setupCoordinator(t, provider, testOptions())

		id, _, _ := c.StartSync(ctx, testNS, testCreds)
		_, _ = c.RunNext(ctx)

		status, _ := c.Status(ctx, id)
		if status.State != models.JobFailed || status.Attempts != 1 {
			t.Errorf("expected immediate failure, got %+v", status)
		}
		if !strings.Contains(status.FailureReason, "authentication failed") {
			t.Errorf("unexpected failure reason %q", status.FailureReason)
		}
	})

	t.Run("provider factory failure", func(t *testing.T) {
		db, library := setupStore(t)
		jobs := repositories.NewJobRepository(db)
		factory := func(ns models.Namespace, creds models.Credentials) (services.Provider, *services.Session, error) {
			return nil, nil, shared.ErrUnknownProvider
		}
		c := NewCoordinator(jobs, library, factory, testOptions(), discard)

		id, _, _ := c.StartSync(ctx, testNS, testCreds)
		_, _ = c.RunNext(ctx)

		if status, _ := c.Status(ctx, id); status.State != models.JobFailed {
			t.Errorf("expected failed job, got %+v", status)
		}
	})

	t.Run("interrupted run is requeued", func(t *testing.T) {
		provider := tu.NewFakeLibrary()
		provider.Gate = make(chan struct{})
		c, _, _ := setupCoordinator(t, provider, testOptions())

		id, _, _ := c.StartSync(ctx, testNS, testCreds)
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			_, _ = c.RunNext(runCtx)
			close(done)
		}()

		waitForState(t, c, id, models.JobActive)
		cancel()
		<-done

		status, _ := c.Status(ctx, id)
		if status.State != models.JobWaiting || status.FailureReason != "interrupted by shutdown" {
			t.Errorf("expected requeued job, got %+v", status)
		}
		if status.Attempts != 0 {
			t.Errorf("interruption should not count as an attempt, got %d", status.Attempts)
		}
	})

	t.Run("interrupted run keeps its retry budget", func(t *testing.T) {
		provider := tu.NewFakeLibrary()
		provider.Gate = make(chan struct{})
		opts := testOptions()
		opts.MaxAttempts = 2
		c, _, _ := setupCoordinator(t, provider, opts)

		id, _, _ := c.StartSync(ctx, testNS, testCreds)
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			_, _ = c.RunNext(runCtx)
			close(done)
		}()

		waitForState(t, c, id, models.JobActive)
		cancel()
		<-done

		provider.Gate = nil
		provider.Errors = map[string]error{"OwnedPlaylists": shared.ErrServiceUnavailable}
		if ran, err := c.RunNext(ctx); !ran || err != nil {
			t.Fatalf("RunNext = %v, %v", ran, err)
		}

		status, _ := c.Status(ctx, id)
		if status.State != models.JobWaiting || status.Attempts != 1 {
			t.Errorf("expected a retry after the first real attempt, got %+v", status)
		}

		provider.Errors = nil
		time.Sleep(20 * time.Millisecond)
		if ran, err := c.RunNext(ctx); !ran || err != nil {
			t.Fatalf("retry RunNext = %v, %v", ran, err)
		}
		if status, _ := c.Status(ctx, id); status.State != models.JobCompleted || status.Attempts != 2 {
			t.Errorf("expected completion on attempt 2, got %+v", status)
		}
	})
}

func TestCoordinator_Retention(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.KeepCompleted = 2
	c, _, _ := setupCoordinator(t, tu.NewFakeLibrary(), opts)

	var ids []string
	for range 4 {
		id, _, err := c.StartSync(ctx, testNS, testCreds)
		if err != nil {
			t.Fatalf("StartSync failed: %v", err)
		}
		ids = append(ids, id)
		if _, err := c.RunNext(ctx); err != nil {
			t.Fatalf("RunNext failed: %v", err)
		}
	}

	history, err := c.History(ctx, testNS, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 || history[0].ID != ids[3] || history[1].ID != ids[2] {
		t.Errorf("expected the 2 newest jobs, got %+v", history)
	}
	if _, err := c.Status(ctx, ids[0]); !errors.Is(err, shared.ErrJobNotFound) {
		t.Errorf("expected oldest job pruned, got %v", err)
	}

	t.Run("finished job survives a zero retention", func(t *testing.T) {
		provider := tu.NewFakeLibrary()
		opts := testOptions()
		opts.KeepCompleted = 0
		opts.KeepFailed = 0
		c, _, _ := setupCoordinator(t, provider, opts)

		id, _, _ := c.StartSync(ctx, testNS, testCreds)
		if _, err := c.RunNext(ctx); err != nil {
			t.Fatalf("RunNext failed: %v", err)
		}
		status, err := c.Wait(ctx, id, time.Millisecond, nil)
		if err != nil || status.State != models.JobCompleted {
			t.Errorf("expected completed job, got %+v, %v", status, err)
		}

		provider.Errors = map[string]error{"CurrentUser": shared.ErrAuthFailed}
		failed, _, _ := c.StartSync(ctx, testNS, testCreds)
		if _, err := c.RunNext(ctx); err != nil {
			t.Fatalf("RunNext failed: %v", err)
		}
		if status, err := c.Status(ctx, failed); err != nil || status.State != models.JobFailed {
			t.Errorf("expected failed job, got %+v, %v", status, err)
		}
	})

	t.Run("job finishing after a newer one is kept", func(t *testing.T) {
		opts := testOptions()
		opts.KeepCompleted = 1
		c, jobs, _ := setupCoordinator(t, tu.NewFakeLibrary(), opts)

		older, _, _ := c.StartSync(ctx, testNS, testCreds)
		if _, err := jobs.ClaimNext(ctx); err != nil {
			t.Fatal(err)
		}
		newer, _, _ := c.StartSync(ctx, models.NewNamespace("libsync", "other", "spotify"), testCreds)
		if _, err := c.RunNext(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := c.Recover(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := c.RunNext(ctx); err != nil {
			t.Fatal(err)
		}

		if status, err := c.Status(ctx, older); err != nil || status.State != models.JobCompleted {
			t.Errorf("expected the job that just finished to be kept, got %+v, %v", status, err)
		}
		if status, err := c.Status(ctx, newer); err != nil || status.State != models.JobCompleted {
			t.Errorf("expected the newest completed job kept, got %+v, %v", status, err)
		}
	})
}

func TestCoordinator_Recover(t *testing.T) {
	ctx := context.Background()
	c, jobs, library := setupCoordinator(t, tu.NewFakeLibrary(), testOptions())

	id, _, _ := c.StartSync(ctx, testNS, testCreds)
	if _, err := jobs.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	n, err := c.Recover(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Recover = %d, %v", n, err)
	}

	if ran, err := c.RunNext(ctx); !ran || err != nil {
		t.Fatalf("RunNext = %v, %v", ran, err)
	}
	if status, _ := c.Status(ctx, id); status.State != models.JobCompleted {
		t.Errorf("expected recovered job to complete, got %+v", status)
	}
	if status, _ := library.ReadSyncStatus(ctx, testNS); !status.Synced {
		t.Error("expected library synced")
	}
}

// sessionProvider calls through a session so refreshes are observable.
type sessionProvider struct {
	*tu.FakeProvider
	session *services.Session
}

func (p *sessionProvider) CurrentUser(ctx context.Context) (*models.User, error) {
	err := p.session.Do(ctx, func(ctx context.Context, token string) error {
		if token != "fresh" {
			return shared.ErrAuthFailed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.FakeProvider.CurrentUser(ctx)
}

func TestCoordinator_PersistsRefreshedCredentials(t *testing.T) {
	ctx := context.Background()
	db, library := setupStore(t)
	jobs := repositories.NewJobRepository(db)

	factory := func(ns models.Namespace, creds models.Credentials) (services.Provider, *services.Session, error) {
		session := services.NewSession(ns.Provider, creds, &staticRefresher{token: "fresh"})
		session.SetLogger(discard)
		return &sessionProvider{FakeProvider: tu.NewFakeLibrary(), session: session}, session, nil
	}
	c := NewCoordinator(jobs, library, factory, testOptions(), discard)

	id, _, _ := c.StartSync(ctx, testNS, testCreds)
	if _, err := c.RunNext(ctx); err != nil {
		t.Fatalf("RunNext failed: %v", err)
	}

	job, err := jobs.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.State != models.JobCompleted || job.Credentials.AccessToken != "fresh" {
		t.Errorf("expected completed job with refreshed token, got state=%s token=%s", job.State, job.Credentials.AccessToken)
	}
}

func TestCoordinator_DeleteLibrary(t *testing.T) {
	ctx := context.Background()
	c, _, library := setupCoordinator(t, tu.NewFakeLibrary(), testOptions())

	status, syncing, err := c.LibraryStatus(ctx, testNS)
	if err != nil || status.Synced || syncing {
		t.Fatalf("expected unsynced idle library, got %+v %v %v", status, syncing, err)
	}

	_, _, _ = c.StartSync(ctx, testNS, testCreds)
	_, _ = c.RunNext(ctx)

	n, err := c.DeleteLibrary(ctx, testNS)
	if err != nil || n == 0 {
		t.Fatalf("DeleteLibrary = %d, %v", n, err)
	}

	if status, _ := library.ReadSyncStatus(ctx, testNS); status.Synced {
		t.Error("expected sync metadata deleted")
	}
	if playlists, _ := library.ReadUserPlaylists(ctx, testNS); len(playlists) != 0 {
		t.Errorf("expected no playlists, got %d", len(playlists))
	}
	if n, err := c.DeleteLibrary(ctx, testNS); err != nil || n != 0 {
		t.Errorf("second delete should be a no-op, got %d, %v", n, err)
	}

	t.Run("waiting job blocks the delete", func(t *testing.T) {
		c, _, library := setupCoordinator(t, tu.NewFakeLibrary(), testOptions())
		if err := library.WriteUser(ctx, testNS, models.User{ID: "u1"}); err != nil {
			t.Fatal(err)
		}

		id, _, _ := c.StartSync(ctx, testNS, testCreds)
		if _, err := c.DeleteLibrary(ctx, testNS); !errors.Is(err, shared.ErrSyncInProgress) {
			t.Errorf("expected ErrSyncInProgress, got %v", err)
		}
		if _, err := library.ReadUser(ctx, testNS); err != nil {
			t.Errorf("library should be untouched: %v", err)
		}

		_, _ = c.RunNext(ctx)
		if status, _ := c.Status(ctx, id); status.State != models.JobCompleted {
			t.Errorf("expected job to run normally, got %+v", status)
		}
		if _, err := c.DeleteLibrary(ctx, testNS); err != nil {
			t.Errorf("delete after completion failed: %v", err)
		}
		if _, existing, err := c.StartSync(ctx, testNS, testCreds); err != nil || existing {
			t.Errorf("lock should be released after delete, got %v (existing=%v)", err, existing)
		}
	})

	t.Run("invalid namespaces", func(t *testing.T) {
		for _, ns := range []models.Namespace{
			models.NewNamespace("libsync", "u1", ""),
			models.NewNamespace("libsync", "u1:spotify", "youtube"),
		} {
			if _, err := c.DeleteLibrary(ctx, ns); !errors.Is(err, shared.ErrInvalidInput) {
				t.Errorf("DeleteLibrary(%s): expected ErrInvalidInput, got %v", ns, err)
			}
		}
		if _, _, err := c.StartSync(ctx, models.NewNamespace("libsync", "u1:spotify", "youtube"), testCreds); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestWorkerService(t *testing.T) {
	c, _, _ := setupCoordinator(t, tu.NewFakeLibrary(), testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := NewWorkerService(c, 1)
	if worker.String() != "sync-worker-1" {
		t.Errorf("unexpected name %s", worker.String())
	}

	served := make(chan error, 1)
	go func() { served <- worker.Serve(ctx) }()

	id, _, err := c.StartSync(ctx, testNS, testCreds)
	if err != nil {
		t.Fatalf("StartSync failed: %v", err)
	}

	var seen []int
	status, err := c.Wait(ctx, id, 5*time.Millisecond, func(s *JobStatus) { seen = append(seen, s.Progress) })
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if status.State != models.JobCompleted {
		t.Errorf("expected completed, got %+v", status)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Errorf("polled progress decreased: %v", seen)
		}
	}

	cancel()
	if err := <-served; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewJobStatus(t *testing.T) {
	finished := time.Now()
	tests := []struct {
		name    string
		job     models.SyncJob
		stage   Stage
		message string
	}{
		{"waiting", models.SyncJob{State: models.JobWaiting, Progress: 40}, StageStarted, queuedMessage},
		{"active start", models.SyncJob{State: models.JobActive, Progress: 0}, StageStarted, StageStarted.Message()},
		{"active tracks", models.SyncJob{State: models.JobActive, Progress: 45}, StagePlaylistsStored, StagePlaylistsStored.Message()},
		{"active artists", models.SyncJob{State: models.JobActive, Progress: 70}, StageTracksStored, StageTracksStored.Message()},
		{"completed", models.SyncJob{State: models.JobCompleted, Progress: 100, FinishedAt: &finished}, StageCompleted, StageCompleted.Message()},
		{"failed", models.SyncJob{State: models.JobFailed, Progress: 30, FailureReason: "boom"}, StageFailed, StageFailed.Message()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := NewJobStatus(&tt.job)
			if status.Stage != tt.stage.String() || status.Message != tt.message {
				t.Errorf("got stage=%s message=%q, want %s %q", status.Stage, status.Message, tt.stage, tt.message)
			}
			if status.Done() != tt.job.State.Terminal() {
				t.Errorf("Done() = %v", status.Done())
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	c := &Coordinator{opts: Options{BackoffInitial: 5 * time.Second, BackoffMax: 15 * time.Second}}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second, 15 * time.Second}
	for i, w := range want {
		if got := c.retryDelay(i + 1); got != w {
			t.Errorf("retryDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(shared.SyncConfig{MaxAttempts: 5, KeepCompleted: 1, KeepFailed: 2})
	if opts.MaxAttempts != 5 || opts.KeepCompleted != 1 || opts.KeepFailed != 2 {
		t.Errorf("config values not applied: %+v", opts)
	}
	if opts.BackoffInitial != 5*time.Second || opts.PollInterval != 2*time.Second {
		t.Errorf("defaults not kept: %+v", opts)
	}
}
