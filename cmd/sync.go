package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/shared"
	"github.com/desertthunder/libsync/internal/tasks"
	"github.com/urfave/cli/v3"
)

// SyncStart queues a sync for the namespace. With --wait or --watch the job also runs in this process.
func (r *Runner) SyncStart(ctx context.Context, cmd *cli.Command) error {
	ns, err := r.namespace(cmd)
	if err != nil {
		return err
	}
	creds, err := r.credentials(ns.Provider)
	if err != nil {
		return err
	}

	if cmd.Bool("watch") {
		if err := r.redirectLogs(); err != nil {
			return err
		}
	}
	s, err := r.open()
	if err != nil {
		return err
	}

	id, existing, err := s.coord.StartSync(ctx, ns, creds)
	if err != nil {
		return err
	}
	if existing {
		r.writePlain("Sync already in progress for %s: %s\n", ns, id)
	} else {
		r.writePlain("Queued sync %s for %s\n", id, ns)
	}

	switch {
	case cmd.Bool("watch"):
		stop := r.runInline(ctx, s)
		defer stop()
		return r.watch(ctx, id, ns)
	case cmd.Bool("wait"):
		stop := r.runInline(ctx, s)
		defer stop()
		return r.wait(ctx, s, id)
	}
	return nil
}

// runInline starts a worker in this process and returns a function that stops it.
func (r *Runner) runInline(ctx context.Context, s *stores) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := tasks.NewWorkerService(s.coord, 0).Serve(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("inline worker stopped", "error", err)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// wait prints each progress change until the job finishes.
func (r *Runner) wait(ctx context.Context, s *stores, id string) error {
	last := ""
	status, err := s.coord.Wait(ctx, id, r.pollInterval(), func(st *tasks.JobStatus) {
		line := fmt.Sprintf("[%3d%%] %s", st.Progress, st.Message)
		if line != last {
			r.writePlain("%s\n", line)
			last = line
		}
	})
	if err != nil {
		return err
	}

	if status.State != models.JobCompleted {
		return fmt.Errorf("sync %s failed after %d attempt(s): %s", status.ID, status.Attempts, status.FailureReason)
	}
	return nil
}

func (r *Runner) pollInterval() time.Duration {
	if r.config.Sync.PollInterval > 0 && r.config.Sync.PollInterval < time.Second {
		return r.config.Sync.PollInterval
	}
	return 250 * time.Millisecond
}

// SyncStatus prints the status of one job.
func (r *Runner) SyncStatus(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}

	s, err := r.open()
	if err != nil {
		return err
	}
	status, err := s.coord.Status(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, cmd.Bool("pretty"))
	}
	r.printStatus(status)
	return nil
}

// SyncActive prints the waiting or active job of the namespace.
func (r *Runner) SyncActive(ctx context.Context, cmd *cli.Command) error {
	ns, err := r.namespace(cmd)
	if err != nil {
		return err
	}
	s, err := r.open()
	if err != nil {
		return err
	}

	id, ok, err := s.coord.ActiveJob(ctx, ns)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{"namespace": ns.String(), "active": ok, "job_id": id}, cmd.Bool("pretty"))
	}
	if !ok {
		return r.writePlain("No active sync for %s\n", ns)
	}
	return r.writePlain("%s\n", id)
}

// SyncHistory lists retained jobs of the namespace.
func (r *Runner) SyncHistory(ctx context.Context, cmd *cli.Command) error {
	ns, err := r.namespace(cmd)
	if err != nil {
		return err
	}
	s, err := r.open()
	if err != nil {
		return err
	}

	jobs, err := s.coord.History(ctx, ns, cmd.Int("limit"))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(jobs, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("Sync history for %s", ns))
	for _, j := range jobs {
		r.writePlain("%s  %-9s %3d%%  %s\n", j.ID, j.State, j.Progress, j.CreatedAt.Local().Format(time.DateTime))
	}
	return nil
}

func (r *Runner) printStatus(s *tasks.JobStatus) {
	r.writePlain("Job:       %s\n", s.ID)
	r.writePlain("Namespace: %s\n", s.Namespace)
	r.writePlain("State:     %s\n", s.State)
	r.writePlain("Progress:  %d%% (%s)\n", s.Progress, s.Stage)
	r.writePlain("Message:   %s\n", s.Message)
	r.writePlain("Attempts:  %d/%d\n", s.Attempts, s.MaxAttempts)
	if s.FailureReason != "" {
		r.writePlain("Error:     %s\n", s.FailureReason)
	}
}
