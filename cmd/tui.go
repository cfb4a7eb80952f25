package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/shared"
	"github.com/desertthunder/libsync/internal/ui"
	"github.com/urfave/cli/v3"
)

// SyncWatch attaches the interactive progress view to an existing job.
func (r *Runner) SyncWatch(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}
	ns, err := r.namespace(cmd)
	if err != nil {
		return err
	}

	if err := r.redirectLogs(); err != nil {
		return err
	}
	s, err := r.open()
	if err != nil {
		return err
	}

	if cmd.Bool("run") {
		stop := r.runInline(ctx, s)
		defer stop()
	}
	return r.watch(ctx, id, ns)
}

// watch runs the Bubble Tea watcher for job id until the user quits.
func (r *Runner) watch(ctx context.Context, id string, ns models.Namespace) error {
	s, err := r.open()
	if err != nil {
		return err
	}

	model := ui.NewModel(ctx, ui.Options{
		JobID:    id,
		NS:       ns,
		Jobs:     s.coord,
		Library:  s.library,
		Interval: r.pollInterval(),
	})

	if _, err := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return model.Err()
}

// redirectLogs sends logs to a file so log lines do not interleave with rendered frames.
func (r *Runner) redirectLogs() error {
	fileLogger, err := shared.NewFileLogger("./tmp/libsync-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)
	return nil
}
