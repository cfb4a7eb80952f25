package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	WatchView ViewState = iota
	ResultView
	PlaylistListView
	TrackListView
)

// JobSource reports the status of a sync job. [*tasks.Coordinator] satisfies it.
type JobSource interface {
	Status(ctx context.Context, jobID string) (*tasks.JobStatus, error)
}

// LibraryReader reads the cached library once a sync finishes. [*repositories.LibraryRepository] satisfies it.
type LibraryReader interface {
	ReadSyncStatus(ctx context.Context, ns models.Namespace) (models.SyncStatus, error)
	ReadUserPlaylists(ctx context.Context, ns models.Namespace) ([]models.Playlist, error)
	ReadPlaylistTracks(ctx context.Context, ns models.Namespace, playlistID string) ([]models.Track, error)
}

// Options configures a [Model].
type Options struct {
	JobID    string
	NS       models.Namespace
	Jobs     JobSource
	Library  LibraryReader
	Interval time.Duration
}

// Model polls one sync job and renders its progress, then lets the user browse the synced library.
type Model struct {
	ctx          context.Context
	opts         Options
	view         ViewState
	width        int
	height       int
	status       *tasks.JobStatus
	summary      *models.SyncStatus
	bar          progress.Model
	spinner      spinner.Model
	playlistList list.Model
	trackList    list.Model
	err          error
	help         help.Model
	keys         keyMap
}

// NewModel creates a watcher for opts.JobID. A zero interval polls every 500ms.
func NewModel(ctx context.Context, opts Options) *Model {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.warn

	return &Model{
		ctx:     ctx,
		opts:    opts,
		view:    WatchView,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(48)),
		spinner: s,
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Status returns the last polled job status.
func (m *Model) Status() *tasks.JobStatus {
	return m.status
}

// Err returns the error that stopped polling, if any.
func (m *Model) Err() error {
	return m.err
}

// Init starts the spinner and the first poll.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = min(max(msg.Width-8, 10), 72)
		m.resizeLists()
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case spinner.TickMsg:
		if m.view != WatchView {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgPollTick:
		return m, m.poll()

	case MsgStatusPolled:
		res := msg.data.(statusResult)
		if res.err != nil {
			m.err = res.err
			m.view = ResultView
			return m, nil
		}
		m.status = res.status
		if !res.status.Done() {
			return m, m.scheduleTick()
		}
		m.view = ResultView
		if res.status.State == models.JobCompleted {
			return m, m.fetchSummary()
		}
		return m, nil

	case MsgSummaryFetched:
		res := msg.data.(summaryResult)
		if res.err == nil {
			m.summary = &res.status
		}
		return m, nil

	case MsgPlaylistsFetched:
		res := msg.data.(playlistsResult)
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		items := make([]list.Item, len(res.playlists))
		for i, p := range res.playlists {
			items[i] = playlistItem{playlist: p}
		}
		m.playlistList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.playlistList.Title = "Library"
		m.resizeLists()
		m.view = PlaylistListView
		return m, nil

	case MsgTracksFetched:
		res := msg.data.(tracksResult)
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		items := make([]list.Item, len(res.tracks))
		for i, t := range res.tracks {
			items[i] = trackItem{track: t}
		}
		m.trackList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.trackList.Title = fmt.Sprintf("Tracks in '%s'", res.playlist.Name)
		m.resizeLists()
		m.view = TrackListView
		return m, nil
	}
	return m, nil
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.quit) && !m.filtering() {
		return m, tea.Quit
	}

	switch m.view {
	case ResultView:
		if key.Matches(msg, m.keys.browse) && m.completed() && m.opts.Library != nil {
			return m, m.fetchPlaylists()
		}
		return m, nil

	case PlaylistListView:
		if m.filtering() {
			break
		}
		switch {
		case key.Matches(msg, m.keys.back):
			m.view = ResultView
			return m, nil
		case key.Matches(msg, m.keys.enter):
			if item, ok := m.playlistList.SelectedItem().(playlistItem); ok {
				return m, m.fetchTracks(item.playlist)
			}
		}

	case TrackListView:
		if !m.filtering() && key.Matches(msg, m.keys.back) {
			m.view = PlaylistListView
			return m, nil
		}
	}

	return m.updateLists(msg)
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case WatchView:
		return m.renderWatch()
	case ResultView:
		return m.renderResult()
	case PlaylistListView:
		return fmt.Sprintf("%s\n\n%s", m.playlistList.View(), m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.back, m.keys.quit}))
	case TrackListView:
		return fmt.Sprintf("%s\n\n%s", m.trackList.View(), m.help.ShortHelpView([]key.Binding{m.keys.back, m.keys.quit}))
	default:
		return ""
	}
}

func (m *Model) renderWatch() string {
	title := styles.title.Render(fmt.Sprintf("Syncing %s", m.opts.NS))

	if m.status == nil {
		return fmt.Sprintf("%s\n%s Connecting to job %s\n", title, m.spinner.View(), m.opts.JobID)
	}

	var b strings.Builder
	b.WriteString(title + "\n")
	b.WriteString(m.bar.ViewAs(float64(m.status.Progress)/100) + "\n\n")
	fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), m.status.Message)
	if m.status.Attempts > 1 {
		b.WriteString(styles.warn.Render(fmt.Sprintf("attempt %d of %d", m.status.Attempts, m.status.MaxAttempts)) + "\n")
	}
	if m.status.FailureReason != "" {
		b.WriteString(styles.help.Render("last error: "+m.status.FailureReason) + "\n")
	}
	b.WriteString("\n" + m.help.ShortHelpView([]key.Binding{m.keys.quit}))
	return b.String()
}

func (m *Model) renderResult() string {
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n" + m.help.ShortHelpView([]key.Binding{m.keys.quit})
	}
	if m.status == nil {
		return styles.err.Render("No status available") + "\n\n" + m.help.ShortHelpView([]key.Binding{m.keys.quit})
	}

	if !m.completed() {
		body := fmt.Sprintf("Job %s failed after %d attempt(s) at %d%%\n%s",
			m.status.ID, m.status.Attempts, m.status.Progress, m.status.FailureReason)
		return styles.err.Render("✗ Sync Failed") + "\n\n" + body + "\n\n" + m.help.ShortHelpView([]key.Binding{m.keys.quit})
	}

	var info string
	if m.summary != nil && m.summary.Metadata != nil {
		meta := m.summary.Metadata
		info = styles.box.Render(fmt.Sprintf("Playlists: %d\nTracks:    %d\nArtists:   %d\nSynced at: %s",
			meta.Playlists, meta.Tracks, meta.Artists, meta.LastSync.Local().Format(time.DateTime)))
	} else {
		info = fmt.Sprintf("Job %s completed", m.status.ID)
	}

	keys := []key.Binding{m.keys.quit}
	if m.opts.Library != nil {
		keys = []key.Binding{m.keys.browse, m.keys.quit}
	}
	return fmt.Sprintf("%s\n%s\n\n%s", styles.ok.Render("✓ Sync Complete"), info, m.help.ShortHelpView(keys))
}

func (m *Model) completed() bool {
	return m.status != nil && m.status.State == models.JobCompleted
}

func (m *Model) filtering() bool {
	switch m.view {
	case PlaylistListView:
		return m.playlistList.FilterState() == list.Filtering
	case TrackListView:
		return m.trackList.FilterState() == list.Filtering
	}
	return false
}

func (m *Model) resizeLists() {
	w, h := max(m.width-4, 0), max(m.height-6, 0)
	if m.view == PlaylistListView || m.playlistList.Items() != nil {
		m.playlistList.SetSize(w, h)
	}
	if m.view == TrackListView || m.trackList.Items() != nil {
		m.trackList.SetSize(w, h)
	}
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case PlaylistListView:
		m.playlistList, cmd = m.playlistList.Update(msg)
	case TrackListView:
		m.trackList, cmd = m.trackList.Update(msg)
	}
	return m, cmd
}

func (m *Model) poll() tea.Cmd {
	return func() tea.Msg {
		status, err := m.opts.Jobs.Status(m.ctx, m.opts.JobID)
		return statusPolledMsg(status, err)
	}
}

func (m *Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.opts.Interval, func(time.Time) tea.Msg { return pollTickMsg() })
}

func (m *Model) fetchSummary() tea.Cmd {
	if m.opts.Library == nil {
		return nil
	}
	return func() tea.Msg {
		status, err := m.opts.Library.ReadSyncStatus(m.ctx, m.opts.NS)
		return summaryFetchedMsg(status, err)
	}
}

func (m *Model) fetchPlaylists() tea.Cmd {
	return func() tea.Msg {
		playlists, err := m.opts.Library.ReadUserPlaylists(m.ctx, m.opts.NS)
		return playlistsFetchedMsg(playlists, err)
	}
}

func (m *Model) fetchTracks(playlist models.Playlist) tea.Cmd {
	return func() tea.Msg {
		tracks, err := m.opts.Library.ReadPlaylistTracks(m.ctx, m.opts.NS, playlist.ID)
		return tracksFetchedMsg(playlist, tracks, err)
	}
}
