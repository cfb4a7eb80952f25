package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/tasks"
)

// MsgKind enumerates all message types in the watcher.
type MsgKind int

// Msg is the watcher's message union.
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgPollTick MsgKind = iota
	MsgStatusPolled
	MsgSummaryFetched
	MsgPlaylistsFetched
	MsgTracksFetched
)

type statusResult struct {
	status *tasks.JobStatus
	err    error
}

type summaryResult struct {
	status models.SyncStatus
	err    error
}

type playlistsResult struct {
	playlists []models.Playlist
	err       error
}

type tracksResult struct {
	playlist models.Playlist
	tracks   []models.Track
	err      error
}

// pollTickMsg is the constructor for [MsgPollTick]
func pollTickMsg() Msg {
	return Msg{kind: MsgPollTick}
}

// statusPolledMsg is the constructor for [MsgStatusPolled]
func statusPolledMsg(status *tasks.JobStatus, err error) Msg {
	return Msg{kind: MsgStatusPolled, data: statusResult{status, err}}
}

// summaryFetchedMsg is the constructor for [MsgSummaryFetched]
func summaryFetchedMsg(status models.SyncStatus, err error) Msg {
	return Msg{kind: MsgSummaryFetched, data: summaryResult{status, err}}
}

// playlistsFetchedMsg is the constructor for [MsgPlaylistsFetched]
func playlistsFetchedMsg(playlists []models.Playlist, err error) Msg {
	return Msg{kind: MsgPlaylistsFetched, data: playlistsResult{playlists, err}}
}

// tracksFetchedMsg is the constructor for [MsgTracksFetched]
func tracksFetchedMsg(playlist models.Playlist, tracks []models.Track, err error) Msg {
	return Msg{kind: MsgTracksFetched, data: tracksResult{playlist, tracks, err}}
}
