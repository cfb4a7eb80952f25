// Package ui implements the sync watcher, a terminal interface using bubbletea's Elm architecture.
//
// The watcher moves through four views:
//  1. [WatchView] : poll a sync job and render its percent and stage message
//  2. [ResultView] : show the final state with the synced entity counts, or the failure reason
//  3. [PlaylistListView] : browse the cached playlists of the namespace
//  4. [TrackListView] : browse a playlist's cached tracks
//
// Progress is read from the job coordinator on a timer rather than streamed, so the watcher can attach to a
// job started by another process. Once a job completes, browsing reads only the local cache.
package ui
