// Package models defines the library entities mirrored from a music provider into the local cache.
//
// Entities:
//   - [User] : the account being synced
//   - [Playlist] : a provider playlist, or the virtual liked-songs playlist ([LikedSongsPlaylistID])
//   - [Track] : a track snapshot with its [AlbumSummary] and artist references
//   - [Artist] : a performer, either basic (name and url) or detailed (genres, popularity)
//
// Every cached key is scoped by a [Namespace] of the form {app}:{userId}:{provider}.
// [SyncMetadata] is written once a sync completes and its absence means the namespace was never synced.
package models
