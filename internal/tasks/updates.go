package tasks

import "fmt"

// Stage is a step of the sync state machine.
//
// Stages advance strictly in declaration order; [StageFailed] is terminal and reachable from any non-terminal stage.
type Stage int

const (
	StageStarted Stage = iota
	StageUserStored
	StagePlaylistsStored
	StageTracksStored
	StageArtistsStored
	StageCompleted
	StageFailed
)

// stageTable holds the progress percentage and status message of each stage.
var stageTable = [...]struct {
	name    string
	percent int
	message string
}{
	StageStarted:         {"started", 0, "Starting sync, clearing cached library"},
	StageUserStored:      {"user_stored", 5, "Fetching playlists and saved tracks"},
	StagePlaylistsStored: {"playlists_stored", 25, "Fetching playlist tracks"},
	StageTracksStored:    {"tracks_stored", 65, "Fetching artist details"},
	StageArtistsStored:   {"artists_stored", 80, "Saving sync metadata"},
	StageCompleted:       {"completed", 100, "Sync completed"},
	StageFailed:          {"failed", -1, "Sync failed"},
}

func (s Stage) valid() bool {
	return s >= StageStarted && s <= StageFailed
}

func (s Stage) String() string {
	if !s.valid() {
		return ""
	}
	return stageTable[s].name
}

// Percent is the progress reported when the stage is reached. It is -1 for [StageFailed].
func (s Stage) Percent() int {
	if !s.valid() {
		return -1
	}
	return stageTable[s].percent
}

// Message describes the work in progress once the stage has been reached.
func (s Stage) Message() string {
	if !s.valid() {
		return ""
	}
	return stageTable[s].message
}

// Terminal reports whether no further stage follows.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// StageForProgress maps a reported percentage, including values interpolated between two stages, to the last stage
// reached. Values outside 0-100 are clamped.
func StageForProgress(percent int) Stage {
	stage := StageStarted
	for s := StageStarted; s <= StageCompleted; s++ {
		if percent >= stageTable[s].percent {
			stage = s
		}
	}
	return stage
}

// interpolate returns the percentage after done of total steps between two stages.
func interpolate(from, to Stage, done, total int) int {
	if total <= 0 {
		return to.Percent()
	}
	lo, hi := from.Percent(), to.Percent()
	return lo + (hi-lo)*done/total
}

// ProgressUpdate is a progress event emitted by [SyncEngine.Run].
//
// Percent is non-decreasing across one run. Step and Total count playlists during the track stage and batches
// during the artist stage, and are zero otherwise.
type ProgressUpdate struct {
	Stage   Stage
	Percent int
	Step    int
	Total   int
	Message string
}

// ProgressFunc receives progress updates in order. It must not block for long; the run waits on it.
type ProgressFunc func(ProgressUpdate)

func stageUpdate(s Stage) ProgressUpdate {
	return ProgressUpdate{Stage: s, Percent: s.Percent(), Message: s.Message()}
}

func playlistUpdate(done, total int, name string) ProgressUpdate {
	pct := interpolate(StagePlaylistsStored, StageTracksStored, done, total)
	return ProgressUpdate{
		Stage:   StageForProgress(pct),
		Percent: pct,
		Step:    done,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Stored tracks of %s", done, total, name),
	}
}

func artistBatchUpdate(done, total int, skipped bool) ProgressUpdate {
	pct := interpolate(StageTracksStored, StageArtistsStored, done, total)
	msg := fmt.Sprintf("[%d/%d] Stored artist batch", done, total)
	if skipped {
		msg = fmt.Sprintf("[%d/%d] Skipped artist batch", done, total)
	}
	return ProgressUpdate{Stage: StageForProgress(pct), Percent: pct, Step: done, Total: total, Message: msg}
}
