// Package tasks rebuilds cached libraries from music providers and schedules those rebuilds as durable jobs.
//
// # Sync Engine
//
// [SyncEngine.Run] performs a full rebuild of one namespace:
//
//  1. Delete every cached key of the namespace
//  2. Fetch and store the current user
//  3. Fetch owned playlists and saved tracks; saved tracks become the virtual "Liked Songs" playlist
//  4. Fetch and store each playlist's tracks, writing a basic record for every referenced artist
//  5. Look up artist details in provider-sized batches; a failed batch is logged and skipped
//  6. Store sync metadata
//
// Any other error aborts the run. Nothing is rolled back: the next successful run rebuilds the namespace.
//
// # Progress Reporting
//
// Runs report a [ProgressUpdate] through a [ProgressFunc]. Percentages are a stable contract:
//
//	0   started
//	5   user stored
//	25  playlists stored
//	65  tracks stored      (25-65 interpolated per playlist)
//	80  artists stored     (65-80 interpolated per artist batch)
//	100 completed
//
// [StageForProgress] maps any reported percentage back to its [Stage], which carries the status message.
//
// # Job Coordination
//
// [Coordinator] stores jobs in SQLite through repositories.JobRepository. A namespace holds at most one waiting or
// active job, so [Coordinator.StartSync] is idempotent while a sync is pending. Failed runs are retried from the
// start with exponential backoff up to the configured attempt count. Auth failures are not retried. Old completed
// and failed jobs are pruned.
//
// [WorkerService] drains the queue and is meant to run under a suture supervisor. Jobs left active by a crashed
// process are returned to the queue by [Coordinator.Recover].
package tasks
