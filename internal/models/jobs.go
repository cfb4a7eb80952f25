package models

import "time"

// JobState is the lifecycle state of a queued sync job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether the job will not run again.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Credentials are the provider tokens supplied by the OAuth layer when a sync is requested.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// CanRefresh reports whether a refresh token is available.
func (c Credentials) CanRefresh() bool {
	return c.RefreshToken != ""
}

// SyncJob is one queued run of the sync pipeline for a namespace.
type SyncJob struct {
	ID            string
	Sequence      int
	Namespace     Namespace
	Credentials   Credentials
	State         JobState
	Progress      int
	Attempts      int
	MaxAttempts   int
	FailureReason string
	RunAfter      time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}
