package models

import "time"

// ProcessingStatus is the lifecycle state of a pending upload.
type ProcessingStatus string

const (
	StatusProcessing ProcessingStatus = "processing"
	StatusFailed     ProcessingStatus = "failed"
	StatusConfirmed  ProcessingStatus = "confirmed"
	// StatusPauseNotification is applied by clients to a local copy; it is never stored.
	StatusPauseNotification ProcessingStatus = "pauseNotification"
)

// PendingRecord tracks an upload that was admitted but has not finished processing.
type PendingRecord struct {
	FileRoot         int64            `json:"fileRoot"`
	Email            string           `json:"email"`
	Title            string           `json:"title"`
	Tag              string           `json:"tag"`
	Description      string           `json:"description"`
	ProcessingStatus ProcessingStatus `json:"processingStatus"`
	CreatedAt        time.Time        `json:"-"`
}

// RecordingSummary is the finalized, searchable row for a processed recording.
type RecordingSummary struct {
	FileRoot        int64     `json:"fileRoot"`
	Email           string    `json:"email"`
	Mode            string    `json:"mode"`
	Duration        float64   `json:"duration"`
	Timestamp       time.Time `json:"timestamp"`
	Title           string    `json:"title"`
	Tag             string    `json:"tag"`
	Description     string    `json:"description"`
	ShowFiles       bool      `json:"showFiles"`
	ContainerHeight float64   `json:"containerHeight"`
	UserGroups      []string  `json:"userGroups"`
	ForkedFrom      int64     `json:"forkedFrom"`
}

// PendingRecordWithUser is a pending record joined with its owner's public profile.
type PendingRecordWithUser struct {
	PendingRecord
	User UserPublic `json:"user"`
}
