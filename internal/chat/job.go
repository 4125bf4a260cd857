package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// ImageJob tracks an async image generation request handled by the
// worker process.
type ImageJob struct {
	ID     string `gorm:"primaryKey;size:26"`
	ChatID string `gorm:"size:26;index;not null"`
	Prompt string `gorm:"type:text;not null"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when succeeded
	ResultMessageID *string `gorm:"size:26;index"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ImageJob) TableName() string { return "image_jobs" }
