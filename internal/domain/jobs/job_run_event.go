package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	EventCreated   = "created"
	EventStage     = "stage"
	EventFailed    = "failed"
	EventSucceeded = "succeeded"
	EventCanceled  = "canceled"
)

// JobRunEvent is an append-only timeline entry for a job run. The runtime
// records one per stage change and one per terminal transition.
type JobRunEvent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID     uuid.UUID `gorm:"type:uuid;not null;index" json:"job_id"`
	Kind      string    `gorm:"column:kind;not null;index" json:"kind"`
	Status    string    `gorm:"column:status;not null" json:"status"`
	Stage     string    `gorm:"column:stage;not null" json:"stage"`
	Progress  int       `gorm:"column:progress;not null;default:0" json:"progress"`
	Message   string    `gorm:"column:message;type:text" json:"message,omitempty"`
	Attempt   int       `gorm:"column:attempt;not null;default:0" json:"attempt"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (JobRunEvent) TableName() string { return "job_run_event" }

func (e *JobRunEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}

// EventFor snapshots job into a timeline entry of the given kind.
func EventFor(job *JobRun, kind string, message string) *JobRunEvent {
	return &JobRunEvent{
		JobID:    job.ID,
		Kind:     kind,
		Status:   job.Status,
		Stage:    job.Stage,
		Progress: job.Progress,
		Message:  message,
		Attempt:  job.Attempts,
	}
}
