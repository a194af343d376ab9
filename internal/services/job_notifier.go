package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	types "github.com/convolab/lessonaudio/internal/domain/jobs"
	"github.com/convolab/lessonaudio/internal/platform/logger"
)

type JobNotifier interface {
	JobCreated(userID uuid.UUID, job *types.JobRun)
	JobProgress(userID uuid.UUID, job *types.JobRun, stage string, progress int, message string)
	JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string)
	JobDone(userID uuid.UUID, job *types.JobRun)
}

const (
	JobEventCreated  = "JobCreated"
	JobEventProgress = "JobProgress"
	JobEventFailed   = "JobFailed"
	JobEventDone     = "JobDone"
)

// JobEvent is the message fanned out to progress subscribers. Channel is the
// owner user id.
type JobEvent struct {
	Channel string         `json:"channel"`
	Event   string         `json:"event"`
	Data    map[string]any `json:"data"`
}

type JobEventPublisher interface {
	Publish(ctx context.Context, ev JobEvent) error
}

type jobNotifier struct {
	pub JobEventPublisher
	log *logger.Logger
}

// NewJobNotifier publishes job lifecycle events through pub. A nil pub yields a
// notifier that only logs.
func NewJobNotifier(pub JobEventPublisher, baseLog *logger.Logger) JobNotifier {
	return &jobNotifier{pub: pub, log: logger.OrNop(baseLog).With("service", "JobNotifier")}
}

func (n *jobNotifier) emit(userID uuid.UUID, event string, data map[string]any) {
	if n.pub == nil {
		n.log.Debug("job event", "event", event, "data", data)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.pub.Publish(ctx, JobEvent{Channel: userID.String(), Event: event, Data: data}); err != nil {
		n.log.Warn("publish job event failed", "event", event, "error", err)
	}
}

func (n *jobNotifier) JobCreated(userID uuid.UUID, job *types.JobRun) {
	n.emit(userID, JobEventCreated, map[string]any{
		"job_id":   safeJobID(job),
		"job_type": safeJobType(job),
	})
}

func (n *jobNotifier) JobProgress(userID uuid.UUID, job *types.JobRun, stage string, progress int, message string) {
	n.emit(userID, JobEventProgress, map[string]any{
		"job_id":   safeJobID(job),
		"job_type": safeJobType(job),
		"stage":    stage,
		"progress": progress,
		"message":  message,
	})
}

func (n *jobNotifier) JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string) {
	n.emit(userID, JobEventFailed, map[string]any{
		"job_id":   safeJobID(job),
		"job_type": safeJobType(job),
		"stage":    stage,
		"error":    errorMessage,
	})
}

func (n *jobNotifier) JobDone(userID uuid.UUID, job *types.JobRun) {
	n.emit(userID, JobEventDone, map[string]any{
		"job_id":   safeJobID(job),
		"job_type": safeJobType(job),
	})
}

func safeJobID(job *types.JobRun) string {
	if job == nil {
		return ""
	}
	return job.ID.String()
}

func safeJobType(job *types.JobRun) string {
	if job == nil {
		return ""
	}
	return job.JobType
}
