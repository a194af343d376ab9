package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	repos "github.com/convolab/lessonaudio/internal/data/repos/jobs"
	types "github.com/convolab/lessonaudio/internal/domain/jobs"
	"github.com/convolab/lessonaudio/internal/pkg/dbctx"
	"github.com/convolab/lessonaudio/internal/platform/ctxutil"
	"github.com/convolab/lessonaudio/internal/platform/logger"
)

type EnqueueRequest struct {
	OwnerUserID uuid.UUID
	JobType     string
	EntityType  string
	EntityKey   string
	Payload     any
}

type JobService interface {
	Enqueue(dbc dbctx.Context, req EnqueueRequest) (*types.JobRun, error)
	Get(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
	Cancel(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
	Events(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobRunEvent, error)
}

type jobService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.JobRunRepo
	notify JobNotifier
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, notify JobNotifier) JobService {
	return &jobService{
		db:     db,
		log:    logger.OrNop(baseLog).With("service", "JobService"),
		repo:   repo,
		notify: notify,
	}
}

// Enqueue inserts a queued job row. Trace ids on the context are copied into the
// payload so worker logs can be correlated with the caller.
func (s *jobService) Enqueue(dbc dbctx.Context, req EnqueueRequest) (*types.JobRun, error) {
	if req.OwnerUserID == uuid.Nil {
		return nil, fmt.Errorf("missing owner_user_id")
	}
	jobType := strings.TrimSpace(req.JobType)
	if jobType == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	payload, err := payloadMap(req.Payload)
	if err != nil {
		return nil, err
	}
	if td := ctxutil.GetTraceData(dbc.Context()); td != nil {
		if td.TraceID != "" {
			if _, ok := payload["trace_id"]; !ok {
				payload["trace_id"] = td.TraceID
			}
		}
		if td.RequestID != "" {
			if _, ok := payload["request_id"]; !ok {
				payload["request_id"] = td.RequestID
			}
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: req.OwnerUserID,
		JobType:     jobType,
		EntityType:  req.EntityType,
		EntityKey:   req.EntityKey,
		Status:      types.StatusQueued,
		Stage:       "queued",
		Message:     "Queued",
		Payload:     datatypes.JSON(raw),
		Result:      datatypes.JSON([]byte(`{}`)),
	}
	inTx := dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}
	if _, err := s.repo.Create(inTx, []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.repo.AppendEvents(inTx, types.EventFor(job, types.EventCreated, job.Message)); err != nil {
		s.log.Warn("append created event failed", "job_id", job.ID, "error", err)
	}
	s.log.Info("Job enqueued", "job_id", job.ID, "job_type", job.JobType, "entity_key", job.EntityKey)
	if s.notify != nil {
		s.notify.JobCreated(req.OwnerUserID, job)
	}
	return job, nil
}

func (s *jobService) Get(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	rows, err := s.repo.GetByIDs(dbc, []uuid.UUID{jobID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	return rows[0], nil
}

// Cancel marks a job canceled unless it already finished. Running handlers see
// the new status on their next progress update.
func (s *jobService) Cancel(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	changed, err := s.repo.UpdateFieldsUnlessStatus(dbc, jobID, []string{types.StatusSucceeded, types.StatusCanceled}, map[string]interface{}{
		"status":  types.StatusCanceled,
		"stage":   "canceled",
		"message": "Canceled",
	})
	if err != nil {
		return nil, err
	}
	job, err := s.Get(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := s.repo.AppendEvents(dbc, types.EventFor(job, types.EventCanceled, job.Message)); err != nil {
			s.log.Warn("append canceled event failed", "job_id", job.ID, "error", err)
		}
		if s.notify != nil {
			s.notify.JobFailed(job.OwnerUserID, job, "canceled", "canceled")
		}
	}
	return job, nil
}

func (s *jobService) Events(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobRunEvent, error) {
	return s.repo.ListEvents(dbc, jobID)
}

func payloadMap(p any) (map[string]any, error) {
	switch v := p.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		out := map[string]any{}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("payload must encode to a JSON object: %w", err)
		}
		return out, nil
	}
}
