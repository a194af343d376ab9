package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	repos "github.com/convolab/lessonaudio/internal/data/repos/jobs"
	"github.com/convolab/lessonaudio/internal/data/repos/testutil"
	types "github.com/convolab/lessonaudio/internal/domain/jobs"
	"github.com/convolab/lessonaudio/internal/pkg/dbctx"
	"github.com/convolab/lessonaudio/internal/platform/ctxutil"
)

type recordingNotifier struct {
	created []uuid.UUID
	failed  []string
}

func (n *recordingNotifier) JobCreated(userID uuid.UUID, job *types.JobRun) {
	n.created = append(n.created, job.ID)
}
func (n *recordingNotifier) JobProgress(uuid.UUID, *types.JobRun, string, int, string) {}
func (n *recordingNotifier) JobFailed(userID uuid.UUID, job *types.JobRun, stage string, msg string) {
	n.failed = append(n.failed, stage)
}
func (n *recordingNotifier) JobDone(uuid.UUID, *types.JobRun) {}

func TestJobServiceEnqueueAndCancel(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	notify := &recordingNotifier{}
	svc := NewJobService(db, log, repos.NewJobRunRepo(db, log), notify)

	ctx := ctxutil.WithTraceData(context.Background(), &ctxutil.TraceData{TraceID: "trace-1"})
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	owner := uuid.New()

	type payload struct {
		LessonID string `json:"lesson_id"`
	}
	job, err := svc.Enqueue(dbc, EnqueueRequest{
		OwnerUserID: owner,
		JobType:     "lesson_audio_build",
		EntityType:  "lesson",
		EntityKey:   "l-1",
		Payload:     payload{LessonID: "l-1"},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != types.StatusQueued {
		t.Fatalf("Enqueue: want queued got %s", job.Status)
	}
	var got map[string]any
	if err := json.Unmarshal(job.Payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got["lesson_id"] != "l-1" || got["trace_id"] != "trace-1" {
		t.Fatalf("payload: unexpected %v", got)
	}
	if len(notify.created) != 1 || notify.created[0] != job.ID {
		t.Fatalf("notifier: want created event for %v got %v", job.ID, notify.created)
	}

	canceled, err := svc.Cancel(dbc, job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if canceled.Status != types.StatusCanceled {
		t.Fatalf("Cancel: want canceled got %s", canceled.Status)
	}
	if _, err := svc.Cancel(dbc, job.ID); err != nil {
		t.Fatalf("Cancel twice: %v", err)
	}
	if len(notify.failed) != 1 {
		t.Fatalf("notifier: want one cancel event got %v", notify.failed)
	}

	events, err := svc.Events(dbc, job.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 || events[0].Kind != types.EventCreated || events[1].Kind != types.EventCanceled {
		t.Fatalf("Events: unexpected timeline %+v", events)
	}
}

func TestJobServiceEnqueueRejectsMissingFields(t *testing.T) {
	svc := NewJobService(nil, nil, nil, nil)
	if _, err := svc.Enqueue(dbctx.Context{}, EnqueueRequest{JobType: "x"}); err == nil {
		t.Fatalf("expected error for missing owner")
	}
	if _, err := svc.Enqueue(dbctx.Context{}, EnqueueRequest{OwnerUserID: uuid.New()}); err == nil {
		t.Fatalf("expected error for missing job type")
	}
}
