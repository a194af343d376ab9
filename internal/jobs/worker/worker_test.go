package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	repos "github.com/convolab/lessonaudio/internal/data/repos/jobs"
	"github.com/convolab/lessonaudio/internal/data/repos/testutil"
	types "github.com/convolab/lessonaudio/internal/domain/jobs"
	"github.com/convolab/lessonaudio/internal/jobs/runtime"
	"github.com/convolab/lessonaudio/internal/pkg/dbctx"
)

type funcHandler struct {
	typ string
	run func(jc *runtime.Context) error
}

func (h funcHandler) Type() string                  { return h.typ }
func (h funcHandler) Run(jc *runtime.Context) error { return h.run(jc) }

func setup(t *testing.T, handlers ...runtime.Handler) (*Worker, repos.JobRunRepo, *gorm.DB) {
	t.Helper()
	tx := testutil.Tx(t, testutil.DB(t))
	repo := repos.NewJobRunRepo(tx, testutil.Logger(t))
	reg := runtime.NewRegistry()
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			t.Fatal(err)
		}
	}
	w := NewWorker(tx, testutil.Logger(t), repo, reg, nil, Options{MaxAttempts: 2, HeartbeatInterval: time.Hour})
	return w, repo, tx
}

func enqueue(t *testing.T, repo repos.JobRunRepo, jobType string) uuid.UUID {
	t.Helper()
	job := &types.JobRun{OwnerUserID: uuid.New(), JobType: jobType}
	if _, err := repo.Create(dbctx.Context{Ctx: context.Background()}, []*types.JobRun{job}); err != nil {
		t.Fatal(err)
	}
	return job.ID
}

func load(t *testing.T, repo repos.JobRunRepo, id uuid.UUID) *types.JobRun {
	t.Helper()
	rows, err := repo.GetByIDs(dbctx.Context{Ctx: context.Background()}, []uuid.UUID{id})
	if err != nil || len(rows) != 1 {
		t.Fatalf("load: %v", err)
	}
	return rows[0]
}

func TestRunOnceOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		run       func(jc *runtime.Context) error
		wantState string
		wantStage string
	}{
		{
			name: "succeeds",
			run: func(jc *runtime.Context) error {
				jc.Succeed("done", map[string]any{"ok": true})
				return nil
			},
			wantState: types.StatusSucceeded,
			wantStage: "done",
		},
		{
			name:      "implicit success",
			run:       func(jc *runtime.Context) error { return nil },
			wantState: types.StatusSucceeded,
			wantStage: "done",
		},
		{
			name: "handler fails with stage",
			run: func(jc *runtime.Context) error {
				jc.Fail("assemble", errors.New("no audio files"))
				return nil
			},
			wantState: types.StatusFailed,
			wantStage: "assemble",
		},
		{
			name:      "returned error",
			run:       func(jc *runtime.Context) error { return errors.New("boom") },
			wantState: types.StatusFailed,
			wantStage: "run",
		},
		{
			name:      "panic",
			run:       func(jc *runtime.Context) error { panic("nil map") },
			wantState: types.StatusFailed,
			wantStage: "panic",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, repo, _ := setup(t, funcHandler{typ: "lesson_audio_build", run: tc.run})
			id := enqueue(t, repo, "lesson_audio_build")

			if !w.RunOnce(context.Background(), 1) {
				t.Fatalf("RunOnce found no job")
			}
			row := load(t, repo, id)
			if row.Status != tc.wantState || row.Stage != tc.wantStage {
				t.Fatalf("status=%s stage=%s error=%q", row.Status, row.Stage, row.Error)
			}
			if row.Attempts != 1 {
				t.Fatalf("attempts=%d", row.Attempts)
			}
		})
	}
}

func TestRunOnceWithoutHandler(t *testing.T) {
	w, repo, _ := setup(t)
	id := enqueue(t, repo, "unknown_job")
	if !w.RunOnce(context.Background(), 1) {
		t.Fatalf("RunOnce found no job")
	}
	row := load(t, repo, id)
	if row.Status != types.StatusFailed || row.Stage != "dispatch" {
		t.Fatalf("status=%s stage=%s", row.Status, row.Stage)
	}
}

func TestRunOnceEmptyQueue(t *testing.T) {
	w, _, _ := setup(t)
	if w.RunOnce(context.Background(), 1) {
		t.Fatalf("RunOnce reported a job on an empty queue")
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.Concurrency != 1 || o.PollInterval != time.Second || o.MaxAttempts != 1 {
		t.Fatalf("defaults: %+v", o)
	}
	t.Setenv("WORKER_CONCURRENCY", "6")
	t.Setenv("JOB_RETRY_DELAY", "90")
	env := OptionsFromEnv()
	if env.Concurrency != 6 || env.RetryDelay != 90*time.Second {
		t.Fatalf("env options: %+v", env)
	}
}
