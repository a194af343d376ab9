package lesson_audio_build

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	repos "github.com/convolab/lessonaudio/internal/data/repos/jobs"
	"github.com/convolab/lessonaudio/internal/data/repos/testutil"
	types "github.com/convolab/lessonaudio/internal/domain/jobs"
	"github.com/convolab/lessonaudio/internal/domain/lessons"
	jobrt "github.com/convolab/lessonaudio/internal/jobs/runtime"
	"github.com/convolab/lessonaudio/internal/modules/course"
	"github.com/convolab/lessonaudio/internal/modules/course/assembly"
	"github.com/convolab/lessonaudio/internal/modules/course/script"
	"github.com/convolab/lessonaudio/internal/pkg/dbctx"
	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
)

type fakeBuilder struct {
	got course.LessonRequest
	err error
}

func (f *fakeBuilder) BuildLesson(ctx context.Context, req course.LessonRequest) (course.LessonResult, error) {
	f.got = req
	req.OnProgress(10, "Script")
	req.OnProgress(50, "Synthesizing")
	if f.err != nil {
		return course.LessonResult{}, f.err
	}
	req.OnProgress(100, "Uploaded")
	return course.LessonResult{
		Plan:        lessons.LessonPlan{LessonNumber: 2},
		LessonCount: 2,
		Script: script.Result{
			Units:                    []lessons.ScriptUnit{lessons.Marker{Label: "Lesson 2 Start"}, lessons.Pause{Seconds: 1}},
			EstimatedDurationSeconds: 1,
		},
		Audio: assembly.Output{
			AudioURL:              "https://cdn.example/lessons/lesson-l1.mp3",
			ActualDurationSeconds: 1.02,
			TimingData:            []lessons.TimingEntry{{UnitIndex: 0}, {UnitIndex: 1, EndSeconds: 1}},
		},
	}, nil
}

type fakeVoices struct{ err error }

func (f fakeVoices) VoiceContext(target, native string) (script.VoiceContext, error) {
	if f.err != nil {
		return script.VoiceContext{}, f.err
	}
	return script.VoiceContext{
		TargetLanguage:     target,
		NativeLanguage:     native,
		NarratorVoiceID:    "narrator",
		L2VoiceID:          "learner",
		CounterpartVoiceID: "partner",
	}, nil
}

func runJob(t *testing.T, p *Pipeline, payload string) *types.JobRun {
	t.Helper()
	tx := testutil.Tx(t, testutil.DB(t))
	repo := repos.NewJobRunRepo(tx, testutil.Logger(t))
	job := &types.JobRun{
		OwnerUserID: uuid.New(),
		JobType:     JobType,
		EntityKey:   "l1",
		Status:      types.StatusRunning,
		Payload:     datatypes.JSON([]byte(payload)),
	}
	if _, err := repo.Create(dbctx.Context{Ctx: context.Background()}, []*types.JobRun{job}); err != nil {
		t.Fatal(err)
	}
	if err := p.Run(jobrt.NewContext(context.Background(), tx, job, repo, nil)); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	rows, err := repo.GetByIDs(dbctx.Context{Ctx: context.Background()}, []uuid.UUID{job.ID})
	if err != nil || len(rows) != 1 {
		t.Fatalf("reload: %v", err)
	}
	return rows[0]
}

func TestRunStoresAudioAndScript(t *testing.T) {
	b := &fakeBuilder{}
	p := New(nil, b, fakeVoices{})
	row := runJob(t, p, `{
		"episode_title": "Ordering coffee",
		"target_language": "ja",
		"native_language": "en",
		"lesson_number": 2,
		"l2_voice_id": "override",
		"core_items": [{"id":"c1","textL2":"コーヒー","translationL1":"coffee"}]
	}`)

	if row.Status != types.StatusSucceeded {
		t.Fatalf("status=%s error=%s", row.Status, row.Error)
	}
	if b.got.LessonID != "l1" || b.got.LessonNumber != 2 || len(b.got.CoreItems) != 1 {
		t.Fatalf("request: %+v", b.got)
	}
	if b.got.Voices.L2VoiceID != "override" || b.got.Voices.NarratorVoiceID != "narrator" {
		t.Fatalf("voices: %+v", b.got.Voices)
	}

	var res Result
	if err := json.Unmarshal(row.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.AudioURL == "" || res.LessonNumber != 2 || res.LessonCount != 2 || len(res.TimingData) != 2 {
		t.Fatalf("result: %+v", res)
	}
	units, err := lessons.UnmarshalUnits(res.Script)
	if err != nil || len(units) != 2 {
		t.Fatalf("script units=%d err=%v", len(units), err)
	}
}

func TestRunFailureStages(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		voices  fakeVoices
		err     error
		stage   string
	}{
		{"bad payload", `{"core_items":"nope"}`, fakeVoices{}, nil, "validate"},
		{"unknown language", `{"target_language":"xx","native_language":"en"}`, fakeVoices{err: apperr.Precondition("no voices")}, nil, "voices"},
		{"synthesis", `{"target_language":"ja","native_language":"en"}`, fakeVoices{}, apperr.Synthesis("voice learner", errors.New("quota")), "synthesize"},
		{"assembly", `{"target_language":"ja","native_language":"en"}`, fakeVoices{}, apperr.Assembly("concat", errors.New("ffmpeg")), "assemble"},
		{"precondition", `{"target_language":"ja","native_language":"en"}`, fakeVoices{}, apperr.Precondition("no core items"), "validate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := New(nil, &fakeBuilder{err: tc.err}, tc.voices)
			row := runJob(t, p, tc.payload)
			if row.Status != types.StatusFailed || row.Stage != tc.stage {
				t.Fatalf("status=%s stage=%s error=%s", row.Status, row.Stage, row.Error)
			}
		})
	}
}

func TestStageFor(t *testing.T) {
	cases := map[int]string{0: "script", 14: "script", 40: "synthesize", 80: "assemble", 95: "upload"}
	for pct, want := range cases {
		if got := stageFor(pct); got != want {
			t.Fatalf("stageFor(%d)=%s want %s", pct, got, want)
		}
	}
}
