package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/services"
)

const itemsJSON = `{
  "episodeTitle": "At the cafe",
  "coreItems": [
    {"id": "c1", "textL2": "コーヒーをください", "translationL1": "Coffee, please", "complexityScore": 2, "components": ["コーヒーを", "ください"]},
    {"id": "c2", "textL2": "いくらですか", "translationL1": "How much is it?", "complexityScore": 1},
    {"id": "c3", "textL2": "ありがとう", "translationL1": "Thank you", "complexityScore": 1}
  ]
}`

func runCLI(t *testing.T, args []string, stdin string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func requireContains(t *testing.T, s, sub string) {
	t.Helper()
	if !strings.Contains(s, sub) {
		t.Fatalf("expected %q in output:\n%s", sub, s)
	}
}

func TestPlanCommandRendersTable(t *testing.T) {
	path := writeFile(t, "items.json", itemsJSON)
	out, _, err := runCLI(t, []string{"plan", "--items", path}, "")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	requireContains(t, out, "At the cafe")
	requireContains(t, out, "3 core items across 1 lesson(s)")
}

func TestPlanCommandJSONFromStdinArray(t *testing.T) {
	var file coreItemsFile
	if err := json.Unmarshal([]byte(itemsJSON), &file); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	arr, _ := json.Marshal(file.CoreItems)

	out, _, err := runCLI(t, []string{"plan", "--items", "-", "--title", "Piped", "--json"}, string(arr))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	var plan lessons.CoursePlan
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("decode plan: %v\n%s", err, out)
	}
	if len(plan.Lessons) != 1 || plan.Lessons[0].Title != "Piped" || len(plan.TotalCoreItems) != 3 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestPlanCommandRejectsEmptyItems(t *testing.T) {
	path := writeFile(t, "items.json", `{"coreItems": []}`)
	if _, _, err := runCLI(t, []string{"plan", "--items", path}, ""); err == nil {
		t.Fatalf("expected error for empty items")
	}
}

func TestReadSegmentsAcceptsBothShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		lang string
	}{
		{"object", `{"packId":"p1","language":"ja","segments":[{"text":"a"},{"text":"b"}]}`, "ja"},
		{"array", `[{"text":"a"},{"text":"b"}]`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := newRootCommand()
			got, err := readSegments(cmd, writeFile(t, "segments.json", tc.body))
			if err != nil {
				t.Fatalf("readSegments: %v", err)
			}
			if len(got.Segments) != 2 || got.Language != tc.lang {
				t.Fatalf("unexpected segments: %+v", got)
			}
		})
	}
}

func TestPickLesson(t *testing.T) {
	plan := lessons.CoursePlan{Lessons: []lessons.LessonPlan{{LessonNumber: 1}, {LessonNumber: 2}}}
	if l, err := pickLesson(plan, 0); err != nil || l.LessonNumber != 1 {
		t.Fatalf("lesson 0: got=%+v err=%v", l, err)
	}
	if l, err := pickLesson(plan, 2); err != nil || l.LessonNumber != 2 {
		t.Fatalf("lesson 2: got=%+v err=%v", l, err)
	}
	if _, err := pickLesson(plan, 3); err == nil {
		t.Fatalf("lesson 3: expected out of range")
	}
}

func TestFormatSeconds(t *testing.T) {
	cases := map[float64]string{0: "0s", -3: "0s", 59.6: "1m0s", 270: "4m30s"}
	for in, want := range cases {
		if got := formatSeconds(in); got != want {
			t.Fatalf("formatSeconds(%v): want=%s got=%s", in, want, got)
		}
	}
}

func TestResolveOwner(t *testing.T) {
	t.Setenv("LESSONCTL_OWNER_ID", "")
	if id, err := resolveOwner(""); err != nil || id != localOwner {
		t.Fatalf("default owner: got=%v err=%v", id, err)
	}
	want := uuid.New()
	t.Setenv("LESSONCTL_OWNER_ID", want.String())
	if id, err := resolveOwner(""); err != nil || id != want {
		t.Fatalf("env owner: got=%v err=%v", id, err)
	}
	if _, err := resolveOwner("not-a-uuid"); err == nil {
		t.Fatalf("expected invalid owner error")
	}
}

func TestFormatJobEvent(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := formatJobEvent(now, services.JobEvent{
		Event: services.JobEventProgress,
		Data: map[string]any{
			"job_id":   "j1",
			"job_type": "lesson_audio_build",
			"stage":    "synthesize",
			"progress": 40,
			"message":  "Synthesizing",
		},
	})
	for _, sub := range []string{"03:04:05", "JobProgress", "lesson_audio_build j1", "stage=synthesize", "40%", "Synthesizing"} {
		requireContains(t, got, sub)
	}
}

var queuedRe = regexp.MustCompile(`job ([0-9a-f-]{36})`)

func TestJobsEnqueueListCancel(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "jobs.db"))
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LESSONCTL_OWNER_ID", "")

	items := writeFile(t, "items.json", itemsJSON)
	out, _, err := runCLI(t, []string{"jobs", "enqueue", "lesson", "--items", items, "--target", "ja", "--lesson-id", "lesson-1"}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	requireContains(t, out, "Queued lesson_audio_build job")
	m := queuedRe.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no job id in %q", out)
	}

	out, _, err = runCLI(t, []string{"jobs", "list"}, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, "lesson-1")
	requireContains(t, out, "queued")

	out, _, err = runCLI(t, []string{"jobs", "cancel", m[1]}, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireContains(t, out, "canceled")

	out, _, err = runCLI(t, []string{"jobs", "status", m[1], "--json"}, "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status struct {
		Job struct {
			Status  string         `json:"status"`
			Payload map[string]any `json:"payload"`
		} `json:"job"`
		Events []struct {
			Kind string `json:"kind"`
		} `json:"events"`
	}
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	job := status.Job
	if job.Status != "canceled" || job.Payload["target_language"] != "ja" || job.Payload["lesson_id"] != "lesson-1" {
		t.Fatalf("unexpected job: %s", out)
	}
	if len(status.Events) != 2 || status.Events[1].Kind != "canceled" {
		t.Fatalf("unexpected timeline: %s", out)
	}

	out, _, err = runCLI(t, []string{"jobs", "status", m[1]}, "")
	if err != nil {
		t.Fatalf("status table: %v", err)
	}
	requireContains(t, out, "created")
	requireContains(t, out, "lesson_audio_build")
}

func TestJobsEnqueueLessonRequiresTarget(t *testing.T) {
	items := writeFile(t, "items.json", itemsJSON)
	if _, _, err := runCLI(t, []string{"jobs", "enqueue", "lesson", "--items", items}, ""); err == nil {
		t.Fatalf("expected missing target error")
	}
}
