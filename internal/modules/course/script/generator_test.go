package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/modules/course/planner"
)

type fakeText struct {
	calls     int
	responses []string
	err       error
}

func (f *fakeText) Generate(ctx context.Context, prompt string, systemInstruction string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "not json", nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r, nil
}

var testVoices = VoiceContext{
	TargetLanguage:     "ja",
	NativeLanguage:     "en",
	NarratorVoiceID:    "en-narrator",
	L2VoiceID:          "ja-a",
	CounterpartVoiceID: "ja-b",
}

func items(n int) []lessons.CoreItem {
	out := make([]lessons.CoreItem, n)
	for i := range out {
		out[i] = lessons.CoreItem{
			ID:            fmt.Sprintf("i%d", i),
			TextL2:        fmt.Sprintf("ことば%d", i),
			TranslationL1: fmt.Sprintf("word %d", i),
		}
	}
	return out
}

func markers(units []lessons.ScriptUnit) []string {
	var out []string
	for _, u := range units {
		if m, ok := u.(lessons.Marker); ok {
			out = append(out, m.Label)
		}
	}
	return out
}

func TestGenerateEmitsLessonAndSectionMarkers(t *testing.T) {
	for _, n := range []int{0, 1, 3, 7} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			plan := planner.PlanLesson(items(n), 2, "Travel")
			res, err := NewGenerator(&fakeText{}, nil).Generate(context.Background(), plan, testVoices)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			got := markers(res.Units)
			want := []string{"Lesson 2 Start"}
			for _, s := range plan.Sections {
				want = append(want, s.Title)
			}
			want = append(want, "Lesson 2 End")
			if strings.Join(got, "|") != strings.Join(want, "|") {
				t.Fatalf("markers:\nwant %v\ngot  %v", want, got)
			}
			if _, ok := res.Units[0].(lessons.Marker); !ok {
				t.Fatalf("first unit must be the start marker")
			}
			if m, ok := res.Units[len(res.Units)-1].(lessons.Marker); !ok || m.Label != "Lesson 2 End" {
				t.Fatalf("last unit must be the end marker")
			}
		})
	}
}

func TestGenerateUsesThreeBatchesAndFencedJSON(t *testing.T) {
	text := &fakeText{responses: []string{
		"```json\n{\"lessonIntro\":\"Konnichiwa, welcome!\",\"coreItemIntros\":[\"First up: a word.\"],\"earlySRSIntro\":\"Quick check.\"}\n```",
		`Sure! {"phraseConstructionIntro":"Build it.","dialogueIntegrationIntro":"Listen in.","qaScenarios":[]}`,
		`{"roleplayIntro":"","lateSRSIntro":"Last review.","outro":"Bye!"}`,
	}}
	plan := planner.PlanLesson(items(2), 1, "Greetings")
	res, err := NewGenerator(text, nil).Generate(context.Background(), plan, testVoices)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text.calls != 3 {
		t.Fatalf("want 3 generation calls, got %d", text.calls)
	}
	narr := narrations(res.Units)
	for _, want := range []string{
		"Konnichiwa, welcome!",
		"First up: a word.",
		"Here is how to say \"word 1\".", // missing array entry filled from fallback
		"Build it.",
		"Someone needs you to say \"word 0\". What do you say?",
		"Role Play. Time to use these phrases in a conversation.", // blank field filled from fallback
		"Bye!",
	} {
		if !contains(narr, want) {
			t.Fatalf("missing narration %q in %v", want, narr)
		}
	}
}

func TestGenerateFallsBackOnGenerationError(t *testing.T) {
	plan := planner.PlanLesson(items(1), 1, "Food")
	res, err := NewGenerator(&fakeText{err: errors.New("503")}, nil).Generate(context.Background(), plan, testVoices)
	if err != nil {
		t.Fatalf("Generate should not fail on generation errors: %v", err)
	}
	narr := narrations(res.Units)
	if !contains(narr, "Introduction. Welcome to Food.") {
		t.Fatalf("expected section-title fallback intro, got %v", narr)
	}
	if res.EstimatedDurationSeconds <= 0 {
		t.Fatalf("expected positive estimate")
	}
	if got := EstimateSeconds(res.Units); got != res.EstimatedDurationSeconds {
		t.Fatalf("estimate mismatch: %v vs %v", got, res.EstimatedDurationSeconds)
	}
}

func TestGenerateReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGenerator(&fakeText{}, nil).Generate(ctx, planner.PlanLesson(items(1), 1, "x"), testVoices)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled got %v", err)
	}
}

func TestBackwardBuildStartsFromTrailingFragment(t *testing.T) {
	item := lessons.CoreItem{
		ID:            "c",
		TextL2:        "quiero un café",
		TranslationL1: "I want a coffee",
		Components:    []string{"quiero", "un", "café"},
	}
	b := &builder{vc: testVoices}
	b.teach(item)

	var l2s []lessons.L2
	fullPromptAt := -1
	for i, u := range b.units {
		switch v := u.(type) {
		case lessons.L2:
			l2s = append(l2s, v)
		case lessons.NarrationL1:
			if v.Text == "Now try the full phrase." {
				fullPromptAt = i
			}
		}
	}
	wantTexts := []string{"café", "un café", "quiero un café", "quiero un café"}
	if len(l2s) != len(wantTexts) {
		t.Fatalf("want %d L2 units got %d", len(wantTexts), len(l2s))
	}
	for i, w := range wantTexts {
		if l2s[i].Text != w {
			t.Fatalf("L2 %d: want %q got %q", i, w, l2s[i].Text)
		}
	}
	if l2s[0].Speed != 0.75 || l2s[1].Speed != 0.75 {
		t.Fatalf("fragments should be slow")
	}
	if l2s[2].Speed != 1.0 || l2s[3].Speed != 0.75 {
		t.Fatalf("full line must be heard at 1.0 and 0.75, got %v and %v", l2s[2].Speed, l2s[3].Speed)
	}
	if fullPromptAt < 0 {
		t.Fatalf("missing full phrase prompt")
	}
	if _, ok := b.units[1].(lessons.Pause); !ok {
		t.Fatalf("each fragment must be followed by a pause")
	}
}

func TestDrillPromptsFollowedByAnticipationPause(t *testing.T) {
	item := items(1)[0]
	for dt, format := range drillPrompts {
		b := &builder{vc: testVoices}
		b.drill(lessons.DrillEvent{DrillType: dt, CoreItem: item})
		n, ok := b.units[0].(lessons.NarrationL1)
		if !ok || n.Text != fmt.Sprintf(format, item.TranslationL1) {
			t.Fatalf("%s: unexpected prompt %#v", dt, b.units[0])
		}
		p, ok := b.units[1].(lessons.Pause)
		if !ok || p.Seconds < 3 {
			t.Fatalf("%s: want anticipation pause >= 3s got %#v", dt, b.units[1])
		}
		if _, ok := b.units[2].(lessons.L2); !ok {
			t.Fatalf("%s: want L2 answer after pause", dt)
		}
	}
}

func TestEveryDrillIsEmittedOnce(t *testing.T) {
	plan := planner.PlanLesson(items(3), 1, "Drills")
	res, err := NewGenerator(nil, nil).Generate(context.Background(), plan, testVoices)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	prompts := 0
	for _, n := range narrations(res.Units) {
		for _, format := range drillPrompts {
			prefix := format[:strings.Index(format, "%s")]
			if strings.HasPrefix(n, prefix) {
				prompts++
			}
		}
	}
	if prompts != len(plan.DrillEvents) {
		t.Fatalf("want %d drill prompts got %d", len(plan.DrillEvents), prompts)
	}
}

func TestEveryItemHeardAtBothSpeeds(t *testing.T) {
	plan := planner.PlanLesson(items(7), 1, "Market")
	res, err := NewGenerator(nil, nil).Generate(context.Background(), plan, testVoices)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	speeds := map[string]map[float64]int{}
	for _, u := range res.Units {
		l2, ok := u.(lessons.L2)
		if !ok {
			continue
		}
		if speeds[l2.Text] == nil {
			speeds[l2.Text] = map[float64]int{}
		}
		speeds[l2.Text][l2.EffectiveSpeed()]++
	}
	for _, item := range plan.CoreItems {
		got := speeds[item.TextL2]
		if got[1.0] == 0 || got[0.75] == 0 {
			t.Fatalf("%s: want both 1.0 and 0.75, got %v", item.ID, got)
		}
	}
}

func TestReviewPlaysSlowLineOnlyOnce(t *testing.T) {
	item := items(1)[0]
	b := &builder{vc: testVoices}
	b.review(item)
	b.review(item)
	slow := 0
	for _, u := range b.units {
		if l2, ok := u.(lessons.L2); ok && l2.Speed == 0.75 {
			slow++
		}
	}
	if slow != 1 {
		t.Fatalf("want one slow line across reviews, got %d", slow)
	}

	b = &builder{vc: testVoices}
	b.teach(item)
	before := len(b.units)
	b.review(item)
	for _, u := range b.units[before:] {
		if l2, ok := u.(lessons.L2); ok && l2.Speed == 0.75 {
			t.Fatalf("taught item should not repeat the slow line in review")
		}
	}
}

func TestRoleplayNeedsTwoItems(t *testing.T) {
	b := &builder{vc: testVoices}
	b.roleplay(items(1))
	if len(b.units) != 0 {
		t.Fatalf("single item roleplay should emit nothing, got %d units", len(b.units))
	}

	b = &builder{vc: testVoices}
	b.roleplay(items(2))
	narr := narrations(b.units)
	if narr[0] != "You start the conversation." || !contains(narr, "Good! Now they respond.") {
		t.Fatalf("unexpected roleplay narration %v", narr)
	}
	last := b.units[len(b.units)-2].(lessons.L2)
	if last.VoiceID != "ja-b" {
		t.Fatalf("counterpart line should use counterpart voice, got %s", last.VoiceID)
	}
	for _, u := range b.units {
		if p, ok := u.(lessons.Pause); ok && (p.Seconds < 0.5) {
			t.Fatalf("pause too short: %v", p.Seconds)
		}
	}
}

func TestEstimateUnitSeconds(t *testing.T) {
	tests := []struct {
		unit lessons.ScriptUnit
		want float64
	}{
		{lessons.NarrationL1{Text: "one two three four five"}, 2},
		{lessons.L2{Text: "あ"}, 1},
		{lessons.L2{Text: "あいうえおかきくけこ", Speed: 0.75}, 1.6},
		{lessons.Pause{Seconds: 3}, 3},
		{lessons.Marker{Label: "x"}, 0},
	}
	for _, tt := range tests {
		got := EstimateUnitSeconds(tt.unit)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("%#v: want %v got %v", tt.unit, tt.want, got)
		}
	}
}

func narrations(units []lessons.ScriptUnit) []string {
	var out []string
	for _, u := range units {
		if n, ok := u.(lessons.NarrationL1); ok {
			out = append(out, n.Text)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
