package lesson_audio_build

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	jobrt "github.com/convolab/lessonaudio/internal/jobs/runtime"
	"github.com/convolab/lessonaudio/internal/modules/course"
	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
)

// Payload is the job input. Voice ids override the catalog when set.
type Payload struct {
	LessonID           string             `json:"lesson_id"`
	EpisodeTitle       string             `json:"episode_title"`
	CoreItems          []lessons.CoreItem `json:"core_items"`
	TargetLanguage     string             `json:"target_language"`
	NativeLanguage     string             `json:"native_language"`
	LessonNumber       int                `json:"lesson_number,omitempty"`
	NarratorVoiceID    string             `json:"narrator_voice_id,omitempty"`
	L2VoiceID          string             `json:"l2_voice_id,omitempty"`
	CounterpartVoiceID string             `json:"counterpart_voice_id,omitempty"`
}

type Result struct {
	LessonID                 string                `json:"lesson_id"`
	LessonNumber             int                   `json:"lesson_number"`
	LessonCount              int                   `json:"lesson_count"`
	AudioURL                 string                `json:"audio_url"`
	ActualDurationSeconds    float64               `json:"actual_duration_seconds"`
	EstimatedDurationSeconds float64               `json:"estimated_duration_seconds"`
	TimingData               []lessons.TimingEntry `json:"timing_data"`
	Script                   json.RawMessage       `json:"script"`
}

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	var in Payload
	if err := jc.DecodePayload(&in); err != nil {
		jc.Fail("validate", err)
		return nil
	}
	if strings.TrimSpace(in.LessonID) == "" {
		in.LessonID = jc.Job.EntityKey
	}
	if in.LessonID == "" {
		jc.Fail("validate", apperr.Precondition("missing lesson_id"))
		return nil
	}

	jc.Progress("voices", 1, "Resolving voices")
	vc, err := p.voices.VoiceContext(in.TargetLanguage, in.NativeLanguage)
	if err != nil {
		jc.Fail("voices", err)
		return nil
	}
	if in.NarratorVoiceID != "" {
		vc.NarratorVoiceID = in.NarratorVoiceID
	}
	if in.L2VoiceID != "" {
		vc.L2VoiceID = in.L2VoiceID
	}
	if in.CounterpartVoiceID != "" {
		vc.CounterpartVoiceID = in.CounterpartVoiceID
	}

	stage := "build"
	res, err := p.builder.BuildLesson(jc.Ctx, course.LessonRequest{
		LessonID:     in.LessonID,
		EpisodeTitle: in.EpisodeTitle,
		CoreItems:    in.CoreItems,
		LessonNumber: in.LessonNumber,
		Voices:       vc,
		OnProgress: func(pct int, msg string) {
			stage = stageFor(pct)
			jc.Progress(stage, pct, msg)
		},
	})
	if err != nil {
		p.log.Warn("lesson build failed", "lesson_id", in.LessonID, "stage", stage, "error", err)
		jc.Fail(failureStage(stage, err), err)
		return nil
	}

	raw, err := lessons.MarshalUnits(res.Script.Units)
	if err != nil {
		jc.Fail("encode", fmt.Errorf("encode script: %w", err))
		return nil
	}
	jc.Succeed("done", resultFrom(in.LessonID, res, raw))
	return nil
}

func resultFrom(lessonID string, res course.LessonResult, script []byte) Result {
	timing := res.Audio.TimingData
	if timing == nil {
		timing = []lessons.TimingEntry{}
	}
	return Result{
		LessonID:                 lessonID,
		LessonNumber:             res.Plan.LessonNumber,
		LessonCount:              res.LessonCount,
		AudioURL:                 res.Audio.AudioURL,
		ActualDurationSeconds:    res.Audio.ActualDurationSeconds,
		EstimatedDurationSeconds: res.Script.EstimatedDurationSeconds,
		TimingData:               timing,
		Script:                   script,
	}
}

// stageFor maps overall progress onto the pipeline stage names used in job rows.
func stageFor(pct int) string {
	switch {
	case pct < 15:
		return "script"
	case pct < 75:
		return "synthesize"
	case pct < 91:
		return "assemble"
	default:
		return "upload"
	}
}

func failureStage(current string, err error) string {
	switch {
	case apperr.Is(err, apperr.ErrPrecondition):
		return "validate"
	case apperr.Is(err, apperr.ErrSynthesis):
		return "synthesize"
	case apperr.Is(err, apperr.ErrAssembly):
		return "assemble"
	}
	return current
}
