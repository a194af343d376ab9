// Package course wires the planner, script generator and assembler into one
// lesson build.
package course

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/modules/audiokit"
	"github.com/convolab/lessonaudio/internal/modules/course/assembly"
	"github.com/convolab/lessonaudio/internal/modules/course/planner"
	"github.com/convolab/lessonaudio/internal/modules/course/script"
	"github.com/convolab/lessonaudio/internal/observability"
	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
	"github.com/convolab/lessonaudio/internal/platform/logger"
)

const pipelineName = "lesson_audio"

type ScriptWriter interface {
	Generate(ctx context.Context, plan lessons.LessonPlan, vc script.VoiceContext) (script.Result, error)
}

type AudioAssembler interface {
	Assemble(ctx context.Context, in assembly.Input) (assembly.Output, error)
}

type LessonRequest struct {
	LessonID     string
	EpisodeTitle string
	CoreItems    []lessons.CoreItem
	// LessonNumber is 1-based; zero selects the first lesson of the course.
	LessonNumber int
	Voices       script.VoiceContext
	OnProgress   audiokit.ProgressFunc
}

type LessonResult struct {
	Plan        lessons.LessonPlan
	LessonCount int
	Script      script.Result
	Audio       assembly.Output
}

type Pipeline struct {
	writer    ScriptWriter
	assembler AudioAssembler
	planOpts  planner.Options
	metrics   *observability.Metrics
	log       *logger.Logger
}

func NewPipeline(writer ScriptWriter, asm AudioAssembler, opts planner.Options, metrics *observability.Metrics, log *logger.Logger) *Pipeline {
	return &Pipeline{
		writer:    writer,
		assembler: asm,
		planOpts:  opts,
		metrics:   metrics,
		log:       logger.OrNop(log).With("service", "LessonPipeline"),
	}
}

func (p *Pipeline) Plan(items []lessons.CoreItem, episodeTitle string) lessons.CoursePlan {
	return planner.PlanCourse(items, episodeTitle, p.planOpts)
}

// BuildLesson plans the course, scripts the requested lesson and assembles its audio.
func (p *Pipeline) BuildLesson(ctx context.Context, req LessonRequest) (LessonResult, error) {
	if len(req.CoreItems) == 0 {
		return LessonResult{}, apperr.Precondition("lesson %s has no core items", req.LessonID)
	}
	if req.Voices.TargetLanguage == "" || req.Voices.NativeLanguage == "" {
		return LessonResult{}, apperr.Precondition("lesson %s is missing target or native language", req.LessonID)
	}

	ctx, span := observability.StartSpan(ctx, "course.BuildLesson",
		attribute.String("lesson.id", req.LessonID),
		attribute.Int("lesson.core_items", len(req.CoreItems)),
	)
	var err error
	defer func() { observability.EndSpan(span, err) }()

	progress := audiokit.NewProgress(req.OnProgress)
	log := p.log.With("lesson_id", req.LessonID)

	course := p.Plan(req.CoreItems, req.EpisodeTitle)
	n := req.LessonNumber
	if n <= 0 {
		n = 1
	}
	if n > len(course.Lessons) {
		err = apperr.Precondition("lesson number %d out of range (course has %d lessons)", n, len(course.Lessons))
		return LessonResult{}, err
	}
	plan := course.Lessons[n-1]
	progress.Report(2, "Lesson planned")
	log.Info("lesson planned",
		"lesson_number", n,
		"lessons", len(course.Lessons),
		"estimated_seconds", plan.TotalEstimatedDuration,
		"drills", len(plan.DrillEvents),
	)

	var res script.Result
	err = p.stage(ctx, "script", func(ctx context.Context) error {
		var serr error
		res, serr = p.writer.Generate(ctx, plan, req.Voices)
		return serr
	})
	if err != nil {
		return LessonResult{}, err
	}
	progress.Report(15, "Script generated")

	var out assembly.Output
	err = p.stage(ctx, "assemble", func(ctx context.Context) error {
		var aerr error
		out, aerr = p.assembler.Assemble(ctx, assembly.Input{
			LessonID:       req.LessonID,
			ScriptUnits:    res.Units,
			TargetLanguage: req.Voices.TargetLanguage,
			NativeLanguage: req.Voices.NativeLanguage,
			OnProgress:     progress.Span(15, 100),
		})
		return aerr
	})
	if err != nil {
		return LessonResult{}, err
	}
	p.metrics.ObserveAudio("lesson", out.ActualDurationSeconds)
	log.Info("lesson built",
		"units", len(res.Units),
		"estimated_seconds", res.EstimatedDurationSeconds,
		"actual_seconds", out.ActualDurationSeconds,
	)
	return LessonResult{Plan: plan, LessonCount: len(course.Lessons), Script: res, Audio: out}, nil
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, "course."+name)
	start := time.Now()
	err := fn(ctx)
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.ObserveStage(pipelineName, name, status, time.Since(start))
	observability.EndSpan(span, err)
	return err
}
