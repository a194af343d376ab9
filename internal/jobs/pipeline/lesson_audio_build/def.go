package lesson_audio_build

import (
	"context"

	"github.com/convolab/lessonaudio/internal/modules/course"
	"github.com/convolab/lessonaudio/internal/modules/course/script"
	"github.com/convolab/lessonaudio/internal/platform/logger"
)

const JobType = "lesson_audio_build"

type LessonBuilder interface {
	BuildLesson(ctx context.Context, req course.LessonRequest) (course.LessonResult, error)
}

// VoiceResolver picks narrator and learner voices for a language pair.
type VoiceResolver interface {
	VoiceContext(target, native string) (script.VoiceContext, error)
}

type Pipeline struct {
	log     *logger.Logger
	builder LessonBuilder
	voices  VoiceResolver
}

func New(baseLog *logger.Logger, builder LessonBuilder, voices VoiceResolver) *Pipeline {
	return &Pipeline{
		log:     logger.OrNop(baseLog).With("job", JobType),
		builder: builder,
		voices:  voices,
	}
}

func (p *Pipeline) Type() string { return JobType }
