package narrow_listening_build

import (
	"context"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/modules/narrowlistening"
	"github.com/convolab/lessonaudio/internal/platform/logger"
)

const JobType = "narrow_listening_build"

type PackGenerator interface {
	GeneratePack(ctx context.Context, in narrowlistening.PackInput) (narrowlistening.PackOutput, error)
}

type PoolResolver interface {
	Pool(lang string) ([]lessons.Voice, error)
}

type Pipeline struct {
	log    *logger.Logger
	packs  PackGenerator
	voices PoolResolver
}

func New(baseLog *logger.Logger, packs PackGenerator, voices PoolResolver) *Pipeline {
	return &Pipeline{
		log:    logger.OrNop(baseLog).With("job", JobType),
		packs:  packs,
		voices: voices,
	}
}

func (p *Pipeline) Type() string { return JobType }
