package narrow_listening_build

import (
	"strings"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	jobrt "github.com/convolab/lessonaudio/internal/jobs/runtime"
	"github.com/convolab/lessonaudio/internal/modules/narrowlistening"
	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
)

// Payload is the job input. VoiceAssignments wins over VoicePool; with neither
// the pool comes from the voice catalog for Language.
type Payload struct {
	PackID           string                  `json:"pack_id"`
	Segments         []lessons.NarrowSegment `json:"segments"`
	Language         string                  `json:"language"`
	VariantIndex     int                     `json:"variant_index"`
	VoicePool        []lessons.Voice         `json:"voice_pool,omitempty"`
	VoiceAssignments []string                `json:"voice_assignments,omitempty"`
	Speeds           []float64               `json:"speeds,omitempty"`
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
	if strings.TrimSpace(in.PackID) == "" {
		in.PackID = jc.Job.EntityKey
	}
	if in.PackID == "" {
		jc.Fail("validate", apperr.Precondition("missing pack_id"))
		return nil
	}
	if len(in.Segments) == 0 {
		jc.Fail("validate", apperr.Precondition("pack %s has no segments", in.PackID))
		return nil
	}

	pool := in.VoicePool
	if len(in.VoiceAssignments) == 0 && len(pool) == 0 {
		jc.Progress("voices", 1, "Resolving voice pool")
		var err error
		pool, err = p.voices.Pool(in.Language)
		if err != nil {
			jc.Fail("voices", err)
			return nil
		}
	}

	out, err := p.packs.GeneratePack(jc.Ctx, narrowlistening.PackInput{
		PackID:           in.PackID,
		Segments:         in.Segments,
		VariantIndex:     in.VariantIndex,
		Language:         in.Language,
		VoiceAssignments: in.VoiceAssignments,
		VoicePool:        pool,
		Speeds:           in.Speeds,
		OnProgress: func(pct int, msg string) {
			jc.Progress("generate", pct, msg)
		},
	})
	if err != nil {
		stage := "generate"
		if apperr.Is(err, apperr.ErrPrecondition) {
			stage = "validate"
		}
		p.log.Warn("narrow listening pack failed", "pack_id", in.PackID, "error", err)
		jc.Fail(stage, err)
		return nil
	}
	jc.Succeed("done", out)
	return nil
}
