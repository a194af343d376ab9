package narrowlistening

import (
	"context"
	"fmt"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/modules/audiokit"
	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
)

type PackInput struct {
	PackID       string
	Segments     []lessons.NarrowSegment
	VariantIndex int
	Language     string
	// VoiceAssignments wins over VoicePool when both are set.
	VoiceAssignments []string
	VoicePool        []lessons.Voice
	// Speeds defaults to CanonicalSpeeds.
	Speeds     []float64
	OnProgress audiokit.ProgressFunc
}

type PackOutput struct {
	PackID           string   `json:"packId"`
	VoiceAssignments []string `json:"voiceAssignments"`
	Variants         []Output `json:"variants"`
}

// GeneratePack renders every requested speed with the same voice assignment and
// one silence file shared across the runs.
func (g *Generator) GeneratePack(ctx context.Context, in PackInput) (PackOutput, error) {
	assignments := in.VoiceAssignments
	if len(assignments) == 0 {
		var err error
		assignments, err = AssignVoicesToSegments(len(in.Segments), in.VoicePool)
		if err != nil {
			return PackOutput{}, err
		}
	}
	if len(assignments) != len(in.Segments) {
		return PackOutput{}, apperr.Precondition("voice assignments (%d) do not match segments (%d)", len(assignments), len(in.Segments))
	}
	speeds := in.Speeds
	if len(speeds) == 0 {
		speeds = CanonicalSpeeds
	}

	shared, err := audiokit.NewWorkspace(g.workRoot, "narrow-pack", in.PackID, g.log)
	if err != nil {
		return PackOutput{}, apperr.Assembly("workspace", err)
	}
	defer shared.Cleanup()
	silence := shared.Path(silenceFile)

	progress := audiokit.NewProgress(in.OnProgress)
	out := PackOutput{PackID: in.PackID, VoiceAssignments: assignments}
	step := 100 / len(speeds)
	for i, speed := range speeds {
		lo, hi := i*step, (i+1)*step
		if i == len(speeds)-1 {
			hi = 100
		}
		v, err := g.Generate(ctx, Input{
			PackID:            in.PackID,
			Segments:          in.Segments,
			VoiceAssignments:  assignments,
			Speed:             speed,
			VariantIndex:      in.VariantIndex,
			Language:          in.Language,
			SharedSilencePath: silence,
			OnProgress:        progress.Span(lo, hi),
		})
		if err != nil {
			return PackOutput{}, fmt.Errorf("speed %s: %w", SpeedLabel(speed), err)
		}
		out.Variants = append(out.Variants, v)
	}
	return out, nil
}
