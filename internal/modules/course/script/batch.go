package script

import (
	"context"
	"strings"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
)

// batch is one generation call covering a group of sections. T is the JSON shape
// the model must return; fallback supplies deterministic text for every field and
// fill patches missing fields of a decoded response.
type batch[T any] struct {
	name     string
	sections []lessons.SectionType
	schema   string
	prompt   func(plan lessons.LessonPlan, vc VoiceContext) string
	fallback func(plan lessons.LessonPlan) T
	fill     func(got *T, fb T)
}

// runBatch never fails on bad model output. The only error it returns is the
// context's own.
func runBatch[T any](ctx context.Context, g *Generator, b batch[T], plan lessons.LessonPlan, vc VoiceContext) (T, error) {
	fb := b.fallback(plan)
	if err := ctx.Err(); err != nil {
		return fb, err
	}
	if g.text == nil {
		return fb, nil
	}

	prompt := b.prompt(plan, vc) + "\n\nReturn ONLY a JSON object with this shape:\n" + b.schema
	raw, err := g.text.Generate(ctx, prompt, systemInstruction(vc))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fb, ctxErr
		}
		g.log.Warn("script generation failed, using fallback", "batch", b.name, "sections", b.sections, "lesson", plan.LessonNumber, "error", err)
		return fb, nil
	}

	got, err := decodeBatch[T](b.name, raw)
	if err != nil {
		g.log.Warn("script generation returned invalid JSON, using fallback",
			"batch", b.name,
			"sections", b.sections,
			"lesson", plan.LessonNumber,
			"error", err,
		)
		return fb, nil
	}
	b.fill(&got, fb)
	return got, nil
}

// decodeBatch parses one batch response. Failures carry the GenerationParse kind.
func decodeBatch[T any](name, raw string) (T, error) {
	var got T
	if err := DecodeJSON(raw, &got); err != nil {
		return got, apperr.GenerationParse(name, err)
	}
	return got, nil
}

func orFallback(got, fb string) string {
	if strings.TrimSpace(got) == "" {
		return fb
	}
	return strings.TrimSpace(got)
}

// alignTo returns got padded (or truncated) to len(fb), using fb for missing or
// blank entries.
func alignTo(got, fb []string) []string {
	out := make([]string, len(fb))
	for i := range fb {
		if i < len(got) {
			out[i] = orFallback(got[i], fb[i])
			continue
		}
		out[i] = fb[i]
	}
	return out
}
