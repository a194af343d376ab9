package synth

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/modules/audiokit"
	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
	"github.com/convolab/lessonaudio/internal/platform/logger"
	"github.com/convolab/lessonaudio/internal/services"
)

const DefaultMaxConcurrency = 2

type LanguageContext struct {
	TargetLanguage string
	NativeLanguage string
}

// Output holds one buffer per audible unit index. Speech and silence are kept
// apart so callers can tell them apart when building timing data.
type Output struct {
	Segments      map[int][]byte
	PauseSegments map[int][]byte
}

// Buffer returns the audio for unit i, speech or silence.
func (o Output) Buffer(i int) ([]byte, bool) {
	if b, ok := o.Segments[i]; ok {
		return b, true
	}
	b, ok := o.PauseSegments[i]
	return b, ok
}

type Options struct {
	MaxConcurrency int
}

type Synthesizer struct {
	tts            services.SpeechProvider
	log            *logger.Logger
	maxConcurrency int
}

func New(tts services.SpeechProvider, log *logger.Logger, opts Options) *Synthesizer {
	n := opts.MaxConcurrency
	if n <= 0 {
		n = DefaultMaxConcurrency
	}
	return &Synthesizer{
		tts:            tts,
		log:            logger.OrNop(log).With("service", "BatchedSynthesizer"),
		maxConcurrency: n,
	}
}

type voiceKey struct {
	voiceID  string
	language string
}

type voiceGroup struct {
	key     voiceKey
	indices []int
	texts   []services.SpeechText
}

// Synthesize issues one SynthesizeBatch call per distinct voice and one silence
// call per distinct pause length. Markers produce nothing.
func (s *Synthesizer) Synthesize(ctx context.Context, units []lessons.ScriptUnit, lc LanguageContext, onProgress audiokit.ProgressFunc) (Output, error) {
	progress := audiokit.NewProgress(onProgress)
	out := Output{Segments: map[int][]byte{}, PauseSegments: map[int][]byte{}}

	groups, pauses, err := groupUnits(units, lc)
	if err != nil {
		return Output{}, err
	}

	durations := make([]float64, 0, len(pauses))
	for d := range pauses {
		durations = append(durations, d)
	}
	sort.Float64s(durations)
	for _, d := range durations {
		buf, err := s.tts.GenerateSilence(ctx, d)
		if err != nil {
			return Output{}, apperr.Synthesis(fmt.Sprintf("silence %.2fs", d), err)
		}
		for _, i := range pauses[d] {
			out.PauseSegments[i] = buf
		}
	}

	total := len(groups)
	var (
		mu   sync.Mutex
		done int
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.maxConcurrency)
	for _, g := range groups {
		eg.Go(func() error {
			bufs, err := s.tts.SynthesizeBatch(egCtx, g.texts, services.SpeechOptions{
				VoiceID:      g.key.voiceID,
				LanguageCode: g.key.language,
			})
			if err != nil {
				return apperr.Synthesis("voice "+g.key.voiceID, err)
			}
			if len(bufs) != len(g.texts) {
				return apperr.Synthesis("voice "+g.key.voiceID,
					fmt.Errorf("provider returned %d buffers for %d texts", len(bufs), len(g.texts)))
			}
			mu.Lock()
			for j, idx := range g.indices {
				out.Segments[idx] = bufs[j]
			}
			done++
			pct := 100 * done / total
			mu.Unlock()
			progress.Report(pct, fmt.Sprintf("Synthesized voice %d of %d", done, total))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Output{}, err
	}

	s.log.Debug("synthesis complete",
		"units", len(units),
		"voices", len(groups),
		"speech_segments", len(out.Segments),
		"pause_segments", len(out.PauseSegments),
		"silence_calls", len(durations),
	)
	progress.Report(100, "Synthesis complete")
	return out, nil
}

func groupUnits(units []lessons.ScriptUnit, lc LanguageContext) ([]*voiceGroup, map[float64][]int, error) {
	var groups []*voiceGroup
	byKey := map[voiceKey]*voiceGroup{}
	pauses := map[float64][]int{}

	add := func(i int, key voiceKey, text services.SpeechText) {
		g, ok := byKey[key]
		if !ok {
			g = &voiceGroup{key: key}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.indices = append(g.indices, i)
		g.texts = append(g.texts, text)
	}

	for i, u := range units {
		switch v := u.(type) {
		case lessons.NarrationL1:
			add(i, voiceKey{voiceID: v.VoiceID, language: lc.NativeLanguage}, services.SpeechText{Text: v.Text, Speed: 1.0})
		case lessons.L2:
			add(i, voiceKey{voiceID: v.VoiceID, language: lc.TargetLanguage}, services.SpeechText{Text: v.Text, Reading: v.Reading, Speed: v.EffectiveSpeed()})
		case lessons.Pause:
			if v.Seconds <= 0 {
				continue
			}
			pauses[v.Seconds] = append(pauses[v.Seconds], i)
		case lessons.Marker:
		default:
			return nil, nil, apperr.Synthesis("group units", &lessons.UnknownUnitError{Index: i, Unit: u})
		}
	}
	return groups, pauses, nil
}
