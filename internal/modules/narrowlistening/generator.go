// Package narrowlistening renders one story variant as multi-voice audio with a
// short gap between sentences.
package narrowlistening

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/modules/audiokit"
	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
	"github.com/convolab/lessonaudio/internal/platform/logger"
	"github.com/convolab/lessonaudio/internal/services"
)

const (
	StorageFolder  = "narrow-listening"
	ContentType    = "audio/mpeg"
	SilenceSeconds = 0.8
	silenceFile    = "silence_800ms.mp3"

	maxVoiceBatches = 2
)

// CanonicalSpeeds are the speed variants a pack is rendered at by default.
var CanonicalSpeeds = []float64{0.7, 0.85, 1.0}

type Input struct {
	PackID           string
	Segments         []lessons.NarrowSegment
	VoiceAssignments []string
	Speed            float64
	VariantIndex     int
	Language         string
	// SharedSilencePath, when set, is reused if present and written otherwise.
	SharedSilencePath string
	OnProgress        audiokit.ProgressFunc
}

type Output struct {
	CombinedAudioURL string                       `json:"combinedAudioUrl"`
	Speed            float64                      `json:"speed"`
	Segments         []lessons.NarrowTimedSegment `json:"segments"`
	TotalDurationMs  int64                        `json:"totalDurationMs"`
}

type Generator struct {
	tts      services.SpeechProvider
	media    services.MediaTools
	storage  services.AudioStorage
	log      *logger.Logger
	workRoot string
}

func NewGenerator(tts services.SpeechProvider, media services.MediaTools, storage services.AudioStorage, log *logger.Logger, workRoot string) *Generator {
	return &Generator{
		tts:      tts,
		media:    media,
		storage:  storage,
		log:      logger.OrNop(log).With("service", "NarrowListeningGenerator"),
		workRoot: workRoot,
	}
}

// SpeedLabel returns the label used in file names, e.g. "0.85x".
func SpeedLabel(speed float64) string {
	for _, c := range CanonicalSpeeds {
		if math.Abs(speed-c) < 0.005 {
			return strconv.FormatFloat(c, 'f', max(1, decimals(c)), 64) + "x"
		}
	}
	return strconv.FormatFloat(speed, 'f', -1, 64) + "x"
}

func decimals(f float64) int {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	for i := range len(s) {
		if s[i] == '.' {
			return len(s) - i - 1
		}
	}
	return 0
}

func FileName(packID string, variant int, speed float64) string {
	return fmt.Sprintf("narrow-listening-%s-v%d-%s.mp3", packID, variant, SpeedLabel(speed))
}

func (g *Generator) Generate(ctx context.Context, in Input) (Output, error) {
	if len(in.VoiceAssignments) != len(in.Segments) {
		return Output{}, apperr.Precondition("voice assignments (%d) do not match segments (%d)", len(in.VoiceAssignments), len(in.Segments))
	}
	if len(in.Segments) == 0 {
		return Output{}, apperr.Precondition("pack %s has no segments", in.PackID)
	}
	speed := in.Speed
	if speed <= 0 {
		speed = 1.0
	}
	progress := audiokit.NewProgress(in.OnProgress)
	log := g.log.With("pack_id", in.PackID, "variant", in.VariantIndex, "speed", speed)

	ws, err := audiokit.NewWorkspace(g.workRoot, "narrow", fmt.Sprintf("%s-v%d-%s", in.PackID, in.VariantIndex, SpeedLabel(speed)), log)
	if err != nil {
		return Output{}, apperr.Assembly("workspace", err)
	}
	defer ws.Cleanup()

	buffers, err := g.synthesize(ctx, in, speed, progress.Span(5, 60))
	if err != nil {
		return Output{}, err
	}

	silencePath := in.SharedSilencePath
	if silencePath == "" {
		silencePath = ws.Path(silenceFile)
	}
	if err := g.ensureSilence(ctx, silencePath); err != nil {
		return Output{}, err
	}
	silenceSecs, err := g.media.ProbeDurationSeconds(ctx, silencePath)
	if err != nil {
		return Output{}, apperr.Assembly("probe silence", err)
	}
	progress.Report(65, "Silence ready")

	files := make([]string, 0, 2*len(buffers))
	timed := make([]lessons.NarrowTimedSegment, len(in.Segments))
	var cursor float64
	for i, buf := range buffers {
		path, err := ws.WriteSegment(i, buf)
		if err != nil {
			return Output{}, apperr.Assembly("write segments", err)
		}
		secs, err := g.media.ProbeDurationSeconds(ctx, path)
		if err != nil {
			return Output{}, apperr.Assembly(fmt.Sprintf("probe segment %d", i), err)
		}
		timed[i] = lessons.NarrowTimedSegment{
			NarrowSegment: in.Segments[i],
			VoiceID:       in.VoiceAssignments[i],
			StartTimeMs:   toMs(cursor),
			EndTimeMs:     toMs(cursor + secs),
		}
		cursor += secs
		files = append(files, path)
		if i < len(buffers)-1 {
			files = append(files, silencePath)
			cursor += silenceSecs
		}
	}
	progress.Report(75, "Segments written")

	name := FileName(in.PackID, in.VariantIndex, speed)
	final, err := audiokit.Mux(ctx, g.media, ws, files, name)
	if err != nil {
		return Output{}, err
	}
	total, err := g.media.ProbeDurationSeconds(ctx, final)
	if err != nil {
		return Output{}, apperr.Assembly("probe final audio", err)
	}
	progress.Report(90, "Audio muxed")

	url, err := g.storage.Upload(ctx, services.UploadInput{
		FilePath:    final,
		Filename:    name,
		ContentType: ContentType,
		Folder:      StorageFolder,
	})
	if err != nil {
		return Output{}, fmt.Errorf("upload narrow listening audio: %w", err)
	}
	progress.Report(100, "Uploaded")
	log.Info("narrow listening variant assembled", "segments", len(timed), "duration_seconds", total)

	return Output{CombinedAudioURL: url, Speed: speed, Segments: timed, TotalDurationMs: toMs(total)}, nil
}

// synthesize sends one batch per voice and returns buffers in segment order.
func (g *Generator) synthesize(ctx context.Context, in Input, speed float64, onProgress audiokit.ProgressFunc) ([][]byte, error) {
	var order []string
	byVoice := map[string][]int{}
	for i, v := range in.VoiceAssignments {
		if _, ok := byVoice[v]; !ok {
			order = append(order, v)
		}
		byVoice[v] = append(byVoice[v], i)
	}

	progress := audiokit.NewProgress(onProgress)
	out := make([][]byte, len(in.Segments))
	var (
		mu   sync.Mutex
		done int
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxVoiceBatches)
	for _, voice := range order {
		idx := byVoice[voice]
		eg.Go(func() error {
			texts := make([]services.SpeechText, len(idx))
			for j, i := range idx {
				texts[j] = services.SpeechText{Text: in.Segments[i].Text, Reading: in.Segments[i].Reading, Speed: speed}
			}
			bufs, err := g.tts.SynthesizeBatch(gctx, texts, services.SpeechOptions{VoiceID: voice, LanguageCode: in.Language})
			if err != nil {
				return apperr.Synthesis("voice "+voice, err)
			}
			if len(bufs) != len(texts) {
				return apperr.Synthesis("voice "+voice, fmt.Errorf("got %d buffers for %d texts", len(bufs), len(texts)))
			}
			mu.Lock()
			for j, i := range idx {
				out[i] = bufs[j]
			}
			done++
			pct := done * 100 / len(order)
			mu.Unlock()
			progress.Report(pct, "Synthesized voice "+voice)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Generator) ensureSilence(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return apperr.Synthesis("stat silence", err)
	}
	if err := g.media.GenerateSilence(ctx, SilenceSeconds, path); err != nil {
		return apperr.Synthesis("generate silence", err)
	}
	return nil
}

func toMs(seconds float64) int64 { return int64(math.Round(seconds * 1000)) }
