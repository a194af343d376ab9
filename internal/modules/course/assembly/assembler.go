package assembly

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/modules/audiokit"
	"github.com/convolab/lessonaudio/internal/modules/course/synth"
	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
	"github.com/convolab/lessonaudio/internal/platform/logger"
	"github.com/convolab/lessonaudio/internal/services"
)

const (
	StorageFolder = "lessons"
	ContentType   = "audio/mpeg"
)

// SegmentSynthesizer is satisfied by *synth.Synthesizer.
type SegmentSynthesizer interface {
	Synthesize(ctx context.Context, units []lessons.ScriptUnit, lc synth.LanguageContext, onProgress audiokit.ProgressFunc) (synth.Output, error)
}

type Input struct {
	LessonID       string
	ScriptUnits    []lessons.ScriptUnit
	TargetLanguage string
	NativeLanguage string
	OnProgress     audiokit.ProgressFunc
}

type Output struct {
	AudioURL              string                `json:"audioUrl"`
	ActualDurationSeconds float64               `json:"actualDurationSeconds"`
	TimingData            []lessons.TimingEntry `json:"timingData"`
}

type Assembler struct {
	synth    SegmentSynthesizer
	media    services.MediaTools
	storage  services.AudioStorage
	log      *logger.Logger
	workRoot string
}

func New(s SegmentSynthesizer, media services.MediaTools, storage services.AudioStorage, log *logger.Logger, workRoot string) *Assembler {
	return &Assembler{
		synth:    s,
		media:    media,
		storage:  storage,
		log:      logger.OrNop(log).With("service", "AudioAssembler"),
		workRoot: workRoot,
	}
}

// FileName is the deterministic storage name for a lesson's audio.
func FileName(lessonID string) string { return fmt.Sprintf("lesson-%s.mp3", lessonID) }

// segmentFile ties a written segment back to the unit it came from.
type segmentFile struct {
	unitIndex int
	path      string
	seconds   float64 // known length for pauses, probed for speech
}

// Assemble synthesizes the units, muxes them into one file, probes it and
// uploads it. Upload is the last step, so a failed run never publishes audio.
// The workspace is removed on every return path.
func (a *Assembler) Assemble(ctx context.Context, in Input) (Output, error) {
	progress := audiokit.NewProgress(in.OnProgress)
	log := a.log.With("lesson_id", in.LessonID)

	ws, err := audiokit.NewWorkspace(a.workRoot, "lesson", in.LessonID, log)
	if err != nil {
		return Output{}, apperr.Assembly("workspace", err)
	}
	defer ws.Cleanup()
	progress.Report(5, "Workspace ready")

	synthOut, err := a.synth.Synthesize(ctx, in.ScriptUnits, synth.LanguageContext{
		TargetLanguage: in.TargetLanguage,
		NativeLanguage: in.NativeLanguage,
	}, progress.Span(10, 70))
	if err != nil {
		if !apperr.Is(err, apperr.ErrSynthesis) {
			err = apperr.Synthesis("synthesize lesson", err)
		}
		return Output{}, err
	}

	segments, err := a.writeSegments(ws, in.ScriptUnits, synthOut)
	if err != nil {
		return Output{}, err
	}
	progress.Report(75, fmt.Sprintf("Wrote %d segments", len(segments)))

	files := make([]string, len(segments))
	for i, s := range segments {
		files[i] = s.path
	}
	final, err := audiokit.Mux(ctx, a.media, ws, files, FileName(in.LessonID))
	if err != nil {
		return Output{}, err
	}
	progress.Report(85, "Audio muxed")

	duration, err := a.media.ProbeDurationSeconds(ctx, final)
	if err != nil {
		return Output{}, apperr.Assembly("probe final audio", err)
	}
	timing, err := a.buildTiming(ctx, in.ScriptUnits, segments)
	if err != nil {
		return Output{}, err
	}
	progress.Report(90, "Timing computed")

	url, err := a.storage.Upload(ctx, services.UploadInput{
		FilePath:    final,
		Filename:    FileName(in.LessonID),
		ContentType: ContentType,
		Folder:      StorageFolder,
	})
	if err != nil {
		return Output{}, fmt.Errorf("upload lesson audio: %w", err)
	}
	progress.Report(100, "Uploaded")

	log.Info("lesson audio assembled",
		"segments", len(segments),
		"duration_seconds", duration,
		"file", filepath.Base(final),
	)
	return Output{AudioURL: url, ActualDurationSeconds: duration, TimingData: timing}, nil
}

func (a *Assembler) writeSegments(ws *audiokit.Workspace, units []lessons.ScriptUnit, out synth.Output) ([]segmentFile, error) {
	var segments []segmentFile
	for i, u := range units {
		var known float64
		switch v := u.(type) {
		case lessons.Marker:
			continue
		case lessons.Pause:
			if v.Seconds <= 0 {
				continue
			}
			known = v.Seconds
		case lessons.NarrationL1, lessons.L2:
		default:
			return nil, apperr.Assembly("write segments", &lessons.UnknownUnitError{Index: i, Unit: u})
		}
		buf, ok := out.Buffer(i)
		if !ok || len(buf) == 0 {
			return nil, apperr.Assembly("write segments", fmt.Errorf("no audio for unit %d (%s)", i, u.Kind()))
		}
		path, err := ws.WriteSegment(len(segments), buf)
		if err != nil {
			return nil, apperr.Assembly("write segments", err)
		}
		segments = append(segments, segmentFile{unitIndex: i, path: path, seconds: known})
	}
	return segments, nil
}

// buildTiming lays every unit on the timeline. Speech segments are probed; pauses
// use their scripted length; markers and skipped units are zero width.
func (a *Assembler) buildTiming(ctx context.Context, units []lessons.ScriptUnit, segments []segmentFile) ([]lessons.TimingEntry, error) {
	byUnit := make(map[int]segmentFile, len(segments))
	for _, s := range segments {
		byUnit[s.unitIndex] = s
	}
	out := make([]lessons.TimingEntry, 0, len(units))
	cursor := 0.0
	for i := range units {
		seg, ok := byUnit[i]
		if !ok {
			out = append(out, lessons.TimingEntry{UnitIndex: i, StartSeconds: cursor, EndSeconds: cursor})
			continue
		}
		secs := seg.seconds
		if secs <= 0 {
			d, err := a.media.ProbeDurationSeconds(ctx, seg.path)
			if err != nil {
				return nil, apperr.Assembly(fmt.Sprintf("probe segment %d", i), err)
			}
			secs = d
		}
		out = append(out, lessons.TimingEntry{UnitIndex: i, StartSeconds: cursor, EndSeconds: cursor + secs})
		cursor += secs
	}
	return out, nil
}
