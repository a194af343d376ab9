package app

import (
	"context"
	"fmt"

	"github.com/convolab/lessonaudio/internal/modules/course"
	"github.com/convolab/lessonaudio/internal/modules/course/assembly"
	"github.com/convolab/lessonaudio/internal/modules/course/planner"
	"github.com/convolab/lessonaudio/internal/modules/course/script"
	"github.com/convolab/lessonaudio/internal/modules/course/synth"
	"github.com/convolab/lessonaudio/internal/modules/narrowlistening"
	"github.com/convolab/lessonaudio/internal/modules/voices"
	"github.com/convolab/lessonaudio/internal/observability"
	"github.com/convolab/lessonaudio/internal/platform/gcp"
	"github.com/convolab/lessonaudio/internal/platform/localmedia"
	"github.com/convolab/lessonaudio/internal/platform/logger"
	"github.com/convolab/lessonaudio/internal/platform/openai"
	"github.com/convolab/lessonaudio/internal/services"
)

// Toolkit holds the collaborators and the modules built on them. It needs no
// database, so the CLI builds lessons with it directly.
type Toolkit struct {
	Text    services.TextGenerator
	Speech  services.SpeechProvider
	Media   localmedia.Tools
	Storage services.AudioStorage
	Voices  *voices.Catalog
	Metrics *observability.Metrics

	Script   *script.Generator
	Lessons  *course.Pipeline
	Narrow   *narrowlistening.Generator
	PlanOpts planner.Options

	openai    *openai.Client
	closeFunc []func() error
}

// NewTextOnlyToolkit wires just the text generator and script writer, for
// commands that never touch audio.
func NewTextOnlyToolkit(log *logger.Logger, cfg Config) (*Toolkit, error) {
	oa, err := openai.NewClient(log)
	if err != nil {
		return nil, fmt.Errorf("init openai client: %w", err)
	}
	return &Toolkit{
		openai:   oa,
		Text:     oa,
		Script:   script.NewGenerator(oa, log),
		PlanOpts: planner.Options{MaxLessonMinutes: cfg.LessonMaxMinutes},
	}, nil
}

func NewToolkit(ctx context.Context, log *logger.Logger, cfg Config) (*Toolkit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info("Wiring collaborators...", "tts_provider", cfg.TTSProvider, "audio_storage", cfg.AudioStorage)

	tk, err := NewTextOnlyToolkit(log, cfg)
	if err != nil {
		return nil, err
	}
	tk.Metrics = observability.Current()
	tk.Media = localmedia.New(log)
	if err := tk.Media.AssertReady(ctx); err != nil {
		return nil, fmt.Errorf("media tools: %w", err)
	}

	switch cfg.TTSProvider {
	case ProviderOpenAI:
		tk.Speech = openai.NewSpeech(tk.openai, tk.Media, cfg.WorkRoot)
	default:
		tts, err := gcp.NewTextToSpeech(log)
		if err != nil {
			return nil, fmt.Errorf("init text-to-speech: %w", err)
		}
		tk.Speech = tts
		tk.closeFunc = append(tk.closeFunc, tts.Close)
	}

	tk.Storage, err = resolveAudioStorage(log, cfg)
	if err != nil {
		tk.Close()
		return nil, err
	}
	tk.Voices, err = voices.Load(cfg.VoiceCatalogPath, cfg.TTSProvider)
	if err != nil {
		tk.Close()
		return nil, err
	}

	synthesizer := synth.New(tk.Speech, log, synth.Options{MaxConcurrency: cfg.SynthMaxConcurrency})
	assembler := assembly.New(synthesizer, tk.Media, tk.Storage, log, cfg.WorkRoot)
	tk.Lessons = course.NewPipeline(tk.Script, assembler, tk.PlanOpts, tk.Metrics, log)
	tk.Narrow = narrowlistening.NewGenerator(tk.Speech, tk.Media, tk.Storage, log, cfg.WorkRoot)
	return tk, nil
}

func (t *Toolkit) Close() {
	if t == nil {
		return
	}
	for _, fn := range t.closeFunc {
		_ = fn()
	}
	t.closeFunc = nil
}
