package openai

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/convolab/lessonaudio/internal/observability"
	"github.com/convolab/lessonaudio/internal/services"
)

// SilenceWriter renders silence to a file. localmedia.Tools satisfies it.
type SilenceWriter interface {
	GenerateSilence(ctx context.Context, seconds float64, outPath string) error
}

// Speech implements services.SpeechProvider on /v1/audio/speech. The endpoint
// has no batch form and no silence, so texts are sent one by one and silence
// is rendered locally.
type Speech struct {
	client  *Client
	silence SilenceWriter
	tmpDir  string
}

func NewSpeech(c *Client, silence SilenceWriter, tmpDir string) *Speech {
	return &Speech{client: c, silence: silence, tmpDir: tmpDir}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format"`
}

func clampSpeed(s float64) float64 {
	switch {
	case s <= 0:
		return 1
	case s < 0.25:
		return 0.25
	case s > 4:
		return 4
	}
	return s
}

func (s *Speech) SynthesizeBatch(ctx context.Context, texts []services.SpeechText, opts services.SpeechOptions) ([][]byte, error) {
	start := time.Now()
	out := make([][]byte, 0, len(texts))
	var err error
	for i, t := range texts {
		var raw []byte
		raw, err = s.client.post(ctx, "/v1/audio/speech", s.client.ttsModel, speechRequest{
			Model:          s.client.ttsModel,
			Input:          t.Text,
			Voice:          opts.VoiceID,
			Speed:          clampSpeed(t.Speed),
			ResponseFormat: "mp3",
		})
		if err != nil {
			err = fmt.Errorf("text %d: %w", i, err)
			break
		}
		out = append(out, raw)
	}
	observability.Current().ObserveTTS("openai", len(texts), err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Speech) GenerateSilence(ctx context.Context, seconds float64) ([]byte, error) {
	if s.silence == nil {
		return nil, fmt.Errorf("no silence renderer configured")
	}
	path := filepath.Join(s.tmpDir, "silence-"+uuid.NewString()+".mp3")
	defer os.Remove(path)
	if err := s.silence.GenerateSilence(ctx, seconds, path); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}
