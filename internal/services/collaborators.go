package services

import "context"

// TextGenerator produces free text (usually JSON) for a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, systemInstruction string) (string, error)
}

// SpeechText is one utterance inside a synthesis batch.
type SpeechText struct {
	Text    string
	Reading string
	Speed   float64
}

type SpeechOptions struct {
	VoiceID      string
	LanguageCode string
}

// SpeechProvider turns text into encoded audio (mp3). SynthesizeBatch returns one
// buffer per input text, in input order.
type SpeechProvider interface {
	SynthesizeBatch(ctx context.Context, texts []SpeechText, opts SpeechOptions) ([][]byte, error)
	GenerateSilence(ctx context.Context, seconds float64) ([]byte, error)
}

// MediaTools wraps the ffmpeg/ffprobe binaries.
type MediaTools interface {
	ConcatAudio(ctx context.Context, manifestPath string, outPath string) error
	ProbeDurationSeconds(ctx context.Context, path string) (float64, error)
	GenerateSilence(ctx context.Context, seconds float64, outPath string) error
}

// UploadInput carries either a local file (FilePath) or an in-memory buffer (Data).
type UploadInput struct {
	FilePath    string
	Data        []byte
	Filename    string
	ContentType string
	Folder      string
}

// AudioStorage persists finished artifacts and returns their public URL.
type AudioStorage interface {
	Upload(ctx context.Context, in UploadInput) (string, error)
}
