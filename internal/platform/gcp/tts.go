package gcp

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/observability"
	"github.com/convolab/lessonaudio/internal/platform/envutil"
	"github.com/convolab/lessonaudio/internal/platform/logger"
	"github.com/convolab/lessonaudio/internal/services"
)

const (
	ttsProvider = "gcp"
	// Cloud TTS rejects a single <break> longer than ten seconds.
	maxBreakSeconds = 10.0
)

// TextToSpeech implements services.SpeechProvider on Google Cloud Text-to-Speech.
// Batches fan out one request per text; the API has no multi-input call.
type TextToSpeech struct {
	log          *logger.Logger
	client       *texttospeech.Client
	synthesize   func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error)
	listVoices   func(ctx context.Context, req *texttospeechpb.ListVoicesRequest) (*texttospeechpb.ListVoicesResponse, error)
	concurrency  int
	maxRetries   int
	sampleRate   int32
	silenceVoice *texttospeechpb.VoiceSelectionParams
}

func NewTextToSpeech(log *logger.Logger) (*TextToSpeech, error) {
	c, err := texttospeech.NewClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("texttospeech client: %w", err)
	}
	t := newTextToSpeech(log)
	t.client = c
	t.synthesize = func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
		return c.SynthesizeSpeech(ctx, req)
	}
	t.listVoices = func(ctx context.Context, req *texttospeechpb.ListVoicesRequest) (*texttospeechpb.ListVoicesResponse, error) {
		return c.ListVoices(ctx, req)
	}
	return t, nil
}

func newTextToSpeech(log *logger.Logger) *TextToSpeech {
	return &TextToSpeech{
		log:         logger.OrNop(log).With("service", "gcp.TextToSpeech"),
		concurrency: envutil.Int("GCP_TTS_CONCURRENCY", 4),
		maxRetries:  envutil.Int("GCP_TTS_MAX_RETRIES", 4),
		sampleRate:  44100,
		silenceVoice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: envutil.String("GCP_TTS_SILENCE_LANGUAGE", "en-US"),
		},
	}
}

func (t *TextToSpeech) Close() error {
	if t.client == nil {
		return nil
	}
	return t.client.Close()
}

func (t *TextToSpeech) SynthesizeBatch(ctx context.Context, texts []services.SpeechText, opts services.SpeechOptions) ([][]byte, error) {
	start := time.Now()
	out := make([][]byte, len(texts))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(1, t.concurrency))
	for i, text := range texts {
		eg.Go(func() error {
			resp, err := t.call(gctx, &texttospeechpb.SynthesizeSpeechRequest{
				Input: &texttospeechpb.SynthesisInput{
					InputSource: &texttospeechpb.SynthesisInput_Ssml{Ssml: speechSSML(text)},
				},
				Voice:       voiceParams(opts),
				AudioConfig: t.audioConfig(text.Speed),
			})
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			out[i] = resp.GetAudioContent()
			return nil
		})
	}
	err := eg.Wait()
	observability.Current().ObserveTTS(ttsProvider, len(texts), err, time.Since(start))
	if err != nil {
		return nil, err
	}
	t.log.Debug("tts batch synthesized", "voice_id", opts.VoiceID, "texts", len(texts), "elapsed", time.Since(start))
	return out, nil
}

func (t *TextToSpeech) GenerateSilence(ctx context.Context, seconds float64) ([]byte, error) {
	if seconds <= 0 {
		return nil, fmt.Errorf("silence duration must be positive, got %v", seconds)
	}
	resp, err := t.call(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Ssml{Ssml: silenceSSML(seconds)},
		},
		Voice:       t.silenceVoice,
		AudioConfig: t.audioConfig(1),
	})
	if err != nil {
		return nil, fmt.Errorf("silence %.2fs: %w", seconds, err)
	}
	return resp.GetAudioContent(), nil
}

// ListVoices returns the provider's voices for languageCode.
func (t *TextToSpeech) ListVoices(ctx context.Context, languageCode string) ([]lessons.Voice, error) {
	resp, err := t.listVoices(ctx, &texttospeechpb.ListVoicesRequest{LanguageCode: languageCode})
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	out := make([]lessons.Voice, 0, len(resp.GetVoices()))
	for _, v := range resp.GetVoices() {
		lang := languageCode
		if langs := v.GetLanguageCodes(); len(langs) > 0 {
			lang = langs[0]
		}
		out = append(out, lessons.Voice{
			ID:           v.GetName(),
			Name:         v.GetName(),
			Gender:       lessons.NormalizeGender(v.GetSsmlGender().String()),
			LanguageCode: lang,
		})
	}
	return out, nil
}

func (t *TextToSpeech) audioConfig(speed float64) *texttospeechpb.AudioConfig {
	if speed <= 0 {
		speed = 1
	}
	return &texttospeechpb.AudioConfig{
		AudioEncoding:   texttospeechpb.AudioEncoding_MP3,
		SpeakingRate:    speed,
		SampleRateHertz: t.sampleRate,
	}
}

func voiceParams(opts services.SpeechOptions) *texttospeechpb.VoiceSelectionParams {
	lang := opts.LanguageCode
	if lang == "" {
		lang = languageFromVoice(opts.VoiceID)
	}
	return &texttospeechpb.VoiceSelectionParams{LanguageCode: lang, Name: opts.VoiceID}
}

// languageFromVoice derives "ja-JP" from names like "ja-JP-Neural2-B".
func languageFromVoice(voiceID string) string {
	parts := strings.SplitN(voiceID, "-", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "-" + parts[1]
}

// speechSSML speaks the reading, when present, in place of the written form.
func speechSSML(t services.SpeechText) string {
	text := html.EscapeString(strings.TrimSpace(t.Text))
	if r := strings.TrimSpace(t.Reading); r != "" && r != strings.TrimSpace(t.Text) {
		return fmt.Sprintf(`<speak><sub alias="%s">%s</sub></speak>`, html.EscapeString(r), text)
	}
	return "<speak>" + text + "</speak>"
}

func silenceSSML(seconds float64) string {
	var b strings.Builder
	b.WriteString("<speak>")
	for remaining := seconds; remaining > 0.0005; remaining -= maxBreakSeconds {
		fmt.Fprintf(&b, `<break time="%dms"/>`, int(min(remaining, maxBreakSeconds)*1000+0.5))
	}
	b.WriteString("</speak>")
	return b.String()
}

func (t *TextToSpeech) call(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
	backoff := 750 * time.Millisecond
	var last error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := t.synthesize(ctx, req)
		if err == nil {
			return resp, nil
		}
		last = err
		if !retryableCode(status.Code(err)) || attempt == t.maxRetries {
			break
		}
		t.log.Warn("tts request failed, retrying", "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 10*time.Second)
	}
	return nil, last
}

func retryableCode(c codes.Code) bool {
	return c == codes.Unavailable || c == codes.ResourceExhausted || c == codes.DeadlineExceeded
}
