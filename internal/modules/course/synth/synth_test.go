package synth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
	"github.com/convolab/lessonaudio/internal/services"
)

type fakeTTS struct {
	mu           sync.Mutex
	batchCalls   []services.SpeechOptions
	batchSizes   []int
	silenceCalls []float64
	failVoice    string
	shortVoice   string
}

func (f *fakeTTS) SynthesizeBatch(ctx context.Context, texts []services.SpeechText, opts services.SpeechOptions) ([][]byte, error) {
	f.mu.Lock()
	f.batchCalls = append(f.batchCalls, opts)
	f.batchSizes = append(f.batchSizes, len(texts))
	f.mu.Unlock()
	if opts.VoiceID == f.failVoice {
		return nil, errors.New("quota exceeded")
	}
	out := make([][]byte, len(texts))
	for i, t := range texts {
		out[i] = []byte(fmt.Sprintf("%s|%s|%.2f", opts.VoiceID, t.Text, t.Speed))
	}
	if opts.VoiceID == f.shortVoice {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeTTS) GenerateSilence(ctx context.Context, seconds float64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silenceCalls = append(f.silenceCalls, seconds)
	return []byte(fmt.Sprintf("silence-%.2f", seconds)), nil
}

var lc = LanguageContext{TargetLanguage: "ja-JP", NativeLanguage: "en-US"}

func sampleUnits() []lessons.ScriptUnit {
	return []lessons.ScriptUnit{
		lessons.Marker{Label: "Lesson 1 Start"},
		lessons.NarrationL1{Text: "Hello", VoiceID: "narrator"},
		lessons.L2{Text: "こんにちは", VoiceID: "ja-a", Speed: 0.75},
		lessons.Pause{Seconds: 2},
		lessons.L2{Text: "ありがとう", VoiceID: "ja-b"},
		lessons.Pause{Seconds: 2},
		lessons.NarrationL1{Text: "Again", VoiceID: "narrator"},
		lessons.Pause{Seconds: 3},
		lessons.L2{Text: "こんにちは", VoiceID: "ja-a"},
		lessons.Marker{Label: "Lesson 1 End"},
	}
}

func TestSynthesizeBatchesByVoice(t *testing.T) {
	tts := &fakeTTS{}
	out, err := New(tts, nil, Options{}).Synthesize(context.Background(), sampleUnits(), lc, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(tts.batchCalls) != 3 {
		t.Fatalf("want one call per voice (3), got %d", len(tts.batchCalls))
	}
	for _, opts := range tts.batchCalls {
		switch opts.VoiceID {
		case "narrator":
			if opts.LanguageCode != "en-US" {
				t.Fatalf("narration should use native language, got %s", opts.LanguageCode)
			}
		case "ja-a", "ja-b":
			if opts.LanguageCode != "ja-JP" {
				t.Fatalf("L2 should use target language, got %s", opts.LanguageCode)
			}
		}
	}
	if got := string(out.Segments[2]); got != "ja-a|こんにちは|0.75" {
		t.Fatalf("segment 2: %s", got)
	}
	if got := string(out.Segments[8]); got != "ja-a|こんにちは|1.00" {
		t.Fatalf("segment 8 should carry its own speed: %s", got)
	}
	if len(out.Segments) != 5 {
		t.Fatalf("want 5 speech segments got %d", len(out.Segments))
	}
	if _, ok := out.Buffer(0); ok {
		t.Fatalf("markers must not synthesize")
	}
}

func TestSynthesizeReusesSilencePerDuration(t *testing.T) {
	tts := &fakeTTS{}
	out, err := New(tts, nil, Options{}).Synthesize(context.Background(), sampleUnits(), lc, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(tts.silenceCalls) != 2 {
		t.Fatalf("want 2 silence calls (2s, 3s), got %v", tts.silenceCalls)
	}
	if len(out.PauseSegments) != 3 {
		t.Fatalf("want 3 pause segments got %d", len(out.PauseSegments))
	}
	if string(out.PauseSegments[3]) != string(out.PauseSegments[5]) {
		t.Fatalf("equal pauses should share one buffer")
	}
}

func TestSynthesizeWrapsProviderFailure(t *testing.T) {
	tts := &fakeTTS{failVoice: "ja-b"}
	_, err := New(tts, nil, Options{MaxConcurrency: 1}).Synthesize(context.Background(), sampleUnits(), lc, nil)
	if !apperr.Is(err, apperr.ErrSynthesis) {
		t.Fatalf("want synthesis error got %v", err)
	}
}

func TestSynthesizeRejectsMisalignedBatch(t *testing.T) {
	tts := &fakeTTS{shortVoice: "narrator"}
	_, err := New(tts, nil, Options{}).Synthesize(context.Background(), sampleUnits(), lc, nil)
	if !apperr.Is(err, apperr.ErrSynthesis) {
		t.Fatalf("want synthesis error got %v", err)
	}
}

type rogueUnit struct{ lessons.Marker }

func (rogueUnit) Kind() lessons.UnitKind { return "music" }

func TestSynthesizeRejectsUnknownUnit(t *testing.T) {
	units := []lessons.ScriptUnit{lessons.Pause{Seconds: 1}, rogueUnit{}}
	_, err := New(&fakeTTS{}, nil, Options{}).Synthesize(context.Background(), units, lc, nil)
	var unknown *lessons.UnknownUnitError
	if !errors.As(err, &unknown) || unknown.Index != 1 {
		t.Fatalf("want UnknownUnitError at index 1, got %v", err)
	}
}

func TestSynthesizeProgressIsMonotonic(t *testing.T) {
	var seen []int
	_, err := New(&fakeTTS{}, nil, Options{MaxConcurrency: 3}).Synthesize(context.Background(), sampleUnits(), lc, func(pct int, _ string) {
		seen = append(seen, pct)
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress went backwards: %v", seen)
		}
	}
	if seen[len(seen)-1] != 100 {
		t.Fatalf("progress should end at 100: %v", seen)
	}
}
