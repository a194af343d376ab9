package localmedia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/convolab/lessonaudio/internal/platform/ctxutil"
	"github.com/convolab/lessonaudio/internal/platform/envutil"
	"github.com/convolab/lessonaudio/internal/platform/logger"
)

// Tools is the glue around the ffmpeg and ffprobe binaries.
//
// REQUIRED BINARIES in worker runtime:
// - ffmpeg for concat muxing and silence generation
// - ffprobe for duration probing
type Tools interface {
	AssertReady(ctx context.Context) error

	ConcatAudio(ctx context.Context, manifestPath string, outPath string) error
	ProbeDurationSeconds(ctx context.Context, path string) (float64, error)
	Probe(ctx context.Context, path string) (ProbeResult, error)
	GenerateSilence(ctx context.Context, seconds float64, outPath string) error
}

// AudioEncoding is the output format every muxed artifact is re-encoded to.
type AudioEncoding struct {
	Codec        string
	Bitrate      string
	SampleRateHz int
	Channels     int
}

var DefaultEncoding = AudioEncoding{
	Codec:        "libmp3lame",
	Bitrate:      "128k",
	SampleRateHz: 44100,
	Channels:     2,
}

type tools struct {
	log *logger.Logger

	ffmpegPath  string
	ffprobePath string
	encoding    AudioEncoding

	defaultTimeout time.Duration
}

func New(log *logger.Logger) Tools {
	return &tools{
		log:            logger.OrNop(log).With("service", "MediaTools"),
		ffmpegPath:     envutil.String("FFMPEG_PATH", "ffmpeg"),
		ffprobePath:    envutil.String("FFPROBE_PATH", "ffprobe"),
		encoding:       DefaultEncoding,
		defaultTimeout: envutil.Duration("FFMPEG_TIMEOUT", 10*time.Minute),
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	return nil
}

// ConcatAudio joins the files listed in an ffmpeg concat manifest and re-encodes
// them so segments with mismatched parameters mux cleanly.
func (m *tools) ConcatAudio(ctx context.Context, manifestPath string, outPath string) error {
	ctx = ctxutil.Default(ctx)
	if manifestPath == "" || outPath == "" {
		return fmt.Errorf("manifestPath and outPath required")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("mkdir outDir: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	args := concatArgs(manifestPath, outPath, m.encoding)
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg concat failed: %w; output=%s", err, tail(string(out), 2000))
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("ffmpeg concat produced no output: %w", err)
	}
	m.log.Debug("Concatenated audio", "manifest", manifestPath, "out", outPath)
	return nil
}

func concatArgs(manifestPath, outPath string, enc AudioEncoding) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c:a", enc.Codec,
		"-b:a", enc.Bitrate,
		"-ar", strconv.Itoa(enc.SampleRateHz),
		"-ac", strconv.Itoa(enc.Channels),
		outPath,
	}
}

// GenerateSilence writes an mp3 of the requested length using the anullsrc filter.
func (m *tools) GenerateSilence(ctx context.Context, seconds float64, outPath string) error {
	ctx = ctxutil.Default(ctx)
	if seconds <= 0 || math.IsNaN(seconds) {
		return fmt.Errorf("silence duration must be positive, got %v", seconds)
	}
	if outPath == "" {
		return fmt.Errorf("outPath required")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("mkdir outDir: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	args := silenceArgs(seconds, outPath, m.encoding)
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg silence failed: %w; output=%s", err, tail(string(out), 2000))
	}
	return nil
}

func silenceArgs(seconds float64, outPath string, enc AudioEncoding) []string {
	layout := "stereo"
	if enc.Channels == 1 {
		layout = "mono"
	}
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=%s", enc.SampleRateHz, layout),
		"-t", strconv.FormatFloat(seconds, 'f', 3, 64),
		"-c:a", enc.Codec,
		"-b:a", enc.Bitrate,
		outPath,
	}
}

// ProbeResult is the subset of ffprobe's JSON output the pipeline reads.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

type ProbeStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Duration   string `json:"duration"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type ProbeFormat struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

// DurationSeconds prefers the container duration and falls back to the longest
// audio stream. It returns 0 when neither is available.
func (r ProbeResult) DurationSeconds() float64 {
	if d := parseFloat(r.Format.Duration); d > 0 {
		return d
	}
	best := 0.0
	for _, s := range r.Streams {
		if !strings.EqualFold(s.CodecType, "audio") {
			continue
		}
		if d := parseFloat(s.Duration); d > best {
			best = d
		}
	}
	return best
}

func (m *tools) Probe(ctx context.Context, path string) (ProbeResult, error) {
	ctx = ctxutil.Default(ctx)
	path = strings.TrimSpace(path)
	if path == "" {
		return ProbeResult{}, errors.New("ffprobe: empty path")
	}
	cmd := exec.CommandContext(ctx, m.ffprobePath, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = string(exitErr.Stderr)
		}
		return ProbeResult{}, fmt.Errorf("ffprobe %s: %w: %s", filepath.Base(path), err, tail(stderr, 1000))
	}
	var result ProbeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

func (m *tools) ProbeDurationSeconds(ctx context.Context, path string) (float64, error) {
	res, err := m.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	d := res.DurationSeconds()
	if d <= 0 {
		return 0, fmt.Errorf("ffprobe %s: no duration reported", filepath.Base(path))
	}
	return d, nil
}

func parseFloat(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" || value == "N/A" {
		return 0
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
