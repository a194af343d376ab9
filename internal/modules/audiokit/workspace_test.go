package audiokit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
)

type fakeMedia struct {
	manifests []string
	concatErr error
}

func (f *fakeMedia) ConcatAudio(ctx context.Context, manifestPath string, outPath string) error {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	f.manifests = append(f.manifests, string(raw))
	if f.concatErr != nil {
		return f.concatErr
	}
	return os.WriteFile(outPath, []byte("mp3"), 0o644)
}

func (f *fakeMedia) ProbeDurationSeconds(ctx context.Context, path string) (float64, error) {
	return 1, nil
}

func (f *fakeMedia) GenerateSilence(ctx context.Context, seconds float64, outPath string) error {
	return os.WriteFile(outPath, []byte("silence"), 0o644)
}

func TestWorkspaceNamesAreUniquePerRun(t *testing.T) {
	root := t.TempDir()
	a, err := NewWorkspace(root, "lesson", "l/1", nil)
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	b, err := NewWorkspace(root, "lesson", "l/1", nil)
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	if a.Dir == b.Dir {
		t.Fatalf("expected distinct workspaces, both %s", a.Dir)
	}
	if !strings.HasPrefix(filepath.Base(a.Dir), "lesson-l_1-") {
		t.Fatalf("unexpected workspace name %s", a.Dir)
	}
	a.Cleanup()
	if _, err := os.Stat(a.Dir); !os.IsNotExist(err) {
		t.Fatalf("expected workspace removed, stat err=%v", err)
	}
	b.Cleanup()
}

func TestSegmentNameIsZeroPadded(t *testing.T) {
	if got := SegmentName(7); got != "segment_00007.mp3" {
		t.Fatalf("SegmentName: got %s", got)
	}
}

func TestMux(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir(), "lesson", "mux", nil)
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	defer ws.Cleanup()

	media := &fakeMedia{}
	if _, err := Mux(context.Background(), media, ws, nil, "out.mp3"); !apperr.Is(err, apperr.ErrAssembly) {
		t.Fatalf("empty input: want assembly error got %v", err)
	}

	one, _ := ws.WriteSegment(0, []byte("a"))
	got, err := Mux(context.Background(), media, ws, []string{one}, "out.mp3")
	if err != nil || got != one {
		t.Fatalf("single file: want %s got %s err=%v", one, got, err)
	}
	if len(media.manifests) != 0 {
		t.Fatalf("single file should not invoke concat")
	}

	two, _ := ws.WriteSegment(1, []byte("b"))
	got, err = Mux(context.Background(), media, ws, []string{one, two}, "out.mp3")
	if err != nil {
		t.Fatalf("Mux: %v", err)
	}
	if got != ws.Path("out.mp3") {
		t.Fatalf("Mux: unexpected output %s", got)
	}
	lines := strings.Split(strings.TrimSpace(media.manifests[0]), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "segment_00000.mp3") || !strings.Contains(lines[1], "segment_00001.mp3") {
		t.Fatalf("manifest order wrong: %q", media.manifests[0])
	}

	media.concatErr = errors.New("ffmpeg exploded")
	if _, err := Mux(context.Background(), media, ws, []string{one, two}, "out2.mp3"); !apperr.Is(err, apperr.ErrAssembly) {
		t.Fatalf("concat failure: want assembly error got %v", err)
	}
}

func TestWriteConcatManifestEscapesQuotes(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "concat.txt")
	if err := WriteConcatManifest(manifest, []string{filepath.Join(dir, "it's.mp3")}); err != nil {
		t.Fatalf("WriteConcatManifest: %v", err)
	}
	raw, _ := os.ReadFile(manifest)
	if !strings.Contains(string(raw), `it'\''s.mp3`) {
		t.Fatalf("quote not escaped: %s", raw)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	var seen []int
	p := NewProgress(func(pct int, _ string) { seen = append(seen, pct) })
	p.Report(10, "a")
	p.Report(5, "b")
	p.Report(150, "c")
	span := p.Span(10, 70)
	span(50, "d")
	want := []int{10, 10, 100, 100}
	if len(seen) != len(want) {
		t.Fatalf("progress: got %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("progress: want %v got %v", want, seen)
		}
	}
}

func TestProgressSpanScales(t *testing.T) {
	var last int
	p := NewProgress(func(pct int, _ string) { last = pct })
	span := p.Span(10, 70)
	span(50, "half")
	if last != 40 {
		t.Fatalf("span: want 40 got %d", last)
	}
}
