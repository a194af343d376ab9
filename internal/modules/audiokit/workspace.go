package audiokit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
	"github.com/convolab/lessonaudio/internal/platform/logger"
	"github.com/convolab/lessonaudio/internal/services"
)

// Workspace is a per-run scratch directory. Names carry a fresh UUID so two runs
// for the same lesson never share files.
type Workspace struct {
	Dir string
	log *logger.Logger
}

func NewWorkspace(root string, prefix string, id string, log *logger.Logger) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		root = os.TempDir()
	}
	name := fmt.Sprintf("%s-%s-%s", prefix, sanitize(id), uuid.NewString())
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir, log: logger.OrNop(log)}, nil
}

func (w *Workspace) Path(name string) string { return filepath.Join(w.Dir, name) }

// SegmentName is the on-disk name of the i-th timeline segment.
func SegmentName(i int) string { return fmt.Sprintf("segment_%05d.mp3", i) }

func (w *Workspace) WriteSegment(i int, data []byte) (string, error) {
	return w.WriteFile(SegmentName(i), data)
}

func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	p := w.Path(name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return p, nil
}

// Cleanup removes the workspace. Failures are logged and never returned so a
// deferred call cannot mask the error that ended the run.
func (w *Workspace) Cleanup() {
	if w == nil || w.Dir == "" {
		return
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		w.log.Warn("workspace cleanup failed", "dir", w.Dir, "error", err)
	}
}

// WriteConcatManifest writes an ffmpeg concat demuxer list in the given order.
func WriteConcatManifest(path string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", f, err)
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// Mux produces one audio file from files. A single file is returned as-is;
// several are concatenated into outName inside the workspace.
func Mux(ctx context.Context, media services.MediaTools, ws *Workspace, files []string, outName string) (string, error) {
	switch len(files) {
	case 0:
		return "", apperr.Assembly("mux", fmt.Errorf("no audio files to assemble"))
	case 1:
		return files[0], nil
	}
	manifest := ws.Path("concat.txt")
	if err := WriteConcatManifest(manifest, files); err != nil {
		return "", apperr.Assembly("write concat manifest", err)
	}
	out := ws.Path(outName)
	if err := media.ConcatAudio(ctx, manifest, out); err != nil {
		return "", apperr.Assembly("concat", err)
	}
	return out, nil
}

func sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
