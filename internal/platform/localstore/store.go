package localstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/convolab/lessonaudio/internal/platform/logger"
	"github.com/convolab/lessonaudio/internal/services"
)

// Store writes artifacts under Root and returns file:// URLs, or BaseURL links
// when the directory is served elsewhere.
type Store struct {
	Root    string
	BaseURL string
	log     *logger.Logger
}

func New(root, baseURL string, log *logger.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Store{
		Root:    abs,
		BaseURL: strings.TrimRight(baseURL, "/"),
		log:     logger.OrNop(log).With("service", "LocalStore"),
	}, nil
}

func (s *Store) Upload(ctx context.Context, in services.UploadInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := filepath.Base(strings.TrimSpace(in.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("missing filename")
	}
	folder := filepath.Clean("/" + strings.Trim(in.Folder, "/"))
	dir := filepath.Join(s.Root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, name)
	if err := s.write(dst, in); err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	s.log.Debug("stored artifact", "path", dst)

	rel := strings.TrimPrefix(filepath.ToSlash(filepath.Join(folder, name)), "/")
	if s.BaseURL != "" {
		return s.BaseURL + "/" + rel, nil
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}).String(), nil
}

func (s *Store) write(dst string, in services.UploadInput) error {
	if in.FilePath == "" {
		return os.WriteFile(dst, in.Data, 0o644)
	}
	src, err := os.Open(in.FilePath)
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
