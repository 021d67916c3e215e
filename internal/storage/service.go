package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"backend-pushupcounter/internal/db"

	"github.com/google/uuid"
)

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrNotFound    = errors.New("file not found")
	ErrTooLarge    = errors.New("upload too large")
)

const (
	uploadsDir = "uploads"
	outputsDir = "outputs"
)

// Service keeps uploaded inputs and processed outputs on local disk and
// records published outputs in storage_objects.
type Service struct {
	db   db.Querier
	root string
}

func NewService(db db.Querier, root string) *Service {
	return &Service{db: db, root: root}
}

func (s *Service) Init() error {
	for _, dir := range []string{uploadsDir, outputsDir} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}
	return nil
}

// Stage copies an upload to a unique path under uploads. A positive limit
// caps the number of bytes accepted.
func (s *Service) Stage(name string, r io.Reader, limit int64) (string, error) {
	if err := s.Init(); err != nil {
		return "", err
	}
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." {
		base = "upload"
	}
	path := filepath.Join(s.root, uploadsDir, uuid.NewString()+"-"+base)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && limit > 0 && n > limit {
		err = ErrTooLarge
	}
	if err != nil {
		s.Remove(path)
		return "", fmt.Errorf("stage upload: %w", err)
	}
	return path, nil
}

func OutputName(sessionID string) string {
	return "processed_" + sessionID + ".mp4"
}

func (s *Service) OutputPath(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, outputsDir, name), nil
}

// Open returns a processed output by bare file name.
func (s *Service) Open(name string) (*os.File, os.FileInfo, error) {
	path, err := s.OutputPath(name)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, info, nil
}

func (s *Service) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("remove file failed", "path", path, "error", err)
	}
}

// SaveObject records a published file. Without a database the file is only
// kept on disk and the returned id is empty.
func (s *Service) SaveObject(ctx context.Context, sessionID, name, kind string) (string, error) {
	if s.db == nil {
		return "", nil
	}
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `
		INSERT INTO storage_objects (id, session_id, name, kind)
		VALUES ($1,$2,$3,$4)
	`, id, sessionID, name, kind)
	if err != nil {
		return "", err
	}
	return id, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
