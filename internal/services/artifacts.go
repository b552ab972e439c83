package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/docreconstruct/internal/models"
)

// ArtifactStore saves uploaded sources and opens stored artifacts by location.
type ArtifactStore interface {
	SourceLocation(documentID string) string
	Save(ctx context.Context, location string, data []byte) error
	// Open returns the artifact body and its size. A missing artifact wraps
	// models.ErrArtifactMissing.
	Open(ctx context.Context, location string) (io.ReadCloser, int64, error)
}

const fileScheme = "file://"

// FileArtifacts keeps artifacts below a local root directory. Locations have
// the form file://<path relative to root>.
type FileArtifacts struct {
	root string
}

func NewFileArtifacts(root string) (*FileArtifacts, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root %s: %w", root, err)
	}
	return &FileArtifacts{root: root}, nil
}

func (f *FileArtifacts) SourceLocation(documentID string) string {
	return fileScheme + "sources/" + documentID + ".pdf"
}

func (f *FileArtifacts) path(location string) (string, error) {
	rel, ok := strings.CutPrefix(location, fileScheme)
	if !ok || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("invalid artifact location %q", location)
	}
	return filepath.Join(f.root, filepath.FromSlash(rel)), nil
}

// Save writes data once; an existing artifact is left untouched.
func (f *FileArtifacts) Save(_ context.Context, location string, data []byte) error {
	p, err := f.path(location)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact dir: %w", err)
	}
	file, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create artifact %s: %w", location, err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(p)
		return fmt.Errorf("failed to write artifact %s: %w", location, err)
	}
	return file.Close()
}

func (f *FileArtifacts) Open(_ context.Context, location string) (io.ReadCloser, int64, error) {
	p, err := f.path(location)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", models.ErrArtifactMissing, err)
	}
	file, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, fmt.Errorf("%w: %s", models.ErrArtifactMissing, location)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open artifact %s: %w", location, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, 0, fmt.Errorf("failed to stat artifact %s: %w", location, err)
	}
	return file, info.Size(), nil
}
