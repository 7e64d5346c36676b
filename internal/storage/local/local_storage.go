package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"prospector/internal/domain"
	"prospector/internal/port"
	"prospector/internal/storage"
)

type localStorage struct {
	root string
}

// NewLocalStorage serves file references from a directory tree. References may
// be "file://relative/path" or a bare relative path; neither may leave root.
func NewLocalStorage(root string) (port.ObjectStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	return &localStorage{root: abs}, nil
}

func (s *localStorage) resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "file://")
	if ref == "" || strings.Contains(ref, "://") {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidReference, ref)
	}
	p := filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(ref, "/")))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes storage root", domain.ErrInvalidReference, ref)
	}
	return p, nil
}

func (s *localStorage) Fetch(ctx context.Context, ref string) (*port.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrFileNotFound, ref)
		}
		return nil, fmt.Errorf("local read: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmptyFile, ref)
	}
	return &port.Object{
		Body:        data,
		ContentType: storage.ContentType("", p, data),
		Size:        int64(len(data)),
	}, nil
}
