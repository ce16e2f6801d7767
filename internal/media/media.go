// Package media stages uploaded files on local disk until they are pushed to
// the remote asset host.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"accounts/internal/lib/sl"

	"github.com/google/uuid"
)

var ErrNotStaged = errors.New("file not staged")

// Uploader pushes a staged file to remote storage and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, path string) (url string, err error)
}

// Staged is a handle on a file written to the staging directory. The owner
// must call Discard (usually deferred) once the file is no longer needed.
type Staged struct {
	path string
	name string
}

// Stage copies src into dir under a random name that keeps the extension of
// originalName.
func Stage(dir string, src io.Reader, originalName string) (*Staged, error) {
	const op = "media.Stage"

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	path := filepath.Join(dir, uuid.NewString()+ext)

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Staged{path: path, name: originalName}, nil
}

func (s *Staged) Path() string {
	return s.path
}

// Name is the client supplied file name.
func (s *Staged) Name() string {
	return s.name
}

// Remove deletes the staged file. Removing an already removed file is not
// an error.
func (s *Staged) Remove() error {
	if s == nil || s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Discard removes every staged file, logging failures instead of returning
// them so cleanup never hides the error that caused it.
func Discard(log *slog.Logger, files ...*Staged) {
	for _, f := range files {
		if f == nil {
			continue
		}
		if err := f.Remove(); err != nil {
			log.Warn("failed to discard staged file", slog.String("path", f.path), sl.Err(err))
		}
	}
}
