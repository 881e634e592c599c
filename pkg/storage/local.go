package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Local stores artifacts in a directory served under /downloads.
type Local struct {
	dir string
}

// NewLocal creates the downloads directory if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create downloads dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Dir returns the root directory.
func (l *Local) Dir() string { return l.dir }

// Path returns the absolute location of an artifact name. The name must already be validated.
func (l *Local) Path(name string) string {
	return filepath.Join(l.dir, filepath.Base(name))
}

// OutputBase returns the path prefix transcoded files are written under: {dir}/{fileRoot}.
func (l *Local) OutputBase(fileRoot int64) string {
	return filepath.Join(l.dir, strconv.FormatInt(fileRoot, 10))
}

// WriteTrace writes {fileRoot}.json via a temp file and rename, so readers never see a partial trace.
func (l *Local) WriteTrace(fileRoot int64, data []byte) (string, error) {
	final := l.Path(ArtifactName(fileRoot, TraceExt))
	tmp, err := os.CreateTemp(l.dir, ".trace-*")
	if err != nil {
		return "", fmt.Errorf("create temp trace: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write trace: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close trace: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename trace: %w", err)
	}
	return final, nil
}

// Artifacts lists every file named {fileRoot}.* in the directory.
func (l *Local) Artifacts(fileRoot int64) ([]string, error) {
	return filepath.Glob(filepath.Join(l.dir, strconv.FormatInt(fileRoot, 10)+".*"))
}

// RemoveArtifacts deletes every {fileRoot}.* file and reports the names it could not delete.
func (l *Local) RemoveArtifacts(fileRoot int64) ([]string, error) {
	paths, err := l.Artifacts(fileRoot)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return paths, errors.Join(errs...)
}
