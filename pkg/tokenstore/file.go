package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// FileBackend stores each key as its own 0600 file under a directory. It
// is what the CLI uses for its per-user token cache. Writes go to a temp
// file that is renamed into place so a crash never leaves half a record.
//
// Lapse times are not written to disk; the Store checks expiry itself.
type FileBackend struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

// NewFileBackend stores entries under dir on fsys. Use afero.NewOsFs() in
// production and afero.NewMemMapFs() in tests.
func NewFileBackend(fsys afero.Fs, dir string) *FileBackend {
	return &FileBackend{fs: fsys, dir: dir}
}

func (b *FileBackend) path(key string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(b.dir, name+".json")
}

func (b *FileBackend) Load(_ context.Context, key string) ([]byte, error) {
	data, err := afero.ReadFile(b.fs, b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tokenstore: read %s: %w", key, err)
	}
	return data, nil
}

func (b *FileBackend) Save(_ context.Context, key string, data []byte, _ time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fs.MkdirAll(b.dir, 0o700); err != nil {
		return fmt.Errorf("tokenstore: create dir: %w", err)
	}

	tmp, err := afero.TempFile(b.fs, b.dir, "."+filepath.Base(b.path(key))+".*")
	if err != nil {
		return fmt.Errorf("tokenstore: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("tokenstore: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("tokenstore: close %s: %w", key, err)
	}

	if err := b.fs.Rename(tmpName, b.path(key)); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("tokenstore: rename %s: %w", key, err)
	}
	return nil
}

func (b *FileBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.fs.Remove(b.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenstore: remove %s: %w", key, err)
	}
	return nil
}
