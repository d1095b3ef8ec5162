package builder

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// LogArchive is a zstd-compressed copy of the streamed build log.
type LogArchive struct {
	mu   sync.Mutex
	path string
	file *os.File
	enc  *zstd.Encoder
}

// CreateLogArchive creates path, including missing parent directories.
func CreateLogArchive(path string) (*LogArchive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &LogArchive{path: path, file: f, enc: enc}, nil
}

func (a *LogArchive) Path() string { return a.path }

func (a *LogArchive) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enc == nil {
		return 0, os.ErrClosed
	}
	return a.enc.Write(p)
}

// Close flushes the compressed stream. Closing twice is a no-op.
func (a *LogArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enc == nil {
		return nil
	}
	err := a.enc.Close()
	a.enc = nil
	return errors.Join(err, a.file.Close())
}
