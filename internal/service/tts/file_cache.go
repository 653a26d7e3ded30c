package tts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"branchtale/internal/domain/services"
)

var extensionByType = map[string]string{
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"audio/ogg":  ".ogg",
	"audio/flac": ".flac",
	"audio/aac":  ".aac",
}

// FileCache stores audio as files named <key><ext> in one directory.
// Entries never expire; the ttl argument of Put is ignored.
type FileCache struct {
	dir string
}

var _ services.AudioCache = (*FileCache)(nil)

// NewFileCache creates dir if needed
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio cache dir: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

// Get returns the cached audio, or nil data on a miss
func (c *FileCache) Get(ctx context.Context, key string) ([]byte, string, error) {
	for contentType, ext := range extensionByType {
		data, err := os.ReadFile(filepath.Join(c.dir, key+ext))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("read cached audio: %w", err)
		}
		return data, contentType, nil
	}
	return nil, "", nil
}

// Put writes the entry through a temp file so readers never see partial audio
func (c *FileCache) Put(ctx context.Context, key string, data []byte, contentType string, ttl time.Duration) error {
	ext, ok := extensionByType[contentType]
	if !ok {
		return fmt.Errorf("unsupported audio content type %q", contentType)
	}

	tmp, err := os.CreateTemp(c.dir, key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp audio file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close audio: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, key+ext)); err != nil {
		return fmt.Errorf("store audio: %w", err)
	}
	return nil
}

// Clear removes every cached audio file
func (c *FileCache) Clear(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("list audio cache: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isAudioFile(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func isAudioFile(name string) bool {
	ext := filepath.Ext(name)
	for _, known := range extensionByType {
		if ext == known {
			return validKey(strings.TrimSuffix(name, ext))
		}
	}
	return false
}
