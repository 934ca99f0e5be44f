package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/lavasync/internal/queue"
	"github.com/disgoorg/snowflake/v2"
	"github.com/google/renameio/v2"
)

// FileStore writes one JSON file per guild. Writes are atomic: a reader
// sees either the previous or the new snapshot, never a partial one.
type FileStore struct {
	queue.JSONCodec
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(guildID snowflake.ID) string {
	return filepath.Join(s.dir, guildID.String()+".json")
}

func (s *FileStore) Get(_ context.Context, guildID snowflake.ID) ([]byte, error) {
	data, err := os.ReadFile(s.path(guildID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file get: %w", err)
	}
	return data, nil
}

func (s *FileStore) Set(_ context.Context, guildID snowflake.ID, data []byte) error {
	if err := renameio.WriteFile(s.path(guildID), data, 0o640); err != nil {
		return fmt.Errorf("file set: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, guildID snowflake.ID) error {
	err := os.Remove(s.path(guildID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("file delete: %w", err)
	}
	return nil
}

var _ queue.Store = (*FileStore)(nil)
