package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// ErrInvalidStore is returned when a store fails its capability check.
var ErrInvalidStore = errors.New("queue: invalid store")

// Store persists queue snapshots per guild. Get returns (nil, nil) when the
// guild has nothing stored. Stringify and Parse convert between the snapshot
// and the raw form the store keeps.
type Store interface {
	Get(ctx context.Context, guildID snowflake.ID) ([]byte, error)
	Set(ctx context.Context, guildID snowflake.ID, data []byte) error
	Delete(ctx context.Context, guildID snowflake.ID) error
	Stringify(s Snapshot) ([]byte, error)
	Parse(data []byte) (Snapshot, error)
}

// JSONCodec implements Stringify and Parse with encoding/json. Stores embed
// it to satisfy the codec half of Store.
type JSONCodec struct{}

func (JSONCodec) Stringify(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

func (JSONCodec) Parse(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("parse queue snapshot: %w", err)
	}
	return s, nil
}

// ValidateStore checks a store once at configuration time: the codec must
// round-trip an empty snapshot.
func ValidateStore(s Store) error {
	if s == nil {
		return fmt.Errorf("%w: nil", ErrInvalidStore)
	}
	raw, err := s.Stringify(Snapshot{})
	if err != nil {
		return fmt.Errorf("%w: stringify: %v", ErrInvalidStore, err)
	}
	if _, err := s.Parse(raw); err != nil {
		return fmt.Errorf("%w: parse: %v", ErrInvalidStore, err)
	}
	return nil
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	JSONCodec
	mu   sync.RWMutex
	data map[snowflake.ID][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[snowflake.ID][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, guildID snowflake.ID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[guildID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Set(_ context.Context, guildID snowflake.ID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[guildID] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, guildID snowflake.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, guildID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
