// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/lavasync/internal/queue"
	"github.com/dgraph-io/badger/v4"
	"github.com/disgoorg/snowflake/v2"
)

// BadgerStore keeps snapshots under "queue:<guildID>".
type BadgerStore struct {
	queue.JSONCodec
	db *badger.DB
}

// OpenBadgerStore opens a badger database in dir. An empty dir opens an
// in-memory database.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(guildID snowflake.ID) []byte {
	return []byte("queue:" + guildID.String())
}

func (s *BadgerStore) Get(_ context.Context, guildID snowflake.ID) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(guildID))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) Set(_ context.Context, guildID snowflake.ID, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(guildID), data)
	})
	if err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

func (s *BadgerStore) Delete(_ context.Context, guildID snowflake.ID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(guildID))
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

var _ queue.Store = (*BadgerStore)(nil)
