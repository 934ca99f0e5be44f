package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/lavasync/internal/persistence/sqlite"
	"github.com/ManuGH/lavasync/internal/queue"
	"github.com/disgoorg/snowflake/v2"
)

const schemaVersion = 1

// SQLiteStore keeps queue snapshots in a single table keyed by guild id.
type SQLiteStore struct {
	queue.JSONCodec
	DB   *sql.DB
	path string
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{DB: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var current int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
	CREATE TABLE IF NOT EXISTS queues (
		guild_id   TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		updated_ms INTEGER NOT NULL
	)`); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, guildID snowflake.ID) ([]byte, error) {
	var data []byte
	err := s.DB.QueryRowContext(ctx, "SELECT data FROM queues WHERE guild_id = ?", guildID.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	return data, nil
}

func (s *SQLiteStore) Set(ctx context.Context, guildID snowflake.ID, data []byte) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO queues (guild_id, data, updated_ms) VALUES (?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET data = excluded.data, updated_ms = excluded.updated_ms`,
		guildID.String(), data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, guildID snowflake.ID) error {
	if _, err := s.DB.ExecContext(ctx, "DELETE FROM queues WHERE guild_id = ?", guildID.String()); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// HealthCheck runs a quick integrity check on the database file.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return err
	}
	issues, err := sqlite.VerifyIntegrity(s.path, "quick")
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("sqlite integrity: %v", issues)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}

var _ queue.Store = (*SQLiteStore)(nil)
