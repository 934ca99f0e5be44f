// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue implements the per-guild track queue with pluggable
// persistence.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/metrics"
	"github.com/ManuGH/lavasync/internal/track"
	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog"
)

// Snapshot is the persisted and observable form of a queue.
type Snapshot = events.QueueSnapshot

// DefaultMaxPreviousTracks bounds the history when Config leaves it unset.
const DefaultMaxPreviousTracks = 25

var (
	ErrIndexOutOfRange = errors.New("queue: index out of range")
	ErrNoItems         = errors.New("queue: no items given")
)

// Config configures a Queue. A nil Store falls back to a private MemoryStore.
// MaxPreviousTracks < 0 selects the default.
type Config struct {
	MaxPreviousTracks int
	Store             Store
	Watcher           Watcher
	Rand              *rand.Rand
}

// Queue is the ordered track list of one guild: the current item, the
// upcoming items, and the most-recent-first history.
type Queue struct {
	mu          sync.Mutex
	guildID     snowflake.ID
	store       Store
	watcher     Watcher
	maxPrevious int
	rng         *rand.Rand
	logger      zerolog.Logger

	current  *track.Item
	tracks   []track.Item
	previous []track.Item
}

// New creates an empty queue for guildID.
func New(guildID snowflake.ID, cfg Config) *Queue {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	maxPrev := cfg.MaxPreviousTracks
	if maxPrev < 0 {
		maxPrev = DefaultMaxPreviousTracks
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(guildID)))
	}
	return &Queue{
		guildID:     guildID,
		store:       store,
		watcher:     cfg.Watcher,
		maxPrevious: maxPrev,
		rng:         rng,
		logger: log.WithComponent("queue").With().
			Str(log.FieldGuildID, guildID.String()).Logger(),
	}
}

// GuildID returns the guild the queue belongs to.
func (q *Queue) GuildID() snowflake.ID { return q.guildID }

// Current returns a copy of the current item.
func (q *Queue) Current() *track.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return nil
	}
	c := *q.current
	return &c
}

// Tracks returns a copy of the upcoming items.
func (q *Queue) Tracks() []track.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]track.Item(nil), q.tracks...)
}

// Previous returns a copy of the history, most recent first.
func (q *Queue) Previous() []track.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]track.Item(nil), q.previous...)
}

// Len returns the number of upcoming items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// TotalDuration sums the length of the current and upcoming items.
func (q *Queue) TotalDuration() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	var total time.Duration
	if q.current != nil {
		total += q.current.Info().Duration()
	}
	for _, it := range q.tracks {
		total += it.Info().Duration()
	}
	return total
}

// Snapshot returns a deep copy of the queue state.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() Snapshot {
	s := Snapshot{
		Tracks:   append([]track.Item{}, q.tracks...),
		Previous: append([]track.Item{}, q.previous...),
	}
	if q.current != nil {
		c := *q.current
		s.Current = &c
	}
	return s
}

// persistLocked writes the current state through the store. Failures are
// logged and counted; the in-memory state stays authoritative.
func (q *Queue) persistLocked(ctx context.Context) {
	raw, err := q.store.Stringify(q.snapshotLocked())
	if err != nil {
		metrics.IncQueuePersistError("stringify")
		q.logger.Warn().Err(err).Msg("queue snapshot stringify failed")
		return
	}
	if err := q.store.Set(ctx, q.guildID, raw); err != nil {
		metrics.IncQueuePersistError("set")
		q.logger.Warn().Err(err).Msg("queue persist failed")
	}
}

func (q *Queue) notify(change events.QueueChange) {
	if q.watcher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Interface("panic", r).Str(log.FieldOp, string(change.Op)).Msg("queue watcher panicked")
		}
	}()
	q.watcher.QueueChanged(change)
}

// Add appends items to the end of the queue.
func (q *Queue) Add(ctx context.Context, items ...track.Item) error {
	return q.Insert(ctx, -1, items...)
}

// Insert inserts items at index; a negative index appends.
func (q *Queue) Insert(ctx context.Context, index int, items ...track.Item) error {
	if len(items) == 0 {
		return ErrNoItems
	}
	for _, it := range items {
		if it.IsZero() {
			return fmt.Errorf("%w: zero item", track.ErrInvalidItem)
		}
	}
	q.mu.Lock()
	if index > len(q.tracks) {
		q.mu.Unlock()
		return fmt.Errorf("%w: insert at %d of %d", ErrIndexOutOfRange, index, len(q.tracks))
	}
	before := q.snapshotLocked()
	if index < 0 {
		q.tracks = append(q.tracks, items...)
	} else {
		q.tracks = append(q.tracks[:index], append(append([]track.Item{}, items...), q.tracks[index:]...)...)
	}
	q.persistLocked(ctx)
	after := q.snapshotLocked()
	q.mu.Unlock()

	q.notify(events.QueueChange{GuildID: q.guildID, Op: events.QueueAdd, Items: items, Before: before, After: after})
	return nil
}

// Splice removes deleteCount items starting at index and inserts items in
// their place, returning the removed items.
func (q *Queue) Splice(ctx context.Context, index, deleteCount int, items ...track.Item) ([]track.Item, error) {
	q.mu.Lock()
	if index < 0 || index > len(q.tracks) {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: splice at %d of %d", ErrIndexOutOfRange, index, len(q.tracks))
	}
	if deleteCount < 0 {
		deleteCount = 0
	}
	end := min(index+deleteCount, len(q.tracks))
	before := q.snapshotLocked()

	removed := append([]track.Item(nil), q.tracks[index:end]...)
	rest := append(append([]track.Item{}, items...), q.tracks[end:]...)
	q.tracks = append(q.tracks[:index], rest...)
	q.persistLocked(ctx)
	after := q.snapshotLocked()
	q.mu.Unlock()

	if len(removed) > 0 {
		q.notify(events.QueueChange{GuildID: q.guildID, Op: events.QueueRemove, Items: removed, Before: before, After: after})
	}
	if len(items) > 0 {
		q.notify(events.QueueChange{GuildID: q.guildID, Op: events.QueueAdd, Items: items, Before: before, After: after})
	}
	return removed, nil
}

// Remove drops the items at the given indexes. Out-of-range indexes are
// ignored; it returns the removed items in queue order.
func (q *Queue) Remove(ctx context.Context, indexes ...int) []track.Item {
	q.mu.Lock()
	drop := make(map[int]struct{}, len(indexes))
	for _, i := range indexes {
		if i >= 0 && i < len(q.tracks) {
			drop[i] = struct{}{}
		}
	}
	if len(drop) == 0 {
		q.mu.Unlock()
		return nil
	}
	before := q.snapshotLocked()
	sorted := make([]int, 0, len(drop))
	for i := range drop {
		sorted = append(sorted, i)
	}
	sort.Ints(sorted)

	removed := make([]track.Item, 0, len(sorted))
	kept := q.tracks[:0:0]
	for i, it := range q.tracks {
		if _, ok := drop[i]; ok {
			removed = append(removed, it)
			continue
		}
		kept = append(kept, it)
	}
	q.tracks = kept
	q.persistLocked(ctx)
	after := q.snapshotLocked()
	q.mu.Unlock()

	q.notify(events.QueueChange{GuildID: q.guildID, Op: events.QueueRemove, Items: removed, Before: before, After: after})
	return removed
}

// Clear drops every upcoming item.
func (q *Queue) Clear(ctx context.Context) []track.Item {
	q.mu.Lock()
	n := len(q.tracks)
	q.mu.Unlock()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return q.Remove(ctx, idx...)
}

// Shuffle randomises the upcoming items and returns their count. Queues of
// one item or less are left untouched; two items are always swapped.
func (q *Queue) Shuffle(ctx context.Context) int {
	q.mu.Lock()
	n := len(q.tracks)
	if n <= 1 {
		q.mu.Unlock()
		return n
	}
	before := q.snapshotLocked()
	if n == 2 {
		q.tracks[0], q.tracks[1] = q.tracks[1], q.tracks[0]
	} else {
		q.rng.Shuffle(n, func(i, j int) { q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i] })
	}
	q.persistLocked(ctx)
	after := q.snapshotLocked()
	q.mu.Unlock()

	q.notify(events.QueueChange{GuildID: q.guildID, Op: events.QueueShuffle, Before: before, After: after})
	return n
}

// Advance moves the current item into the history and promotes the head of
// the queue. With recycle set the finished item is appended to the tail
// instead of being consumed. It returns the new current item, nil when the
// queue ran dry.
func (q *Queue) Advance(ctx context.Context, recycle bool) *track.Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil {
		q.pushPreviousLocked(*q.current)
		if recycle {
			q.tracks = append(q.tracks, *q.current)
		}
	}
	q.current = nil
	if len(q.tracks) > 0 {
		next := q.tracks[0]
		q.tracks = append(q.tracks[:0:0], q.tracks[1:]...)
		q.current = &next
	}
	q.persistLocked(ctx)
	if q.current == nil {
		return nil
	}
	c := *q.current
	return &c
}

// SetCurrent replaces the current item without touching history. A nil item
// clears it.
func (q *Queue) SetCurrent(ctx context.Context, item *track.Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item == nil {
		q.current = nil
	} else {
		c := *item
		q.current = &c
	}
	q.persistLocked(ctx)
}

// ReplaceCurrent swaps the current item for its resolved form. It reports
// false when the current item changed in the meantime.
func (q *Queue) ReplaceCurrent(ctx context.Context, old, resolved track.Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil || q.current.Kind() != old.Kind() || q.current.Info() != old.Info() || q.current.Encoded() != old.Encoded() {
		return false
	}
	q.current = &resolved
	q.persistLocked(ctx)
	return true
}

// ShiftPrevious removes and returns the most recent history entry.
func (q *Queue) ShiftPrevious(ctx context.Context) *track.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.previous) == 0 {
		return nil
	}
	it := q.previous[0]
	q.previous = append(q.previous[:0:0], q.previous[1:]...)
	q.persistLocked(ctx)
	return &it
}

func (q *Queue) pushPreviousLocked(it track.Item) {
	if q.maxPrevious == 0 {
		return
	}
	q.previous = append([]track.Item{it}, q.previous...)
	if len(q.previous) > q.maxPrevious {
		q.previous = q.previous[:q.maxPrevious]
	}
}

// Save persists the current state explicitly.
func (q *Queue) Save(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.persistLocked(ctx)
}

// Sync loads the stored snapshot. With override the stored upcoming items
// replace the local ones, otherwise they are appended. dontSyncCurrent keeps
// the local current item.
func (q *Queue) Sync(ctx context.Context, override, dontSyncCurrent bool) error {
	raw, err := q.store.Get(ctx, q.guildID)
	if err != nil {
		metrics.IncQueuePersistError("get")
		return fmt.Errorf("queue sync get: %w", err)
	}
	if raw == nil {
		return nil
	}
	stored, err := q.store.Parse(raw)
	if err != nil {
		metrics.IncQueuePersistError("parse")
		return fmt.Errorf("queue sync parse: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if override {
		q.tracks = append([]track.Item{}, stored.Tracks...)
	} else {
		q.tracks = append(q.tracks, stored.Tracks...)
	}
	q.previous = append([]track.Item{}, stored.Previous...)
	if len(q.previous) > q.maxPrevious {
		q.previous = q.previous[:q.maxPrevious]
	}
	if !dontSyncCurrent && stored.Current != nil {
		c := *stored.Current
		q.current = &c
	}
	return nil
}

// Destroy deletes the persisted state of the queue.
func (q *Queue) Destroy(ctx context.Context) error {
	if err := q.store.Delete(ctx, q.guildID); err != nil {
		metrics.IncQueuePersistError("delete")
		q.logger.Warn().Err(err).Msg("queue destroy failed")
		return fmt.Errorf("queue destroy: %w", err)
	}
	return nil
}
