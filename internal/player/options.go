package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/lavasync/internal/queue"
	"github.com/ManuGH/lavasync/internal/resolver"
	"github.com/ManuGH/lavasync/internal/track"
)

const (
	DefaultVolume               = 100
	MaxVolume                   = 1000
	DefaultSearchPlatform       = "ytsearch"
	DefaultMinAutoPlayInterval  = 10 * time.Second
	DefaultErrorThreshold       = 35 * time.Second
	DefaultMaxErrors            = 3
	DefaultMaxFilterFixDuration = 10 * time.Minute

	mailboxSize = 64
)

// RepeatMode selects what happens when a track finishes naturally.
type RepeatMode string

const (
	RepeatOff   RepeatMode = "off"
	RepeatTrack RepeatMode = "track"
	RepeatQueue RepeatMode = "queue"
)

// ParseRepeatMode maps a name to a RepeatMode. Empty means off.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch m := RepeatMode(s); m {
	case "":
		return RepeatOff, nil
	case RepeatOff, RepeatTrack, RepeatQueue:
		return m, nil
	default:
		return "", fmt.Errorf("player: unknown repeat mode %q", s)
	}
}

// AutoPlayFunc may add tracks to p's queue after it ran dry. last is the
// track that just ended, nil if none.
type AutoPlayFunc func(ctx context.Context, p *Player, last *track.Track) error

// DisconnectPolicy decides what happens when the voice connection is lost.
// AutoReconnect wins over DestroyPlayer; DestroyPlayer then only applies when
// reconnecting fails.
type DisconnectPolicy struct {
	AutoReconnect bool
	DestroyPlayer bool
}

// EmptyQueuePolicy runs after the queue ran dry. A nil DestroyAfter never
// destroys; zero destroys at once.
type EmptyQueuePolicy struct {
	AutoPlay     AutoPlayFunc
	DestroyAfter *time.Duration
}

// ErrorLimit destroys a player after more than MaxAmount track errors inside
// Threshold.
type ErrorLimit struct {
	Threshold time.Duration
	MaxAmount int
}

// Options is the behavior shared by every player of a manager.
type Options struct {
	DefaultSearchPlatform string
	// VolumeDecrementer scales the volume sent to the node, in (0, 1]. Zero
	// means 1.
	VolumeDecrementer      float64
	ApplyVolumeAsFilter    bool
	OnDisconnect           DisconnectPolicy
	OnEmptyQueue           EmptyQueuePolicy
	MinAutoPlayInterval    time.Duration
	MaxErrorsPerTime       ErrorLimit
	AutoSkip               bool
	AutoSkipOnResolveError bool
	InstaUpdateFiltersFix  bool
	MaxFilterFixDuration   time.Duration
	MergePolicy            resolver.MergePolicy
	Queue                  queue.Config
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		DefaultSearchPlatform: DefaultSearchPlatform,
		VolumeDecrementer:     1,
		MinAutoPlayInterval:   DefaultMinAutoPlayInterval,
		MaxErrorsPerTime: ErrorLimit{
			Threshold: DefaultErrorThreshold,
			MaxAmount: DefaultMaxErrors,
		},
		AutoSkip:             true,
		MaxFilterFixDuration: DefaultMaxFilterFixDuration,
		Queue:                queue.Config{MaxPreviousTracks: -1},
	}
}

// Validate reports every invalid field.
func (o Options) Validate() error {
	var errs []error
	if o.VolumeDecrementer < 0 || o.VolumeDecrementer > 1 {
		errs = append(errs, fmt.Errorf("volume decrementer %v outside (0, 1]", o.VolumeDecrementer))
	}
	if o.MinAutoPlayInterval < 0 {
		errs = append(errs, errors.New("negative autoplay interval"))
	}
	if o.MaxErrorsPerTime.MaxAmount < 0 || o.MaxErrorsPerTime.Threshold < 0 {
		errs = append(errs, errors.New("negative error limit"))
	}
	if d := o.OnEmptyQueue.DestroyAfter; d != nil && *d < 0 {
		errs = append(errs, errors.New("negative empty queue destroy delay"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}

func (o Options) decrementer() float64 {
	if o.VolumeDecrementer <= 0 {
		return 1
	}
	return o.VolumeDecrementer
}

func (o Options) searchPlatform() string {
	if o.DefaultSearchPlatform == "" {
		return DefaultSearchPlatform
	}
	return o.DefaultSearchPlatform
}
