package player

import "errors"

var (
	ErrInvalidOptions    = errors.New("player: invalid options")
	ErrDestroyed         = errors.New("player: destroyed")
	ErrNothingToPlay     = errors.New("player: nothing to play")
	ErrNothingPlaying    = errors.New("player: no current track")
	ErrInvalidPosition   = errors.New("player: position out of range")
	ErrInvalidEndTime    = errors.New("player: end time out of range")
	ErrInvalidVolume     = errors.New("player: volume must not be negative")
	ErrNotSeekable       = errors.New("player: current track is not seekable")
	ErrAlreadyPaused     = errors.New("player: already paused")
	ErrQueueEmpty        = errors.New("player: queue is empty")
	ErrSkipOutOfRange    = errors.New("player: skip target beyond queue")
	ErrNoVoiceChannel    = errors.New("player: no voice channel")
	ErrSameVoiceChannel  = errors.New("player: already in that voice channel")
	ErrNoVoiceSender     = errors.New("player: no voice sender configured")
	ErrNodeUnavailable   = errors.New("player: node not connected")
	ErrSameNode          = errors.New("player: already on that node")
	ErrFilterUnavailable = errors.New("player: filter not supported by node")
	ErrInvalidBand       = errors.New("player: equalizer band out of range")
)
