package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ManuGH/lavasync/internal/track"
	"github.com/disgoorg/snowflake/v2"
)

// EventType discriminates event frames.
type EventType string

const (
	EventTrackStart      EventType = "TrackStartEvent"
	EventTrackEnd        EventType = "TrackEndEvent"
	EventTrackException  EventType = "TrackExceptionEvent"
	EventTrackStuck      EventType = "TrackStuckEvent"
	EventWebSocketClosed EventType = "WebSocketClosedEvent"

	// Plugin events (SponsorBlock and lyrics plugins).
	EventSegmentsLoaded EventType = "SegmentsLoaded"
	EventSegmentSkipped EventType = "SegmentSkipped"
	EventChaptersLoaded EventType = "ChaptersLoaded"
	EventChapterStarted EventType = "ChapterStarted"
	EventLyricsFound    EventType = "LyricsFoundEvent"
	EventLyricsNotFound EventType = "LyricsNotFoundEvent"
	EventLyricsLine     EventType = "LyricsLineEvent"
)

// Event is a decoded event frame scoped to one guild.
type Event interface {
	Message
	Type() EventType
	Guild() snowflake.ID
}

// EventHeader is embedded in every event variant.
type EventHeader struct {
	EventType EventType    `json:"type"`
	GuildID   snowflake.ID `json:"guildId"`
}

func (EventHeader) Op() Op { return OpEvent }

func (h EventHeader) Type() EventType { return h.EventType }

func (h EventHeader) Guild() snowflake.ID { return h.GuildID }

// TrackEndReason is why a track stopped.
type TrackEndReason string

const (
	EndFinished   TrackEndReason = "finished"
	EndLoadFailed TrackEndReason = "loadFailed"
	EndStopped    TrackEndReason = "stopped"
	EndReplaced   TrackEndReason = "replaced"
	EndCleanup    TrackEndReason = "cleanup"
)

// MayStartNext reports whether the next queued track may be started.
func (r TrackEndReason) MayStartNext() bool {
	return r == EndFinished || r == EndLoadFailed
}

// Severity of a track exception.
type Severity string

const (
	SeverityCommon     Severity = "common"
	SeveritySuspicious Severity = "suspicious"
	SeverityFault      Severity = "fault"
)

// Exception is a node-reported playback or load failure.
type Exception struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Cause    string   `json:"cause"`
}

func (e Exception) Error() string {
	if e.Message == "" {
		return "track exception: " + e.Cause
	}
	return "track exception: " + e.Message
}

type TrackStartEvent struct {
	EventHeader
	Track track.Track `json:"track"`
}

type TrackEndEvent struct {
	EventHeader
	Track  track.Track    `json:"track"`
	Reason TrackEndReason `json:"reason"`
}

type TrackExceptionEvent struct {
	EventHeader
	Track     track.Track `json:"track"`
	Exception Exception   `json:"exception"`
}

type TrackStuckEvent struct {
	EventHeader
	Track       track.Track `json:"track"`
	ThresholdMs int64       `json:"thresholdMs"`
}

// WebSocketClosedEvent reports the node's voice websocket to Discord closing.
type WebSocketClosedEvent struct {
	EventHeader
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	ByRemote bool   `json:"byRemote"`
}

// Segment is a SponsorBlock segment, in milliseconds.
type Segment struct {
	Category string `json:"category"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
}

// Chapter is a video chapter, in milliseconds.
type Chapter struct {
	Name     string `json:"name"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Duration int64  `json:"duration"`
}

type SegmentsLoadedEvent struct {
	EventHeader
	Segments []Segment `json:"segments"`
}

type SegmentSkippedEvent struct {
	EventHeader
	Segment Segment `json:"segment"`
}

type ChaptersLoadedEvent struct {
	EventHeader
	Chapters []Chapter `json:"chapters"`
}

type ChapterStartedEvent struct {
	EventHeader
	Chapter Chapter `json:"chapter"`
}

type LyricsFoundEvent struct {
	EventHeader
	Lyrics Lyrics `json:"lyrics"`
}

type LyricsNotFoundEvent struct {
	EventHeader
}

type LyricsLineEvent struct {
	EventHeader
	LineIndex int        `json:"lineIndex"`
	Line      LyricsLine `json:"line"`
	Skipped   bool       `json:"skipped"`
}

// UnknownEvent is returned for event types this client does not model.
type UnknownEvent struct {
	EventHeader
	Raw json.RawMessage `json:"-"`
}

// DecodeEvent decodes an event frame into its concrete variant.
func DecodeEvent(data []byte) (Event, error) {
	var h EventHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	var ev Event
	switch h.EventType {
	case EventTrackStart:
		ev = &TrackStartEvent{}
	case EventTrackEnd:
		ev = &TrackEndEvent{}
	case EventTrackException:
		ev = &TrackExceptionEvent{}
	case EventTrackStuck:
		ev = &TrackStuckEvent{}
	case EventWebSocketClosed:
		ev = &WebSocketClosedEvent{}
	case EventSegmentsLoaded:
		ev = &SegmentsLoadedEvent{}
	case EventSegmentSkipped:
		ev = &SegmentSkippedEvent{}
	case EventChaptersLoaded:
		ev = &ChaptersLoadedEvent{}
	case EventChapterStarted:
		ev = &ChapterStartedEvent{}
	case EventLyricsFound:
		ev = &LyricsFoundEvent{}
	case EventLyricsNotFound:
		ev = &LyricsNotFoundEvent{}
	case EventLyricsLine:
		ev = &LyricsLineEvent{}
	default:
		raw := append(json.RawMessage(nil), data...)
		return &UnknownEvent{EventHeader: h, Raw: raw}, fmt.Errorf("%w: %q", ErrUnknownEvent, h.EventType)
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", h.EventType, err)
	}
	return ev, nil
}
