package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ManuGH/lavasync/internal/track"
	"github.com/disgoorg/snowflake/v2"
)

// VoiceState holds the Discord voice credentials forwarded to a node.
type VoiceState struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
	ChannelID string `json:"channelId,omitempty"`
}

// Complete reports whether all credentials needed by the node are present.
func (v VoiceState) Complete() bool {
	return v.Token != "" && v.Endpoint != "" && v.SessionID != ""
}

// Player is the node's representation of a guild player.
type Player struct {
	GuildID snowflake.ID `json:"guildId"`
	Track   *track.Track `json:"track"`
	Volume  int          `json:"volume"`
	Paused  bool         `json:"paused"`
	State   PlayerState  `json:"state"`
	Voice   VoiceState   `json:"voice"`
	Filters Filters      `json:"filters"`
}

// UpdatePlayerTrack selects the track of an update request. Stop sends an
// explicit null encoded track, which clears the current track.
type UpdatePlayerTrack struct {
	Encoded    *string         `json:"-"`
	Stop       bool            `json:"-"`
	Identifier string          `json:"-"`
	UserData   json.RawMessage `json:"-"`
}

func (t UpdatePlayerTrack) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 2)
	switch {
	case t.Stop:
		out["encoded"] = nil
	case t.Encoded != nil:
		out["encoded"] = *t.Encoded
	case t.Identifier != "":
		out["identifier"] = t.Identifier
	}
	if len(t.UserData) > 0 {
		out["userData"] = t.UserData
	}
	return json.Marshal(out)
}

func (t *UpdatePlayerTrack) UnmarshalJSON(data []byte) error {
	var in struct {
		Encoded    json.RawMessage `json:"encoded"`
		Identifier string          `json:"identifier"`
		UserData   json.RawMessage `json:"userData"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*t = UpdatePlayerTrack{Identifier: in.Identifier, UserData: in.UserData}
	switch {
	case string(in.Encoded) == "null":
		t.Stop = true
	case len(in.Encoded) > 0:
		var s string
		if err := json.Unmarshal(in.Encoded, &s); err != nil {
			return fmt.Errorf("decode encoded: %w", err)
		}
		t.Encoded = &s
	}
	return nil
}

// UpdatePlayer is the PATCH body of the player resource. Nil fields are left
// untouched by the node.
type UpdatePlayer struct {
	Track    *UpdatePlayerTrack `json:"track,omitempty"`
	Position *int64             `json:"position,omitempty"`
	EndTime  *int64             `json:"endTime,omitempty"`
	Volume   *int               `json:"volume,omitempty"`
	Paused   *bool              `json:"paused,omitempty"`
	Filters  *Filters           `json:"filters,omitempty"`
	Voice    *VoiceState        `json:"voice,omitempty"`
}

// SessionUpdate is the PATCH body of the session resource.
type SessionUpdate struct {
	Resuming *bool `json:"resuming,omitempty"`
	Timeout  *int  `json:"timeout,omitempty"`
}

// Session is the node's view of the websocket session.
type Session struct {
	Resuming bool `json:"resuming"`
	Timeout  int  `json:"timeout"`
}

// VersionInfo is the semver breakdown inside Info.
type VersionInfo struct {
	Semver     string `json:"semver"`
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	Patch      int    `json:"patch"`
	PreRelease string `json:"preRelease,omitempty"`
	Build      string `json:"build,omitempty"`
}

// GitInfo describes the node build.
type GitInfo struct {
	Branch     string `json:"branch"`
	Commit     string `json:"commit"`
	CommitTime int64  `json:"commitTime"`
}

// Plugin is an installed node plugin.
type Plugin struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Info is the capability descriptor of a node.
type Info struct {
	Version        VersionInfo `json:"version"`
	BuildTime      int64       `json:"buildTime"`
	Git            GitInfo     `json:"git"`
	JVM            string      `json:"jvm"`
	Lavaplayer     string      `json:"lavaplayer"`
	SourceManagers []string    `json:"sourceManagers"`
	Filters        []string    `json:"filters"`
	Plugins        []Plugin    `json:"plugins"`
}

// HasSource reports whether the node has the named source manager enabled.
func (i Info) HasSource(name string) bool {
	for _, s := range i.SourceManagers {
		if s == name {
			return true
		}
	}
	return false
}

// HasFilter reports whether the node supports the named filter.
func (i Info) HasFilter(name string) bool {
	for _, f := range i.Filters {
		if f == name {
			return true
		}
	}
	return false
}

// HasPlugin reports whether a plugin with the given name is installed.
func (i Info) HasPlugin(name string) bool {
	for _, p := range i.Plugins {
		if p.Name == name {
			return true
		}
	}
	return false
}

// LoadType discriminates LoadResult.
type LoadType string

const (
	LoadTrack    LoadType = "track"
	LoadPlaylist LoadType = "playlist"
	LoadSearch   LoadType = "search"
	LoadEmpty    LoadType = "empty"
	LoadError    LoadType = "error"
)

// PlaylistInfo describes a loaded playlist.
type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack int    `json:"selectedTrack"`
}

// Playlist is the data of a playlist load result.
type Playlist struct {
	Info       PlaylistInfo    `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	Tracks     []track.Track   `json:"tracks"`
}

// LoadResult is the response of the loadtracks endpoint, flattened by type.
type LoadResult struct {
	LoadType  LoadType
	Tracks    []track.Track
	Playlist  *Playlist
	Exception *Exception
}

func (r *LoadResult) UnmarshalJSON(data []byte) error {
	var in struct {
		LoadType LoadType        `json:"loadType"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = LoadResult{LoadType: in.LoadType}
	switch in.LoadType {
	case LoadTrack:
		var t track.Track
		if err := json.Unmarshal(in.Data, &t); err != nil {
			return fmt.Errorf("decode track result: %w", err)
		}
		r.Tracks = []track.Track{t}
	case LoadSearch:
		if err := json.Unmarshal(in.Data, &r.Tracks); err != nil {
			return fmt.Errorf("decode search result: %w", err)
		}
	case LoadPlaylist:
		var p Playlist
		if err := json.Unmarshal(in.Data, &p); err != nil {
			return fmt.Errorf("decode playlist result: %w", err)
		}
		r.Playlist = &p
		r.Tracks = p.Tracks
	case LoadError:
		var e Exception
		if err := json.Unmarshal(in.Data, &e); err != nil {
			return fmt.Errorf("decode error result: %w", err)
		}
		r.Exception = &e
	case LoadEmpty:
	default:
		return fmt.Errorf("unknown load type %q", in.LoadType)
	}
	return nil
}

func (r LoadResult) MarshalJSON() ([]byte, error) {
	var data any
	switch r.LoadType {
	case LoadTrack:
		if len(r.Tracks) > 0 {
			data = r.Tracks[0]
		}
	case LoadSearch:
		data = r.Tracks
	case LoadPlaylist:
		data = r.Playlist
	case LoadError:
		data = r.Exception
	}
	return json.Marshal(struct {
		LoadType LoadType `json:"loadType"`
		Data     any      `json:"data"`
	}{r.LoadType, data})
}

// ErrorResponse is the body of a non-2xx REST response.
type ErrorResponse struct {
	Timestamp int64  `json:"timestamp"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Path      string `json:"path"`
	Trace     string `json:"trace,omitempty"`
}

// FailingAddress is a route planner address that is currently banned.
type FailingAddress struct {
	Address          string `json:"failingAddress"`
	FailingTimestamp int64  `json:"failingTimestamp"`
	FailingTime      string `json:"failingTime"`
}

// IPBlock describes the route planner's address block.
type IPBlock struct {
	Type string `json:"type"`
	Size string `json:"size"`
}

// RoutePlannerDetails is the details section of RoutePlannerStatus.
type RoutePlannerDetails struct {
	IPBlock             IPBlock          `json:"ipBlock"`
	FailingAddresses    []FailingAddress `json:"failingAddresses"`
	RotateIndex         string           `json:"rotateIndex,omitempty"`
	IPIndex             string           `json:"ipIndex,omitempty"`
	CurrentAddress      string           `json:"currentAddress,omitempty"`
	CurrentAddressIndex string           `json:"currentAddressIndex,omitempty"`
	BlockIndex          string           `json:"blockIndex,omitempty"`
}

// RoutePlannerStatus is returned by the route planner status endpoint. Class
// is empty when no route planner is configured.
type RoutePlannerStatus struct {
	Class   string               `json:"class"`
	Details *RoutePlannerDetails `json:"details"`
}

// LyricsLine is a timed lyrics line, in milliseconds.
type LyricsLine struct {
	Timestamp  int64           `json:"timestamp"`
	Duration   int64           `json:"duration"`
	Line       string          `json:"line"`
	PluginInfo json.RawMessage `json:"plugin,omitempty"`
}

// Lyrics is returned by the lyrics plugin.
type Lyrics struct {
	SourceName string          `json:"sourceName"`
	Provider   string          `json:"provider"`
	Text       string          `json:"text,omitempty"`
	Lines      []LyricsLine    `json:"lines"`
	PluginInfo json.RawMessage `json:"plugin,omitempty"`
}
