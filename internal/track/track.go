// Package track holds the playable and unresolved track value types.
package track

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Info is the metadata record of a track as reported by a node.
type Info struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Position   int64  `json:"position"`
	Title      string `json:"title"`
	URI        string `json:"uri,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
	ISRC       string `json:"isrc,omitempty"`
	SourceName string `json:"sourceName"`
}

// Duration returns the track length.
func (i Info) Duration() time.Duration {
	return time.Duration(i.Length) * time.Millisecond
}

// IsLocal reports whether the track points at a file on the node's disk.
func (i Info) IsLocal() bool {
	if i.SourceName == "local" {
		return true
	}
	return strings.HasPrefix(i.URI, "/") || strings.HasPrefix(i.URI, "file://")
}

// Requester identifies who asked for a track.
type Requester struct {
	ID   snowflake.ID `json:"id"`
	Name string       `json:"name,omitempty"`
}

// Track is a playable track. Encoded is an opaque server handle and is never
// parsed locally.
type Track struct {
	Encoded    string          `json:"encoded"`
	Info       Info            `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	UserData   json.RawMessage `json:"userData,omitempty"`
	Requester  *Requester      `json:"requester,omitempty"`
}

// Seekable reports whether seek requests make sense for the track.
func (t Track) Seekable() bool {
	return t.Info.IsSeekable && !t.Info.IsStream
}

// WithRequester returns a copy of t tagged with r.
func (t Track) WithRequester(r *Requester) Track {
	t.Requester = r
	return t
}

// Unresolved is a hint that must be resolved into a Track before playback.
// At least one of Encoded, Info.URI or Info.Title is set.
type Unresolved struct {
	Encoded    string          `json:"encoded,omitempty"`
	Info       Info            `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	Requester  *Requester      `json:"requester,omitempty"`
}

// Valid reports whether u carries enough data to be resolved.
func (u Unresolved) Valid() bool {
	return u.Encoded != "" || u.Info.URI != "" || u.Info.Title != ""
}
