package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/metrics"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/ManuGH/lavasync/internal/telemetry"
	"github.com/ManuGH/lavasync/internal/track"
	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxErrorBody = 4 << 10

	pluginSponsorBlock = "sponsorblock-plugin"
	pluginLyrics       = "lavalyrics-plugin"
)

var tracer = telemetry.Tracer("github.com/ManuGH/lavasync/internal/node")

type call struct {
	method string
	path   string
	query  url.Values
	body   any
	out    any
}

// do issues one REST call. Failures come back as *RequestError; nothing is
// retried here.
func (n *Node) do(ctx context.Context, c call) error {
	if n.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.opts.RequestTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "lavasync.node.rest",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.RESTAttributes(n.ID(), c.method, c.path)...))
	defer span.End()

	u := n.opts.restBase() + c.path
	if len(c.query) > 0 {
		u += "?" + c.query.Encode()
	}

	var body io.Reader
	if c.body != nil {
		buf, err := json.Marshal(c.body)
		if err != nil {
			return &RequestError{Sentinel: ErrBadRequest, Method: c.method, Path: c.path, Err: err}
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, u, body)
	if err != nil {
		return &RequestError{Sentinel: ErrBadRequest, Method: c.method, Path: c.path, Err: err}
	}
	reqID := uuid.NewString()
	req.Header.Set("Authorization", n.opts.Authorization)
	req.Header.Set("X-Request-Id", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if name := n.deps.client().Name; name != "" {
		req.Header.Set("User-Agent", name)
	}

	n.calls.Add(1)
	start := time.Now()
	res, err := n.deps.http.Do(req)
	if err != nil {
		metrics.ObserveNodeREST(n.ID(), c.method, 0, time.Since(start))
		sentinel := ErrTransport
		if errors.Is(err, context.DeadlineExceeded) {
			sentinel = ErrTimeout
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, sentinel.Error())
		n.logger.Warn().Err(err).
			Str(log.FieldMethod, c.method).
			Str(log.FieldPath, c.path).
			Str(log.FieldRequestID, reqID).
			Msg("rest call failed")
		return &RequestError{Sentinel: sentinel, Method: c.method, Path: c.path, Err: err}
	}
	defer res.Body.Close()
	metrics.ObserveNodeREST(n.ID(), c.method, res.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int(telemetry.HTTPStatusCodeKey, res.StatusCode))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		msg := strings.TrimSpace(string(raw))
		var er protocol.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Message != "" {
			msg = er.Message
		}
		rerr := &RequestError{
			Sentinel: sentinelForStatus(res.StatusCode),
			Method:   c.method,
			Path:     c.path,
			Status:   res.StatusCode,
			Header:   res.Header.Clone(),
			Body:     msg,
		}
		span.SetStatus(codes.Error, rerr.Sentinel.Error())
		n.logger.Warn().
			Str(log.FieldMethod, c.method).
			Str(log.FieldPath, c.path).
			Int(log.FieldStatus, res.StatusCode).
			Str(log.FieldRequestID, reqID).
			Msg("rest call rejected")
		return rerr
	}

	n.logger.Debug().
		Str(log.FieldMethod, c.method).
		Str(log.FieldPath, c.path).
		Int(log.FieldStatus, res.StatusCode).
		Int64(log.FieldDurationMS, time.Since(start).Milliseconds()).
		Msg("rest call")

	if c.out == nil || res.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if s, ok := c.out.(*string); ok {
		raw, err := io.ReadAll(res.Body)
		if err != nil {
			return &RequestError{Sentinel: ErrBadResponse, Method: c.method, Path: c.path, Status: res.StatusCode, Err: err}
		}
		*s = strings.TrimSpace(string(raw))
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(c.out); err != nil {
		return &RequestError{Sentinel: ErrBadResponse, Method: c.method, Path: c.path, Status: res.StatusCode, Header: res.Header.Clone(), Err: err}
	}
	return nil
}

func (n *Node) requireSession() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.destroyed {
		return "", ErrDestroyed
	}
	if n.sessionID == "" {
		return "", ErrNoSession
	}
	return n.sessionID, nil
}

func (n *Node) requirePlugin(name string) error {
	info, ok := n.Info()
	if ok && !info.HasPlugin(name) {
		return fmt.Errorf("%w: %s", ErrPluginUnavailable, name)
	}
	return nil
}

func playerPath(sessionID string, guildID snowflake.ID) string {
	return "/" + protocol.Version + "/sessions/" + url.PathEscape(sessionID) + "/players/" + guildID.String()
}

// FetchInfo loads and caches the node's capability descriptor.
func (n *Node) FetchInfo(ctx context.Context) (protocol.Info, error) {
	var info protocol.Info
	if err := n.do(ctx, call{method: http.MethodGet, path: "/" + protocol.Version + "/info", out: &info}); err != nil {
		return protocol.Info{}, err
	}
	n.mu.Lock()
	n.info = &info
	n.mu.Unlock()
	return info, nil
}

// Version returns the node's plain-text version string.
func (n *Node) Version(ctx context.Context) (string, error) {
	var v string
	err := n.do(ctx, call{method: http.MethodGet, path: "/version", out: &v})
	return v, err
}

// FetchStats loads stats over REST. Frame stats are never included.
func (n *Node) FetchStats(ctx context.Context) (protocol.Stats, error) {
	var s protocol.Stats
	err := n.do(ctx, call{method: http.MethodGet, path: "/" + protocol.Version + "/stats", out: &s})
	return s, err
}

// UpdatePlayer patches the guild's remote player. noReplace keeps a playing
// track when the payload carries a new one.
func (n *Node) UpdatePlayer(ctx context.Context, guildID snowflake.ID, payload protocol.UpdatePlayer, noReplace bool) (protocol.Player, error) {
	sid, err := n.requireSession()
	if err != nil {
		return protocol.Player{}, err
	}
	var out protocol.Player
	err = n.do(ctx, call{
		method: http.MethodPatch,
		path:   playerPath(sid, guildID),
		query:  url.Values{"noReplace": {strconv.FormatBool(noReplace)}},
		body:   payload,
		out:    &out,
	})
	return out, err
}

// DestroyPlayer deletes the guild's remote player.
func (n *Node) DestroyPlayer(ctx context.Context, guildID snowflake.ID) error {
	sid, err := n.requireSession()
	if err != nil {
		return err
	}
	return n.do(ctx, call{method: http.MethodDelete, path: playerPath(sid, guildID)})
}

// FetchPlayers lists the players the node holds for this session.
func (n *Node) FetchPlayers(ctx context.Context) ([]protocol.Player, error) {
	sid, err := n.requireSession()
	if err != nil {
		return nil, err
	}
	var out []protocol.Player
	err = n.do(ctx, call{
		method: http.MethodGet,
		path:   "/" + protocol.Version + "/sessions/" + url.PathEscape(sid) + "/players",
		out:    &out,
	})
	return out, err
}

// FetchPlayer loads one remote player.
func (n *Node) FetchPlayer(ctx context.Context, guildID snowflake.ID) (protocol.Player, error) {
	sid, err := n.requireSession()
	if err != nil {
		return protocol.Player{}, err
	}
	var out protocol.Player
	err = n.do(ctx, call{method: http.MethodGet, path: playerPath(sid, guildID), out: &out})
	return out, err
}

// UpdateSession configures resuming for the current session.
func (n *Node) UpdateSession(ctx context.Context, resuming bool, timeout time.Duration) (protocol.Session, error) {
	sid, err := n.requireSession()
	if err != nil {
		return protocol.Session{}, err
	}
	secs := int(timeout / time.Second)
	var out protocol.Session
	err = n.do(ctx, call{
		method: http.MethodPatch,
		path:   "/" + protocol.Version + "/sessions/" + url.PathEscape(sid),
		body:   protocol.SessionUpdate{Resuming: &resuming, Timeout: &secs},
		out:    &out,
	})
	return out, err
}

// DecodeTrack decodes one encoded track handle.
func (n *Node) DecodeTrack(ctx context.Context, encoded string) (track.Track, error) {
	var out track.Track
	err := n.do(ctx, call{
		method: http.MethodGet,
		path:   "/" + protocol.Version + "/decodetrack",
		query:  url.Values{"encodedTrack": {encoded}},
		out:    &out,
	})
	return out, err
}

// DecodeTracks decodes a batch of encoded handles.
func (n *Node) DecodeTracks(ctx context.Context, encoded []string) ([]track.Track, error) {
	var out []track.Track
	err := n.do(ctx, call{
		method: http.MethodPost,
		path:   "/" + protocol.Version + "/decodetracks",
		body:   encoded,
		out:    &out,
	})
	return out, err
}

// LoadTracks resolves an identifier: a URL or a prefixed search query.
func (n *Node) LoadTracks(ctx context.Context, identifier string) (protocol.LoadResult, error) {
	var out protocol.LoadResult
	err := n.do(ctx, call{
		method: http.MethodGet,
		path:   "/" + protocol.Version + "/loadtracks",
		query:  url.Values{"identifier": {identifier}},
		out:    &out,
	})
	return out, err
}

// RoutePlannerStatus returns nil when the node has no route planner.
func (n *Node) RoutePlannerStatus(ctx context.Context) (*protocol.RoutePlannerStatus, error) {
	var out protocol.RoutePlannerStatus
	if err := n.do(ctx, call{method: http.MethodGet, path: "/" + protocol.Version + "/routeplanner/status", out: &out}); err != nil {
		return nil, err
	}
	if out.Class == "" {
		return nil, nil
	}
	return &out, nil
}

// UnmarkFailedAddress returns one address to the route planner's pool.
func (n *Node) UnmarkFailedAddress(ctx context.Context, address string) error {
	return n.do(ctx, call{
		method: http.MethodPost,
		path:   "/" + protocol.Version + "/routeplanner/free/address",
		body:   map[string]string{"address": address},
	})
}

// UnmarkAllFailedAddresses returns every failed address to the pool.
func (n *Node) UnmarkAllFailedAddresses(ctx context.Context) error {
	return n.do(ctx, call{method: http.MethodPost, path: "/" + protocol.Version + "/routeplanner/free/all"})
}

func (n *Node) sponsorBlockPath(guildID snowflake.ID) (string, error) {
	if err := n.requirePlugin(pluginSponsorBlock); err != nil {
		return "", err
	}
	sid, err := n.requireSession()
	if err != nil {
		return "", err
	}
	return playerPath(sid, guildID) + "/sponsorblock/categories", nil
}

// GetSponsorBlock lists the segment categories skipped for the guild.
func (n *Node) GetSponsorBlock(ctx context.Context, guildID snowflake.ID) ([]string, error) {
	path, err := n.sponsorBlockPath(guildID)
	if err != nil {
		return nil, err
	}
	var out []string
	err = n.do(ctx, call{method: http.MethodGet, path: path, out: &out})
	return out, err
}

// SetSponsorBlock replaces the skipped segment categories.
func (n *Node) SetSponsorBlock(ctx context.Context, guildID snowflake.ID, categories []string) error {
	path, err := n.sponsorBlockPath(guildID)
	if err != nil {
		return err
	}
	return n.do(ctx, call{method: http.MethodPut, path: path, body: categories})
}

// DeleteSponsorBlock disables segment skipping for the guild.
func (n *Node) DeleteSponsorBlock(ctx context.Context, guildID snowflake.ID) error {
	path, err := n.sponsorBlockPath(guildID)
	if err != nil {
		return err
	}
	return n.do(ctx, call{method: http.MethodDelete, path: path})
}

// GetLyrics loads lyrics for an encoded track. A nil result means none found.
func (n *Node) GetLyrics(ctx context.Context, encoded string, skipTrackSource bool) (*protocol.Lyrics, error) {
	if err := n.requirePlugin(pluginLyrics); err != nil {
		return nil, err
	}
	return n.lyrics(ctx, "/"+protocol.Version+"/lyrics", url.Values{
		"track":           {encoded},
		"skipTrackSource": {strconv.FormatBool(skipTrackSource)},
	})
}

// GetCurrentLyrics loads lyrics for the guild's playing track.
func (n *Node) GetCurrentLyrics(ctx context.Context, guildID snowflake.ID, skipTrackSource bool) (*protocol.Lyrics, error) {
	if err := n.requirePlugin(pluginLyrics); err != nil {
		return nil, err
	}
	sid, err := n.requireSession()
	if err != nil {
		return nil, err
	}
	return n.lyrics(ctx, playerPath(sid, guildID)+"/track/lyrics", url.Values{
		"skipTrackSource": {strconv.FormatBool(skipTrackSource)},
	})
}

func (n *Node) lyrics(ctx context.Context, path string, q url.Values) (*protocol.Lyrics, error) {
	var out *protocol.Lyrics
	err := n.do(ctx, call{method: http.MethodGet, path: path, query: q, out: &out})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// SubscribeLyrics asks the node to push lyric line events for the guild.
func (n *Node) SubscribeLyrics(ctx context.Context, guildID snowflake.ID, skipTrackSource bool) error {
	return n.lyricsSubscription(ctx, http.MethodPost, guildID, url.Values{
		"skipTrackSource": {strconv.FormatBool(skipTrackSource)},
	})
}

// UnsubscribeLyrics stops lyric line events for the guild.
func (n *Node) UnsubscribeLyrics(ctx context.Context, guildID snowflake.ID) error {
	return n.lyricsSubscription(ctx, http.MethodDelete, guildID, nil)
}

func (n *Node) lyricsSubscription(ctx context.Context, method string, guildID snowflake.ID, q url.Values) error {
	if err := n.requirePlugin(pluginLyrics); err != nil {
		return err
	}
	sid, err := n.requireSession()
	if err != nil {
		return err
	}
	return n.do(ctx, call{method: method, path: playerPath(sid, guildID) + "/lyrics/subscribe", query: q})
}
