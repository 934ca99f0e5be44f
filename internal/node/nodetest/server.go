// Package nodetest runs an in-process audio node for tests: a websocket that
// pushes frames and a REST surface that records every request.
package nodetest

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/lavasync/internal/node"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/ManuGH/lavasync/internal/track"
	"github.com/disgoorg/snowflake/v2"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const Authorization = "youshallnotpass"

// Request is one recorded REST call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Decode unmarshals the request body into v.
func (r Request) Decode(v any) error { return json.Unmarshal(r.Body, v) }

// Server is a fake node.
type Server struct {
	*httptest.Server

	SessionID string
	upgrader  websocket.Upgrader
	dials     atomic.Int32
	reject    atomic.Int32
	autoReady atomic.Bool
	deaf      atomic.Bool

	mu       sync.Mutex
	conns    []*websocket.Conn
	headers  []http.Header
	requests []Request
	info     protocol.Info
	tracks   map[string]track.Track
	loads    map[string]protocol.LoadResult
	players  map[snowflake.ID]protocol.Player
	failures map[string]int
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		SessionID: "session-1",
		info: protocol.Info{
			Version:        protocol.VersionInfo{Semver: "4.0.8", Major: 4},
			SourceManagers: []string{"youtube", "soundcloud", "http", "local"},
			Filters:        []string{"volume", "equalizer", "timescale", "rotation", "karaoke", "tremolo", "vibrato", "lowPass", "channelMix", "distortion"},
		},
		tracks:   make(map[string]track.Track),
		loads:    make(map[string]protocol.LoadResult),
		players:  make(map[snowflake.ID]protocol.Player),
		failures: make(map[string]int),
	}
	s.autoReady.Store(true)

	r := chi.NewRouter()
	r.Use(s.record)
	r.Get("/v4/websocket", s.serveSocket)
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "4.0.8") })
	r.Get("/v4/info", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		writeJSON(w, http.StatusOK, s.info)
	})
	r.Get("/v4/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, protocol.Stats{Players: 1})
	})
	r.Get("/v4/loadtracks", s.loadTracks)
	r.Get("/v4/decodetrack", s.decodeTrack)
	r.Patch("/v4/sessions/{sid}", func(w http.ResponseWriter, r *http.Request) {
		var in protocol.SessionUpdate
		_ = json.NewDecoder(r.Body).Decode(&in)
		out := protocol.Session{}
		if in.Resuming != nil {
			out.Resuming = *in.Resuming
		}
		if in.Timeout != nil {
			out.Timeout = *in.Timeout
		}
		writeJSON(w, http.StatusOK, out)
	})
	r.Get("/v4/sessions/{sid}/players", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		out := make([]protocol.Player, 0, len(s.players))
		for _, p := range s.players {
			out = append(out, p)
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
	})
	r.Get("/v4/sessions/{sid}/players/{gid}", s.getPlayer)
	r.Patch("/v4/sessions/{sid}/players/{gid}", s.patchPlayer)
	r.Delete("/v4/sessions/{sid}/players/{gid}", s.deletePlayer)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Options returns node options pointing at the server with fast retries and
// the heartbeat disabled.
func (s *Server) Options(id string) node.Options {
	u, _ := url.Parse(s.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)
	return node.Options{
		ID:                id,
		Host:              host,
		Port:              port,
		Authorization:     Authorization,
		RetryAmount:       2,
		RetryDelay:        10 * time.Millisecond,
		RequestTimeout:    2 * time.Second,
		HeartbeatInterval: -1,
	}
}

// Close drops every socket, then stops the HTTP server.
func (s *Server) Close() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	s.Server.Close()
}

// SetAutoReady controls whether a ready frame follows every upgrade.
func (s *Server) SetAutoReady(v bool) { s.autoReady.Store(v) }

// SetDeaf stops reading new sockets, so pings are never answered.
func (s *Server) SetDeaf(v bool) { s.deaf.Store(v) }

// RejectUpgrades makes websocket upgrades fail with status; 0 accepts again.
func (s *Server) RejectUpgrades(status int) { s.reject.Store(int32(status)) }

// Dials counts websocket upgrade attempts.
func (s *Server) Dials() int { return int(s.dials.Load()) }

// Handshakes returns the headers of every upgrade request.
func (s *Server) Handshakes() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.headers...)
}

// SetPlugins sets the plugins advertised by /v4/info.
func (s *Server) SetPlugins(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Plugins = nil
	for _, n := range names {
		s.info.Plugins = append(s.info.Plugins, protocol.Plugin{Name: n, Version: "1.0.0"})
	}
}

// AddTrack makes t decodable and playable by its encoded handle.
func (s *Server) AddTrack(t track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[t.Encoded] = t
}

// SetLoadResult answers loadtracks for identifier.
func (s *Server) SetLoadResult(identifier string, res protocol.LoadResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads[identifier] = res
}

// FailNext makes the next n requests matching "METHOD /path-prefix" fail
// with a 500.
func (s *Server) FailNext(method, pathPrefix string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+pathPrefix] = n
}

// Player returns the server's view of a guild player.
func (s *Server) Player(guildID snowflake.ID) (protocol.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[guildID]
	return p, ok
}

// Requests returns the recorded REST calls, websocket upgrades excluded.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsFor filters recorded calls by method and path prefix.
func (s *Server) RequestsFor(method, pathPrefix string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, pathPrefix) {
			out = append(out, r)
		}
	}
	return out
}

// PlayerPath is the REST path of a guild player in the server's session.
func (s *Server) PlayerPath(guildID snowflake.ID) string {
	return "/v4/sessions/" + s.SessionID + "/players/" + guildID.String()
}

// Send writes v as JSON to every open socket.
func (s *Server) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SendRaw(data)
}

// SendRaw writes a raw text frame to every open socket.
func (s *Server) SendRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// Ready sends a ready frame.
func (s *Server) Ready(resumed bool) error {
	return s.Send(map[string]any{"op": "ready", "resumed": resumed, "sessionId": s.SessionID})
}

// SendStats sends a stats frame.
func (s *Server) SendStats(st protocol.Stats) error {
	data, _ := json.Marshal(st)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	m["op"] = "stats"
	return s.Send(m)
}

// SendPlayerUpdate sends a playerUpdate frame.
func (s *Server) SendPlayerUpdate(guildID snowflake.ID, st protocol.PlayerState) error {
	return s.Send(map[string]any{"op": "playerUpdate", "guildId": guildID.String(), "state": st})
}

// SendEvent sends an event frame of type typ with extra fields. A track end
// other than "replaced" clears the server's track first.
func (s *Server) SendEvent(guildID snowflake.ID, typ protocol.EventType, fields map[string]any) error {
	if typ == protocol.EventTrackEnd && fields["reason"] != protocol.EndReplaced {
		s.mu.Lock()
		if p, ok := s.players[guildID]; ok {
			p.Track = nil
			s.players[guildID] = p
		}
		s.mu.Unlock()
	}
	m := map[string]any{"op": "event", "type": string(typ), "guildId": guildID.String()}
	for k, v := range fields {
		m[k] = v
	}
	return s.Send(m)
}

// Drop closes every socket with a close frame carrying code.
func (s *Server) Drop(code int, reason string) {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.Close()
	}
}

// Connections counts open sockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	s.dials.Add(1)
	s.mu.Lock()
	s.headers = append(s.headers, r.Header.Clone())
	s.mu.Unlock()

	if r.Header.Get("Authorization") != Authorization {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if code := int(s.reject.Load()); code != 0 {
		http.Error(w, "rejected", code)
		return
	}
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	if s.autoReady.Load() {
		resumed := r.Header.Get("Session-Id") == s.SessionID
		data, _ := json.Marshal(map[string]any{"op": "ready", "resumed": resumed, "sessionId": s.SessionID})
		s.mu.Lock()
		_ = c.WriteMessage(websocket.TextMessage, data)
		s.mu.Unlock()
	}

	if s.deaf.Load() {
		return
	}
	// Drain control frames so pings are answered.
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v4/websocket" {
			next.ServeHTTP(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		fail := false
		for key, n := range s.failures {
			method, prefix, _ := strings.Cut(key, " ")
			if n > 0 && r.Method == method && strings.HasPrefix(r.URL.Path, prefix) {
				s.failures[key] = n - 1
				fail = true
				break
			}
		}
		s.mu.Unlock()

		if r.Header.Get("Authorization") != Authorization {
			writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Status: 401, Error: "Unauthorized", Message: "bad authorization", Path: r.URL.Path})
			return
		}
		if fail {
			writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Status: 500, Error: "Internal Server Error", Message: "injected failure", Path: r.URL.Path})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loadTracks(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("identifier")
	s.mu.Lock()
	res, ok := s.loads[id]
	s.mu.Unlock()
	if !ok {
		res = protocol.LoadResult{LoadType: protocol.LoadEmpty}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) decodeTrack(w http.ResponseWriter, r *http.Request) {
	enc := r.URL.Query().Get("encodedTrack")
	s.mu.Lock()
	t, ok := s.tracks[enc]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Status: 400, Message: "cannot decode track"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func guildParam(r *http.Request) (snowflake.ID, bool) {
	id, err := snowflake.Parse(chi.URLParam(r, "gid"))
	return id, err == nil
}

func (s *Server) getPlayer(w http.ResponseWriter, r *http.Request) {
	gid, ok := guildParam(r)
	if !ok {
		http.Error(w, "bad guild", http.StatusBadRequest)
		return
	}
	p, found := s.Player(gid)
	if !found {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Status: 404, Message: "player not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) patchPlayer(w http.ResponseWriter, r *http.Request) {
	gid, ok := guildParam(r)
	if !ok {
		http.Error(w, "bad guild", http.StatusBadRequest)
		return
	}
	if chi.URLParam(r, "sid") != s.SessionID {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Status: 404, Message: "session not found"})
		return
	}
	var in protocol.UpdatePlayer
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Status: 400, Message: err.Error()})
		return
	}

	s.mu.Lock()
	p, found := s.players[gid]
	if !found {
		p = protocol.Player{GuildID: gid, Volume: 100}
	}
	noReplace := r.URL.Query().Get("noReplace") == "true"
	if in.Track != nil && !(noReplace && p.Track != nil) {
		switch {
		case in.Track.Stop:
			p.Track = nil
		case in.Track.Encoded != nil:
			t, known := s.tracks[*in.Track.Encoded]
			if !known {
				t = track.Track{Encoded: *in.Track.Encoded}
			}
			t.UserData = in.Track.UserData
			p.Track = &t
		}
		p.State.Position = 0
	}
	if in.Position != nil {
		p.State.Position = *in.Position
	}
	if in.Volume != nil {
		p.Volume = *in.Volume
	}
	if in.Paused != nil {
		p.Paused = *in.Paused
	}
	if in.Filters != nil {
		p.Filters = in.Filters.Clone()
	}
	if in.Voice != nil {
		p.Voice = *in.Voice
		p.State.Connected = true
	}
	s.players[gid] = p
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePlayer(w http.ResponseWriter, r *http.Request) {
	if gid, ok := guildParam(r); ok {
		s.mu.Lock()
		delete(s.players, gid)
		s.mu.Unlock()
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
