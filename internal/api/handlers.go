package api

import (
	"net/http"

	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/node"
	"github.com/ManuGH/lavasync/internal/player"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/disgoorg/snowflake/v2"
	"github.com/go-chi/chi/v5"
)

// NodeView is the JSON shape of one node.
type NodeView struct {
	ID        string            `json:"id"`
	State     node.State        `json:"state"`
	Connected bool              `json:"connected"`
	Alive     bool              `json:"alive"`
	SessionID string            `json:"sessionId,omitempty"`
	Version   string            `json:"version,omitempty"`
	Regions   []string          `json:"regions,omitempty"`
	Calls     int64             `json:"calls"`
	Penalties float64           `json:"penalties"`
	Players   int               `json:"players"`
	Stats     protocol.Stats    `json:"stats"`
	Plugins   []protocol.Plugin `json:"plugins,omitempty"`
}

// DrainResponse reports a drain.
type DrainResponse struct {
	From  string `json:"from"`
	To    string `json:"to,omitempty"`
	Moved int    `json:"moved"`
	Error string `json:"error,omitempty"`
}

func (s *Server) nodeView(n *node.Node) NodeView {
	v := NodeView{
		ID:        n.ID(),
		State:     n.State(),
		Connected: n.Connected(),
		Alive:     n.Alive(),
		SessionID: n.SessionID(),
		Regions:   n.Options().Regions,
		Calls:     n.Calls(),
		Penalties: n.Penalties(),
		Stats:     n.Stats(),
	}
	if info, ok := n.Info(); ok {
		v.Version = info.Version.Semver
		v.Plugins = info.Plugins
	}
	for _, p := range s.backend.Players() {
		if p.NodeID() == v.ID {
			v.Players++
		}
	}
	return v
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := s.backend.Nodes().Nodes()
	out := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, s.nodeView(n))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	n, ok := s.backend.Nodes().Node(chi.URLParam(r, "nodeID"))
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, s.nodeView(n))
}

// handleDrain moves every player off a node, to ?to= or the least used
// other node. Partial failures report the moved count with 207.
func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	from := chi.URLParam(r, "nodeID")
	to := r.URL.Query().Get("to")
	logger := log.WithComponentFromContext(r.Context(), "api")

	moved, err := s.backend.MovePlayers(r.Context(), from, to)
	resp := DrainResponse{From: from, To: to, Moved: moved}
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldNodeID, from).Int("moved", moved).Msg("drain incomplete")
		if moved == 0 {
			writeError(w, err)
			return
		}
		resp.Error = err.Error()
		writeJSON(w, http.StatusMultiStatus, resp)
		return
	}
	logger.Info().Str(log.FieldNodeID, from).Int("moved", moved).Msg("node drained")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlayers(w http.ResponseWriter, _ *http.Request) {
	players := s.backend.Players()
	out := make([]player.Snapshot, 0, len(players))
	for _, p := range players {
		out = append(out, p.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	id, err := snowflake.Parse(chi.URLParam(r, "guildID"))
	if err != nil {
		writeBadRequest(w, "invalid guild id")
		return
	}
	p, ok := s.backend.GetPlayer(id)
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, log.GetRecentLogs())
}
