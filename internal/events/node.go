package events

import (
	"encoding/json"

	"github.com/ManuGH/lavasync/internal/protocol"
)

// NodeCreate is emitted when a node is registered.
type NodeCreate struct {
	NodeID string
}

// NodeConnect is emitted when the websocket opens.
type NodeConnect struct {
	NodeID string
}

// NodeReady is emitted once the node assigns a session id.
type NodeReady struct {
	NodeID    string
	SessionID string
	Resumed   bool
}

// NodeResumed is emitted after a resumed session, carrying the players the
// node still holds. Players are not recreated automatically.
type NodeResumed struct {
	NodeID    string
	SessionID string
	Players   []protocol.Player
}

// NodeDisconnect is emitted when the websocket closes.
type NodeDisconnect struct {
	NodeID string
	Code   int
	Reason string
}

// NodeReconnecting is emitted before each reconnect attempt.
type NodeReconnecting struct {
	NodeID  string
	Attempt int
}

// NodeError carries transport, decode and protocol errors. Payload holds the
// offending frame when there is one.
type NodeError struct {
	NodeID  string
	Err     error
	Payload json.RawMessage
}

// NodeDestroy is emitted once when a node is destroyed.
type NodeDestroy struct {
	NodeID string
	Reason DestroyReason
}

// NodeRaw carries every inbound frame before dispatch.
type NodeRaw struct {
	NodeID  string
	Payload json.RawMessage
}

func (NodeCreate) Kind() Kind       { return KindNodeCreate }
func (NodeConnect) Kind() Kind      { return KindNodeConnect }
func (NodeReady) Kind() Kind        { return KindNodeReady }
func (NodeResumed) Kind() Kind      { return KindNodeResumed }
func (NodeDisconnect) Kind() Kind   { return KindNodeDisconnect }
func (NodeReconnecting) Kind() Kind { return KindNodeReconnecting }
func (NodeError) Kind() Kind        { return KindNodeError }
func (NodeDestroy) Kind() Kind      { return KindNodeDestroy }
func (NodeRaw) Kind() Kind          { return KindNodeRaw }

// NodeEvent is implemented by every node-scoped event.
type NodeEvent interface {
	Event
	Node() string
}

func (e NodeCreate) Node() string       { return e.NodeID }
func (e NodeConnect) Node() string      { return e.NodeID }
func (e NodeReady) Node() string        { return e.NodeID }
func (e NodeResumed) Node() string      { return e.NodeID }
func (e NodeDisconnect) Node() string   { return e.NodeID }
func (e NodeReconnecting) Node() string { return e.NodeID }
func (e NodeError) Node() string        { return e.NodeID }
func (e NodeDestroy) Node() string      { return e.NodeID }
func (e NodeRaw) Node() string          { return e.NodeID }
