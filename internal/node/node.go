// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package node maintains the connection to audio nodes: one websocket per
// node for pushed frames, a REST gateway for commands, and the manager that
// owns and ranks the nodes.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/lavasync/internal/events"
	"github.com/ManuGH/lavasync/internal/fsm"
	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/metrics"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait = 5 * time.Second

	// closeHeartbeatTimeout is the synthetic close code reported when the
	// heartbeat gave up on the socket.
	closeHeartbeatTimeout = 4000
	// closeManualReconnect is reported when Reconnect dropped a live socket.
	closeManualReconnect = 4001
)

// ClientInfo identifies the bot towards the node.
type ClientInfo struct {
	ID   snowflake.ID
	Name string
}

// Bound is the node-facing side of a player.
type Bound interface {
	GuildID() snowflake.ID
	NodeID() string
	HandlePlayerUpdate(update protocol.PlayerUpdate)
	HandleEvent(event protocol.Event)
	Destroy(ctx context.Context, reason events.DestroyReason, disconnect bool) error
}

// Players resolves guild ids to the players bound to nodes.
type Players interface {
	Player(guildID snowflake.ID) (Bound, bool)
	BoundTo(nodeID string) []Bound
}

type deps struct {
	client  func() ClientInfo
	players Players
	emit    func(events.Event)
	release func(*Node)
	http    *http.Client
	dialer  *websocket.Dialer
}

// Node is one connection to an audio node.
type Node struct {
	opts    Options
	deps    deps
	logger  zerolog.Logger
	machine *fsm.Machine[State, trigger]
	alive   atomic.Bool
	calls   atomic.Int64

	mu         sync.Mutex
	conn       *websocket.Conn
	dialing    bool
	sessionID  string
	resumeID   string
	stats      protocol.Stats
	info       *protocol.Info
	attempts   int
	timer      *time.Timer
	stopBeat   chan struct{}
	closeCode  int
	instant    bool
	closing    bool
	destroying bool
	destroyed  bool
	wg         sync.WaitGroup
}

func newNode(opts Options, d deps) *Node {
	opts = opts.withDefaults()
	n := &Node{
		opts:     opts,
		deps:     d,
		machine:  newMachine(),
		resumeID: opts.SessionID,
		logger: log.Derive(func(c *zerolog.Context) {
			*c = c.Str(log.FieldComponent, "node").Str(log.FieldNodeID, opts.Key())
		}),
	}
	n.machine.OnTransition(func(from, to State, _ trigger) {
		n.logger.Info().
			Str(log.FieldOldState, string(from)).
			Str(log.FieldNewState, string(to)).
			Msg("node state changed")
	})
	return n
}

// ID is the node's identity in the manager.
func (n *Node) ID() string { return n.opts.Key() }

// Options returns the resolved options.
func (n *Node) Options() Options {
	o := n.opts
	o.Regions = append([]string(nil), n.opts.Regions...)
	return o
}

// State reports the connection state.
func (n *Node) State() State { return n.machine.State() }

// Connected reports whether the node holds a live session.
func (n *Node) Connected() bool { return n.State() == StateConnected }

// Alive reports the heartbeat liveness flag.
func (n *Node) Alive() bool { return n.alive.Load() }

// SessionID returns the current session id, empty before ready.
func (n *Node) SessionID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionID
}

// Stats returns the last stats frame.
func (n *Node) Stats() protocol.Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Info returns the cached capability descriptor.
func (n *Node) Info() (protocol.Info, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.info == nil {
		return protocol.Info{}, false
	}
	return *n.info, true
}

// Calls counts the REST calls issued by this node.
func (n *Node) Calls() int64 { return n.calls.Load() }

// HasRegion reports whether the node advertises region.
func (n *Node) HasRegion(region string) bool {
	for _, r := range n.opts.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// Connect opens the websocket. It is a no-op while connected or dialing.
// A non-empty resumeSessionID asks the node to resume that session.
func (n *Node) Connect(ctx context.Context, resumeSessionID string) error {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return ErrDestroyed
	}
	if resumeSessionID != "" {
		n.resumeID = resumeSessionID
	}
	n.closing = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()
	return n.dial(ctx)
}

func (n *Node) dial(ctx context.Context) error {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return ErrDestroyed
	}
	if n.conn != nil || n.dialing {
		n.mu.Unlock()
		return nil
	}
	n.dialing = true
	resume := n.resumeID
	n.mu.Unlock()

	n.fire(triggerDial)
	client := n.deps.client()
	header := http.Header{}
	header.Set("Authorization", n.opts.Authorization)
	header.Set("User-Id", client.ID.String())
	header.Set("Client-Name", client.Name)
	if resume != "" {
		header.Set("Session-Id", resume)
	}

	conn, resp, err := n.deps.dialer.DialContext(ctx, n.opts.socketURL(), header)
	if err != nil {
		n.mu.Lock()
		n.dialing = false
		n.mu.Unlock()
		n.fire(triggerFail)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			rerr := &RequestError{Sentinel: ErrUnauthorized, Method: http.MethodGet, Path: "/v4/websocket", Status: status, Err: err}
			n.reportError(rerr, nil)
			return rerr
		}
		werr := fmt.Errorf("%w: dial %s: %v", ErrTransport, n.opts.socketURL(), err)
		n.reportError(werr, nil)
		n.scheduleReconnect()
		return werr
	}

	n.mu.Lock()
	n.dialing = false
	if n.destroyed || n.closing {
		n.mu.Unlock()
		_ = conn.Close()
		return ErrDestroyed
	}
	n.conn = conn
	n.attempts = 0
	n.closeCode = 0
	stop := make(chan struct{})
	n.stopBeat = stop
	beat := n.opts.HeartbeatInterval > 0
	n.wg.Add(1)
	if beat {
		n.wg.Add(1)
	}
	n.mu.Unlock()

	n.alive.Store(true)
	conn.SetPongHandler(func(string) error {
		n.alive.Store(true)
		return nil
	})
	go n.readLoop(conn)
	if beat {
		go n.heartbeat(conn, stop)
	}
	n.logger.Info().Msg("websocket open")
	n.emit(events.NodeConnect{NodeID: n.ID()})

	if _, err := n.FetchInfo(ctx); err != nil {
		ierr := fmt.Errorf("%w: %v", ErrInfoUnavailable, err)
		n.reportError(ierr, nil)
		n.Destroy(ctx, events.ReasonDisconnected, false)
		return ierr
	}
	return nil
}

func (n *Node) readLoop(conn *websocket.Conn) {
	defer n.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			n.handleClose(conn, err)
			return
		}
		n.handleFrame(data)
	}
}

func (n *Node) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !n.alive.Swap(false) {
				n.logger.Warn().Msg("no pong within heartbeat interval")
				n.reportError(ErrHeartbeatTimeout, nil)
				n.forceClose(conn, closeHeartbeatTimeout)
				return
			}
			n.ping(conn)
		}
	}
}

func (n *Node) ping(conn *websocket.Conn) {
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		n.logger.Debug().Err(err).Msg("ping failed")
	}
}

// forceClose drops the socket and makes the read loop report code.
func (n *Node) forceClose(conn *websocket.Conn, code int) {
	n.mu.Lock()
	if n.conn == conn {
		n.closeCode = code
	}
	n.mu.Unlock()
	_ = conn.Close()
}

func (n *Node) handleClose(conn *websocket.Conn, err error) {
	n.mu.Lock()
	if n.conn != conn {
		// Closed locally by Destroy.
		n.mu.Unlock()
		return
	}
	n.conn = nil
	if n.opts.Resuming != nil && n.sessionID != "" {
		n.resumeID = n.sessionID
	}
	n.sessionID = ""
	code := n.closeCode
	n.closeCode = 0
	stop := n.stopBeat
	n.stopBeat = nil
	closing := n.closing
	n.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	_ = conn.Close()

	reason := ""
	var ce *websocket.CloseError
	switch {
	case code == closeHeartbeatTimeout:
		reason = "heartbeat timeout"
	case code == closeManualReconnect:
		reason = "manual reconnect"
	case errors.As(err, &ce):
		code, reason = ce.Code, ce.Text
	default:
		code, reason = websocket.CloseAbnormalClosure, err.Error()
	}

	metrics.SetNodeConnected(n.ID(), false)
	n.fire(triggerClose)
	n.logger.Warn().Int("code", code).Str(log.FieldReason, reason).Msg("websocket closed")
	n.emit(events.NodeDisconnect{NodeID: n.ID(), Code: code, Reason: reason})
	if closing {
		return
	}
	n.scheduleReconnect()
}

// Reconnect drops the current socket, if any, and dials again without
// waiting for the retry delay.
func (n *Node) Reconnect() {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return
	}
	n.closing = false
	n.instant = true
	conn := n.conn
	n.mu.Unlock()
	if conn != nil {
		n.forceClose(conn, closeManualReconnect)
		return
	}
	n.scheduleReconnect()
}

func (n *Node) scheduleReconnect() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.destroyed || n.closing || n.timer != nil {
		return
	}
	delay := n.opts.RetryDelay
	if n.instant {
		delay = 0
		n.instant = false
	}
	n.timer = time.AfterFunc(delay, n.reconnect)
}

func (n *Node) reconnect() {
	n.mu.Lock()
	n.timer = nil
	if n.destroyed || n.closing || n.conn != nil {
		n.mu.Unlock()
		return
	}
	if n.attempts >= n.opts.RetryAmount {
		attempts := n.attempts
		n.mu.Unlock()
		n.reportError(fmt.Errorf("%w after %d attempts", ErrReconnectFailed, attempts), nil)
		n.Destroy(context.Background(), events.ReasonNodeReconnectFail, true)
		return
	}
	n.attempts++
	attempt := n.attempts
	n.mu.Unlock()

	n.fire(triggerRetry)
	metrics.IncNodeReconnect(n.ID())
	n.logger.Info().Int(log.FieldAttempt, attempt).Msg("reconnecting")
	n.emit(events.NodeReconnecting{NodeID: n.ID(), Attempt: attempt})

	ctx, cancel := context.WithTimeout(context.Background(), n.dialTimeout())
	defer cancel()
	_ = n.dial(ctx)
}

func (n *Node) dialTimeout() time.Duration {
	if n.opts.RequestTimeout > 0 {
		return n.opts.RequestTimeout
	}
	return DefaultRequestTimeout
}

// Disconnect closes the socket without reconnecting. Bound players are
// destroyed; the node stays registered and may Connect again.
func (n *Node) Disconnect(ctx context.Context, reason events.DestroyReason) {
	n.Destroy(ctx, reason, false)
}

// Destroy destroys every bound player, closes the socket and clears timers.
// With deregister the node is removed from its manager and never transitions
// again; otherwise it stays configured but offline.
func (n *Node) Destroy(ctx context.Context, reason events.DestroyReason, deregister bool) {
	n.mu.Lock()
	if n.destroyed || n.destroying {
		n.mu.Unlock()
		return
	}
	n.destroying = true
	n.closing = true
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()

	if n.deps.players != nil {
		for _, p := range n.deps.players.BoundTo(n.ID()) {
			if err := p.Destroy(ctx, reason, true); err != nil {
				n.logger.Warn().Err(err).Str(log.FieldGuildID, p.GuildID().String()).Msg("player destroy failed")
			}
		}
	}

	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	stop := n.stopBeat
	n.stopBeat = nil
	n.sessionID = ""
	n.destroying = false
	if deregister {
		n.destroyed = true
	}
	n.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(reason))
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
	}
	metrics.SetNodeConnected(n.ID(), false)

	if !deregister {
		n.fire(triggerClose)
		n.emit(events.NodeDisconnect{NodeID: n.ID(), Code: websocket.CloseNormalClosure, Reason: string(reason)})
		return
	}
	n.fire(triggerDestroy)
	if n.deps.release != nil {
		n.deps.release(n)
	}
	metrics.ForgetNode(n.ID())
	n.logger.Info().Str(log.FieldReason, string(reason)).Msg("node destroyed")
	n.emit(events.NodeDestroy{NodeID: n.ID(), Reason: reason})
}

// wait blocks until the read loop and heartbeat have exited.
func (n *Node) wait() { n.wg.Wait() }

func (n *Node) fire(t trigger) {
	if _, err := n.machine.Fire(context.Background(), t); err != nil {
		n.logger.Debug().Err(err).Msg("state transition skipped")
	}
}

func (n *Node) emit(ev events.Event) {
	if n.deps.emit != nil {
		n.deps.emit(ev)
	}
}

func (n *Node) reportError(err error, payload []byte) {
	n.logger.Warn().Err(err).Msg("node error")
	n.emit(events.NodeError{NodeID: n.ID(), Err: err, Payload: payload})
}
