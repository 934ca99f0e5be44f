// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package node

import "github.com/ManuGH/lavasync/internal/fsm"

// State is the connection state of a node.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDestroyed    State = "destroyed"
)

type trigger string

const (
	triggerDial    trigger = "dial"
	triggerReady   trigger = "ready"
	triggerFail    trigger = "fail"
	triggerClose   trigger = "close"
	triggerRetry   trigger = "retry"
	triggerDestroy trigger = "destroy"
)

// transitions is the full edge table. Destroyed has no outgoing edges.
func transitions() []fsm.Transition[State, trigger] {
	t := []fsm.Transition[State, trigger]{
		{From: StateDisconnected, Event: triggerDial, To: StateConnecting},
		{From: StateReconnecting, Event: triggerDial, To: StateConnecting},
		{From: StateConnecting, Event: triggerReady, To: StateConnected},
		{From: StateConnecting, Event: triggerFail, To: StateDisconnected},
		{From: StateConnecting, Event: triggerClose, To: StateDisconnected},
		{From: StateConnected, Event: triggerClose, To: StateDisconnected},
		{From: StateDisconnected, Event: triggerRetry, To: StateReconnecting},
	}
	for _, s := range []State{StateDisconnected, StateConnecting, StateConnected, StateReconnecting} {
		t = append(t, fsm.Transition[State, trigger]{From: s, Event: triggerDestroy, To: StateDestroyed})
	}
	return t
}

func newMachine() *fsm.Machine[State, trigger] {
	m, err := fsm.New(StateDisconnected, transitions())
	if err != nil {
		panic(err)
	}
	return m
}
