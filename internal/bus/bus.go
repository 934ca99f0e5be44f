// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus fans lavasync events out to in-process subscribers.
package bus

import (
	"context"

	"github.com/ManuGH/lavasync/internal/events"
)

// Topics used by lavasync.
const (
	TopicNode   = "node"
	TopicPlayer = "player"
	TopicQueue  = "queue"
)

// Message is the payload carried on the bus.
type Message = events.Event

// Bus publishes events to topic subscribers.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	TryPublish(topic string, msg Message) bool
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}

// Subscriber receives messages for one topic until closed.
type Subscriber interface {
	C() <-chan Message
	Close() error
}
