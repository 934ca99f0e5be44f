package events

import (
	"github.com/ManuGH/lavasync/internal/track"
	"github.com/disgoorg/snowflake/v2"
)

// QueueOp names the mutation behind a QueueChange.
type QueueOp string

const (
	QueueAdd     QueueOp = "add"
	QueueRemove  QueueOp = "remove"
	QueueShuffle QueueOp = "shuffle"
)

// QueueSnapshot is a copy of a queue's contents.
type QueueSnapshot struct {
	Current  *track.Item  `json:"current"`
	Tracks   []track.Item `json:"tracks"`
	Previous []track.Item `json:"previous"`
}

// QueueChange is emitted after add, remove and shuffle.
type QueueChange struct {
	GuildID snowflake.ID
	Op      QueueOp
	Items   []track.Item
	Before  QueueSnapshot
	After   QueueSnapshot
}

func (QueueChange) Kind() Kind { return KindQueueChange }

func (e QueueChange) Guild() snowflake.ID { return e.GuildID }
