package queue

import "github.com/ManuGH/lavasync/internal/events"

// Watcher is notified after add, remove and shuffle.
type Watcher interface {
	QueueChanged(change events.QueueChange)
}

// WatcherFunc adapts a function to Watcher.
type WatcherFunc func(change events.QueueChange)

func (f WatcherFunc) QueueChanged(change events.QueueChange) { f(change) }
