package log

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	maxRecentEntries = 200
	maxLineBytes     = 16 * 1024
)

// Entry is one captured log line kept for the status API.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// BufferMetrics counts lines the recent buffer refused.
type BufferMetrics struct {
	DroppedTooLargeLines uint64
	DroppedIrrelevant    uint64
	DroppedMalformed     uint64
}

var recent = &recentBuffer{}

type recentBuffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	metrics BufferMetrics
}

// recentWriter keeps warn+ lines and lines carrying an "event" field. zerolog
// hands every event to Write as one complete JSON line.
type recentWriter struct{}

func (recentWriter) Write(p []byte) (int, error) {
	recent.add(p)
	return len(p), nil
}

func (b *recentBuffer) add(p []byte) {
	if len(p) > maxLineBytes {
		b.mu.Lock()
		b.metrics.DroppedTooLargeLines++
		b.mu.Unlock()
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		b.mu.Lock()
		b.metrics.DroppedMalformed++
		b.mu.Unlock()
		return
	}
	lvl, _ := fields["level"].(string)
	_, hasEvent := fields[FieldEvent]
	if !hasEvent && lvl != "warn" && lvl != "error" && lvl != "fatal" && lvl != "panic" {
		b.mu.Lock()
		b.metrics.DroppedIrrelevant++
		b.mu.Unlock()
		return
	}

	e := Entry{Level: lvl}
	if ts, ok := fields["time"].(string); ok {
		e.Time, _ = time.Parse(time.RFC3339, ts)
	}
	e.Component, _ = fields[FieldComponent].(string)
	e.Message, _ = fields["message"].(string)
	for _, k := range []string{"time", "level", "message", FieldComponent, "service", "version"} {
		delete(fields, k)
	}
	if len(fields) > 0 {
		e.Fields = fields
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entries == nil {
		b.entries = make([]Entry, maxRecentEntries)
	}
	b.entries[b.next] = e
	b.next = (b.next + 1) % maxRecentEntries
	if b.next == 0 {
		b.full = true
	}
}

// GetRecentLogs returns captured entries, oldest first.
func GetRecentLogs() []Entry {
	recent.mu.Lock()
	defer recent.mu.Unlock()
	if recent.entries == nil {
		return nil
	}
	if !recent.full {
		out := make([]Entry, recent.next)
		copy(out, recent.entries[:recent.next])
		return out
	}
	out := make([]Entry, 0, maxRecentEntries)
	out = append(out, recent.entries[recent.next:]...)
	out = append(out, recent.entries[:recent.next]...)
	return out
}

// ClearRecentLogs empties the buffer and resets its counters.
func ClearRecentLogs() {
	recent.mu.Lock()
	defer recent.mu.Unlock()
	recent.entries = nil
	recent.next = 0
	recent.full = false
	recent.metrics = BufferMetrics{}
}

// GetBufferMetrics returns a copy of the drop counters.
func GetBufferMetrics() BufferMetrics {
	recent.mu.Lock()
	defer recent.mu.Unlock()
	return recent.metrics
}
