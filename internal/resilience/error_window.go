// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience contains failure-rate guards.
package resilience

import (
	"sync"
	"time"
)

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ErrorWindow counts failures inside a sliding time window and trips once
// more than max failures fall inside it. A tripped window stays tripped
// until Reset.
type ErrorWindow struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	events  []time.Time
	tripped bool
	clock   clock
}

// Option configures an ErrorWindow.
type Option func(*ErrorWindow)

func WithClock(c clock) Option {
	return func(w *ErrorWindow) { w.clock = c }
}

// NewErrorWindow creates a window that trips on the (max+1)-th failure within
// window. A non-positive max or window disables tripping.
func NewErrorWindow(window time.Duration, max int, opts ...Option) *ErrorWindow {
	w := &ErrorWindow{window: window, max: max, clock: realClock{}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Record registers one failure and reports whether the window tripped on it.
// Only the failure that trips the window returns true.
func (w *ErrorWindow) Record() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.max <= 0 || w.window <= 0 || w.tripped {
		return false
	}
	now := w.clock.Now()
	w.prune(now)
	w.events = append(w.events, now)
	if len(w.events) > w.max {
		w.tripped = true
		return true
	}
	return false
}

// Count returns the failures currently inside the window.
func (w *ErrorWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.clock.Now())
	return len(w.events)
}

// Tripped reports whether the window has tripped since the last Reset.
func (w *ErrorWindow) Tripped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tripped
}

// Reset clears all recorded failures.
func (w *ErrorWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = w.events[:0]
	w.tripped = false
}

func (w *ErrorWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.events) && !w.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}
