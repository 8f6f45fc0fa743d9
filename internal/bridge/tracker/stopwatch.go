// Package tracker forwards provider callbacks into the event stream,
// stamping them with elapsed-time measurements and managing per-payload
// transfer state.
package tracker

import (
	"sync"
	"time"
)

// Stopwatch measures elapsed time on the monotonic clock. The zero value
// is a stopped stopwatch that reads zero elapsed time.
type Stopwatch struct {
	mu      sync.Mutex
	start   time.Time
	elapsed time.Duration
	running bool
}

// NewStopwatch returns a stopped stopwatch.
func NewStopwatch() *Stopwatch {
	return &Stopwatch{}
}

// StartedStopwatch returns a stopwatch already running.
func StartedStopwatch() *Stopwatch {
	s := &Stopwatch{}
	s.Start()
	return s
}

// Start begins (or restarts) timing from now.
func (s *Stopwatch) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = time.Now()
	s.elapsed = 0
	s.running = true
}

// Running reports whether the stopwatch is timing.
func (s *Stopwatch) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Elapsed returns the time since Start without stopping. A stopped
// stopwatch returns its last sampled value.
func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return time.Since(s.start)
	}
	return s.elapsed
}

// Stop samples the elapsed time and stops the stopwatch. Stopping an
// already stopped stopwatch returns the previous sample.
func (s *Stopwatch) Stop() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.elapsed = time.Since(s.start)
		s.running = false
	}
	return s.elapsed
}
