// Package lifecycle provides the run state and cancellation token of the supervisor loop.
package lifecycle

import "sync/atomic"

// State is the run state of the supervisor loop.
type State int32

const (
	Running State = iota
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Token is a cancellation flag that can be set from any goroutine, including a signal
// handler, and is polled by the loop once per tick.
// The zero value is an uncancelled token.
type Token struct {
	cancelled atomic.Bool
}

// NewToken returns an uncancelled token.
func NewToken() *Token {
	return &Token{}
}

// Cancel sets the flag. It never blocks.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}
