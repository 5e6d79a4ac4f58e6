package modem

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle state of the modem as seen by the attach sequence.
type State int32

const (
	StateIdle State = iota
	StateResetting
	StateInitializing
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResetting:
		return "resetting"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText lets State appear by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// latch is a boolean that goroutines can wait on. Setting it closes the
// current wait channel; clearing it installs a fresh one.
type latch struct {
	mu    sync.Mutex
	value bool
	wait  chan struct{}
}

func newLatch() *latch {
	return &latch{wait: make(chan struct{})}
}

func (l *latch) Set(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case v && !l.value:
		close(l.wait)
	case !v && l.value:
		l.wait = make(chan struct{})
	}
	l.value = v
}

func (l *latch) IsSet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

// Wait blocks until the latch is set or timeout elapses.
func (l *latch) Wait(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	wait := l.wait
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-wait:
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return timeoutError(ctx.Err())
	}
}

// sleep pauses for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return timeoutError(ctx.Err())
	}
}
