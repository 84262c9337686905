package controller

import "sync"

// latch is a one-shot signal. Any number of Signal calls collapse into a
// single transition and release every current and future Wait.
type latch struct {
	once sync.Once
	ch   chan struct{}
}

func newLatch() *latch {
	return &latch{ch: make(chan struct{})}
}

// Signal releases the latch. It reports whether this call made the transition.
func (l *latch) Signal() bool {
	fired := false
	l.once.Do(func() {
		close(l.ch)
		fired = true
	})

	return fired
}

// Wait blocks until the latch is released.
func (l *latch) Wait() {
	<-l.ch
}

// Signaled reports whether the latch has been released.
func (l *latch) Signaled() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}
