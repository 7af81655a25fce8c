package omx

import (
	"sync"
	"time"
)

// broadcaster wakes every waiter when the guarded condition may have
// changed. Waiters must take the channel before checking the condition.
type broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func (b *broadcaster) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil {
		b.ch = make(chan struct{})
	}
	return b.ch
}

func (b *broadcaster) broadcast() {
	b.mu.Lock()
	if b.ch != nil {
		close(b.ch)
		b.ch = nil
	}
	b.mu.Unlock()
}

// waitUntil blocks until cond returns true or timeout elapses.
func (b *broadcaster) waitUntil(cond func() bool, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		ch := b.wait()
		if cond() {
			return nil
		}
		select {
		case <-ch:
		case <-timer.C:
			if cond() {
				return nil
			}
			return ErrTimeout
		}
	}
}
