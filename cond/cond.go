package cond

import (
	"context"
	"sync"
)

// Cond is a condition variable whose Wait can be interrupted by a context
type Cond struct {
	_ noCopy

	mut     *sync.Mutex
	waiters []chan struct{}
}

func NewCond(mut *sync.Mutex) *Cond {
	return &Cond{
		mut: mut,
	}
}

// Wait must be used in mutex
func (c *Cond) Wait(ctx context.Context) error {
	signalCh := make(chan struct{})
	c.waiters = append(c.waiters, signalCh)

	c.mut.Unlock()

	select {
	case <-signalCh:
		c.mut.Lock()
		return nil

	case <-ctx.Done():
		c.mut.Lock()
		c.remove(signalCh)
		return ctx.Err()
	}
}

// Signal wakes up the oldest waiter, must be used in mutex
func (c *Cond) Signal() {
	if len(c.waiters) == 0 {
		return
	}
	ch := c.waiters[0]
	c.waiters[0] = nil
	c.waiters = c.waiters[1:]
	close(ch)
}

// Broadcast must be used in mutex
func (c *Cond) Broadcast() {
	for _, ch := range c.waiters {
		close(ch)
	}
	c.waiters = nil
}

// NumWaiters must be used in mutex
func (c *Cond) NumWaiters() int {
	return len(c.waiters)
}

func (c *Cond) remove(signalCh chan struct{}) {
	for i, ch := range c.waiters {
		if ch == signalCh {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
	// already signaled while waking up on ctx, pass it on
	c.Signal()
}

// -----------------------------------------------------

type noCopy struct {
}

var _ sync.Locker = &noCopy{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
