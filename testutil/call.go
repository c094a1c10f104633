package testutil

import (
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
)

// Call is a function running in its own goroutine of a synctest bubble
type Call[T any] struct {
	t        *testing.T
	returned atomic.Bool
	result   chan T
	finished chan struct{}
}

// Start runs fn in a new goroutine, the test cleanup waits for it to return
func Start[T any](t *testing.T, fn func() T) *Call[T] {
	c := &Call[T]{
		t:        t,
		result:   make(chan T, 1),
		finished: make(chan struct{}),
	}

	go func() {
		defer close(c.finished)
		value := fn()
		c.returned.Store(true)
		c.result <- value
	}()

	t.Cleanup(func() {
		<-c.finished
	})
	return c
}

// Returned waits until every goroutine of the bubble is blocked, then tells whether fn has returned
func (c *Call[T]) Returned() bool {
	synctest.Wait()
	return c.returned.Load()
}

func (c *Call[T]) AssertBlocked() {
	c.t.Helper()
	if c.Returned() {
		c.t.Error("call should still be blocked")
	}
}

// Result blocks until fn returns
func (c *Call[T]) Result() T {
	return <-c.result
}

// Background runs fn outside of any bubble, the test cleanup waits for it
func Background(t *testing.T, fn func()) {
	var wg sync.WaitGroup
	wg.Go(fn)
	t.Cleanup(wg.Wait)
}
