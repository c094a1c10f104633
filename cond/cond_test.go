package cond

import (
	"context"
	"sync"
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/assert"

	"github.com/h0tk3y/dkvs/testutil"
)

func TestNoCopy(t *testing.T) {
	var cond noCopy
	var x int
	cond.Lock()
	x++
	cond.Unlock()
}

type condTest struct {
	t        *testing.T
	mut      sync.Mutex
	cond     *Cond
	finished bool
}

func newCondTest(t *testing.T) *condTest {
	c := &condTest{t: t}
	c.cond = NewCond(&c.mut)
	return c
}

func (c *condTest) waitUntilFinished() *testutil.Call[error] {
	ctx := c.t.Context()
	return testutil.Start(c.t, func() error {
		c.mut.Lock()
		defer c.mut.Unlock()
		for !c.finished {
			if err := c.cond.Wait(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestCond__Waiting(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := newCondTest(t)

		fn1 := c.waitUntilFinished()
		synctest.Wait()

		fn1.AssertBlocked()

		c.mut.Lock()
		assert.Equal(t, 1, c.cond.NumWaiters())
		c.mut.Unlock()
	})
}

func TestCond__Signal_Wake_Up_One(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := newCondTest(t)

		fn1 := c.waitUntilFinished()
		synctest.Wait()
		fn2 := c.waitUntilFinished()
		synctest.Wait()

		c.mut.Lock()
		c.finished = true
		c.cond.Signal()
		c.mut.Unlock()

		synctest.Wait()

		assert.Equal(t, nil, fn1.Result())
		fn2.AssertBlocked()

		c.mut.Lock()
		c.cond.Signal()
		c.mut.Unlock()

		synctest.Wait()
		assert.Equal(t, nil, fn2.Result())
	})
}

func TestCond__Broadcast(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := newCondTest(t)

		fn1 := c.waitUntilFinished()
		fn2 := c.waitUntilFinished()
		synctest.Wait()

		c.mut.Lock()
		assert.Equal(t, 2, c.cond.NumWaiters())
		c.finished = true
		c.cond.Broadcast()
		c.mut.Unlock()

		synctest.Wait()

		assert.Equal(t, nil, fn1.Result())
		assert.Equal(t, nil, fn2.Result())

		// signal without waiters
		c.mut.Lock()
		c.cond.Signal()
		assert.Equal(t, 0, c.cond.NumWaiters())
		c.mut.Unlock()
	})
}

func TestCond__Context_Cancel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var mut sync.Mutex
		cond := NewCond(&mut)

		ctx, cancel := context.WithCancel(context.Background())

		call := testutil.Start(t, func() error {
			mut.Lock()
			defer mut.Unlock()
			return cond.Wait(ctx)
		})
		call.AssertBlocked()

		cancel()
		assert.Equal(t, context.Canceled, call.Result())

		mut.Lock()
		assert.Equal(t, 0, cond.NumWaiters())
		mut.Unlock()
	})
}
