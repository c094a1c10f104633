package simulate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type actionListTest struct {
	actions []string
}

func (a *actionListTest) add(format string, args ...any) {
	a.actions = append(a.actions, fmt.Sprintf(format, args...))
}

func (a *actionListTest) getList() []string {
	result := a.actions
	a.actions = nil
	return result
}

func runAllActions(rt *Runtime) {
	for rt.RunNext() {
	}
}

func TestRuntime(t *testing.T) {
	rt := NewRuntime()
	actions := &actionListTest{}

	rt.AddNext(1, func() {
		actions.add("first")

		rt.AddNext(2, func() {
			actions.add("next-action")

			rt.AddNext(1, func() {
				actions.add("sub-action")
			})
		})
	})
	assert.Equal(t, 1, rt.QueueSize())

	assert.True(t, rt.RunNext())
	assert.Equal(t, []string{"first"}, actions.getList())

	assert.True(t, rt.RunNext())
	assert.Equal(t, []string{"next-action"}, actions.getList())

	assert.True(t, rt.RunNext())
	assert.Equal(t, []string{"sub-action"}, actions.getList())

	// run no action
	assert.False(t, rt.RunNext())
}

func TestRuntime__Restart_Drops_Queued_Actions(t *testing.T) {
	rt := NewRuntime()
	actions := &actionListTest{}

	rt.AddNext(1, func() { actions.add("node 1 action 01") })
	rt.AddNext(2, func() { actions.add("node 2 action 01") })
	rt.AddNext(1, func() { actions.add("node 1 action 02") })

	rt.Restart(1)
	rt.AddNext(1, func() { actions.add("node 1 after restart") })

	runAllActions(rt)
	assert.Equal(t, []string{
		"node 2 action 01",
		"node 1 after restart",
	}, actions.getList())
	assert.Equal(t, 0, rt.QueueSize())
}

func TestRuntime__Run_Random_Action(t *testing.T) {
	rt := NewRuntime()
	actions := &actionListTest{}

	for i := range 4 {
		rt.AddNext(1, func() { actions.add("action %d", i) })
	}

	// always pick the first one, the last action takes its place
	for rt.RunRandomAction(func(n int) int { return 0 }) {
	}

	assert.Equal(t, []string{
		"action 0",
		"action 3",
		"action 2",
		"action 1",
	}, actions.getList())
}
