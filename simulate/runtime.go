package simulate

import (
	"github.com/h0tk3y/dkvs/paxos"
)

// Runtime queues the actions of a simulated cluster and runs them one at a time.
// Every action belongs to a node, restarting the node drops its queued actions.
type Runtime struct {
	activeQueue []nextActionInfo
	generations map[paxos.NodeID]generation
}

type generation int64

type nextActionInfo struct {
	target     paxos.NodeID
	generation generation
	callback   func()
}

func NewRuntime() *Runtime {
	return &Runtime{
		generations: map[paxos.NodeID]generation{},
	}
}

// AddNext queues callback to run on the current life of target
func (r *Runtime) AddNext(target paxos.NodeID, callback func()) {
	r.activeQueue = append(r.activeQueue, nextActionInfo{
		target:     target,
		generation: r.generations[target],
		callback:   callback,
	})
}

// RunNext runs the oldest action, returns false when nothing is left
func (r *Runtime) RunNext() bool {
	return r.doRunWithChooseFunc(func() nextActionInfo {
		action := r.activeQueue[0]
		r.activeQueue[0] = nextActionInfo{}
		r.activeQueue = r.activeQueue[1:]
		return action
	})
}

// RunRandomAction runs an action picked by randFunc, which models arbitrary message reordering
func (r *Runtime) RunRandomAction(randFunc func(n int) int) bool {
	return r.doRunWithChooseFunc(func() nextActionInfo {
		index := randFunc(len(r.activeQueue))
		action := r.activeQueue[index]

		lastIndex := len(r.activeQueue) - 1
		r.activeQueue[index] = r.activeQueue[lastIndex]
		r.activeQueue[lastIndex] = nextActionInfo{}
		r.activeQueue = r.activeQueue[:lastIndex]

		return action
	})
}

func (r *Runtime) doRunWithChooseFunc(chooseFunc func() nextActionInfo) bool {
	for len(r.activeQueue) > 0 {
		action := chooseFunc()
		if action.generation == r.generations[action.target] {
			action.callback()
			return true
		}
	}
	return false
}

// Restart invalidates every action queued for target
func (r *Runtime) Restart(target paxos.NodeID) {
	r.generations[target]++
}

func (r *Runtime) QueueSize() int {
	return len(r.activeQueue)
}
