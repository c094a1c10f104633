package simulate

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/h0tk3y/dkvs/paxos"
	"github.com/h0tk3y/dkvs/paxos/fake"
)

// Cluster is a set of nodes exchanging messages through a Runtime instead of the network
type Cluster struct {
	rt     *Runtime
	ids    []paxos.NodeID
	logger *zap.Logger

	nodes    map[paxos.NodeID]*Node
	isolated map[paxos.NodeID]bool

	decided    map[paxos.SlotNum]paxos.Command
	violations []string
}

// Node is one simulated process, its store survives crashes
type Node struct {
	id      paxos.NodeID
	crashed bool

	store    *fake.StoreFake
	replier  *fake.ReplierFake
	acceptor paxos.Acceptor
	leader   paxos.Leader
	replica  paxos.Replica
}

func NewCluster(rt *Runtime, ids []paxos.NodeID, logger *zap.Logger) *Cluster {
	ids = slices.Sorted(slices.Values(ids))

	c := &Cluster{
		rt:     rt,
		ids:    ids,
		logger: logger,

		nodes:    map[paxos.NodeID]*Node{},
		isolated: map[paxos.NodeID]bool{},
		decided:  map[paxos.SlotNum]paxos.Command{},
	}

	for _, id := range ids {
		c.nodes[id] = c.startNode(id, fake.NewStoreFake())
	}
	return c
}

func (c *Cluster) startNode(id paxos.NodeID, store *fake.StoreFake) *Node {
	sender := &nodeSender{cluster: c, from: id}

	n := &Node{
		id:      id,
		store:   store,
		replier: &fake.ReplierFake{},
	}
	n.acceptor = paxos.NewAcceptor(id, c.ids, sender, store, c.logger)
	n.leader = paxos.NewLeader(id, c.ids[0], c.ids, c.ids, sender, store, c.logger)
	n.replica = paxos.NewReplica(id, c.ids, sender, n.replier, store, c.logger)

	c.rt.AddNext(id, func() {
		n.leader.Start()
		n.replica.Start()
	})
	return n
}

type nodeSender struct {
	cluster *Cluster
	from    paxos.NodeID
}

func (s *nodeSender) Send(to paxos.NodeID, msg paxos.Message) {
	c := s.cluster
	if to != s.from && (c.isolated[s.from] || c.isolated[to]) {
		return
	}
	c.rt.AddNext(to, func() {
		c.deliver(to, msg)
	})
}

func (c *Cluster) deliver(to paxos.NodeID, msg paxos.Message) {
	n := c.nodes[to]
	if n.crashed {
		return
	}

	switch m := msg.(type) {
	case paxos.ReplicaMessage:
		if d, ok := m.(paxos.DecisionMessage); ok {
			c.recordDecision(d)
		}
		n.replica.HandleMessage(m)
	case paxos.LeaderMessage:
		n.leader.HandleMessage(m)
	case paxos.AcceptorMessage:
		n.acceptor.HandleMessage(m)
	default:
		panic(fmt.Sprintf("message without a role: %v", msg))
	}
}

func (c *Cluster) recordDecision(d paxos.DecisionMessage) {
	prev, ok := c.decided[d.Slot]
	if !ok {
		c.decided[d.Slot] = d.Command
		return
	}
	if prev != d.Command {
		c.violations = append(c.violations, fmt.Sprintf(
			"slot %d decided as %q and %q", d.Slot, prev, d.Command,
		))
	}
}

// ----------------------------------------------------------
// Scenario control
// ----------------------------------------------------------

// Submit delivers a client command to the replica of node id
func (c *Cluster) Submit(id paxos.NodeID, cmd paxos.Command) {
	c.rt.AddNext(id, func() {
		c.deliver(id, paxos.ClientRequest{Command: cmd})
	})
}

// Replies returns and clears the client replies of node id
func (c *Cluster) Replies(id paxos.NodeID) []fake.Reply {
	return c.nodes[id].replier.Take()
}

// ReportFault plays the fault detector of observer
func (c *Cluster) ReportFault(observer paxos.NodeID, faulty ...paxos.NodeID) {
	c.rt.AddNext(observer, func() {
		n := c.nodes[observer]
		if n.crashed {
			return
		}
		n.leader.NotifyFault(faulty)
		n.replica.ResendProposals()
	})
}

// Crash stops node id and drops everything queued for it, its store is kept
func (c *Cluster) Crash(id paxos.NodeID) {
	c.nodes[id].crashed = true
	c.rt.Restart(id)
}

// Restart brings a crashed node back with the state replayed from its store
func (c *Cluster) Restart(id paxos.NodeID) {
	old := c.nodes[id]
	c.rt.Restart(id)
	c.nodes[id] = c.startNode(id, fake.NewStoreFake(old.store.Records()...))
}

// Isolate drops every message from or to node id until Heal
func (c *Cluster) Isolate(id paxos.NodeID) {
	c.isolated[id] = true
}

func (c *Cluster) Heal(id paxos.NodeID) {
	delete(c.isolated, id)
}

// RunAll runs actions in order until the queue is empty, returns the number of actions
func (c *Cluster) RunAll() int {
	count := 0
	for c.rt.RunNext() {
		c.CheckInvariant()
		count++
	}
	return count
}

// RunRandom runs actions in random order until the queue is empty
func (c *Cluster) RunRandom(randFunc func(n int) int) int {
	count := 0
	for c.rt.RunRandomAction(randFunc) {
		c.CheckInvariant()
		count++
	}
	return count
}

// ----------------------------------------------------------
// Inspection
// ----------------------------------------------------------

func (c *Cluster) CheckInvariant() {
	for _, n := range c.nodes {
		if n.crashed {
			continue
		}
		n.acceptor.CheckInvariant()
		n.leader.CheckInvariant()
		n.replica.CheckInvariant()
	}
}

// Violations lists the slots that were decided with two different commands
func (c *Cluster) Violations() []string {
	return c.violations
}

// ActiveLeaders returns the live nodes whose leader believes it is active
func (c *Cluster) ActiveLeaders() []paxos.NodeID {
	var result []paxos.NodeID
	for _, id := range c.ids {
		n := c.nodes[id]
		if n.crashed {
			continue
		}
		if n.leader.Status().Active {
			result = append(result, id)
		}
	}
	return result
}

func (c *Cluster) Snapshot(id paxos.NodeID) map[string]string {
	return c.nodes[id].replica.Snapshot()
}

func (c *Cluster) ReplicaStatus(id paxos.NodeID) paxos.ReplicaStatus {
	return c.nodes[id].replica.Status()
}

func (c *Cluster) CurrentBallot(id paxos.NodeID) paxos.Ballot {
	return c.nodes[id].acceptor.CurrentBallot()
}
