package node

import (
	"context"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/h0tk3y/dkvs/paxos"
)

// runFaultDetector reports every peer not heard from within one timeout window
func (n *Node) runFaultDetector(ctx context.Context) {
	ticker := time.NewTicker(n.timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		faulty := n.detectFaults()
		if len(faulty) > 0 {
			n.events.Push(event{faulty: faulty})
		}
	}
}

func (n *Node) detectFaults() []paxos.NodeID {
	var faulty []paxos.NodeID

	for _, id := range slices.Sorted(maps.Keys(n.peers)) {
		p := n.peers[id]

		if p.aliveIn.Swap(false) {
			if p.faulty.Swap(false) {
				n.logger.Info("Node recovered", zap.Int("peer", int(id)))
			}
			continue
		}

		p.closeInbound()
		faulty = append(faulty, id)

		if !p.faulty.Swap(true) {
			n.logger.Info("Node is faulty, closing its connection", zap.Int("peer", int(id)))
		}
	}

	return faulty
}

// runPinger keeps outbound connections busy so that the peers do not consider this node faulty
func (n *Node) runPinger(ctx context.Context) {
	ticker := time.NewTicker(max(n.timeout/4, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n.pingIdlePeers()
	}
}

func (n *Node) pingIdlePeers() {
	for _, p := range n.peers {
		if !p.ready.Load() {
			continue
		}
		if !p.aliveOut.Swap(false) {
			p.outbox.Push(paxos.PingMessage{})
		}
	}
}
