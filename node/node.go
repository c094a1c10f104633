package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/h0tk3y/dkvs/config"
	"github.com/h0tk3y/dkvs/paxos"
	"github.com/h0tk3y/dkvs/paxos/key_runner"
	"github.com/h0tk3y/dkvs/queue"
	"github.com/h0tk3y/dkvs/storage"
)

// Node hosts one Replica, one Leader and one Acceptor and connects them to the other nodes
type Node struct {
	id      paxos.NodeID
	address string
	timeout time.Duration
	logger  *zap.Logger

	store    *storage.FileLog
	acceptor paxos.Acceptor
	leader   paxos.Leader
	replica  paxos.Replica

	events *queue.Queue[event]

	peers       map[paxos.NodeID]*peer
	peerTargets []peerTarget
	peerRunner  *key_runner.KeyRunner[paxos.NodeID, peerTarget]

	sessionMut   sync.Mutex
	sessions     map[paxos.ClientID]*clientSession
	nextClientID atomic.Int64

	connMut sync.Mutex
	conns   map[net.Conn]struct{}
	closed  bool

	wg sync.WaitGroup
}

// event is either a protocol message or a fault report
type event struct {
	msg    paxos.Message
	faulty []paxos.NodeID
}

var _ paxos.Sender = &Node{}
var _ paxos.Replier = &Node{}

// New opens the log of node id and builds its roles, nothing is started before Run
func New(cfg *config.Config, id paxos.NodeID, logger *zap.Logger) (*Node, error) {
	address, ok := cfg.Address(id)
	if !ok {
		return nil, fmt.Errorf("node %d is not in the configuration", id)
	}

	// incarnation tells apart the log lines of different runs of the same node
	logger = logger.With(zap.String("incarnation", uuid.NewString()))

	store, err := storage.Open(cfg.LogPath(id), logger)
	if err != nil {
		return nil, fmt.Errorf("open log of node %d: %w", id, err)
	}

	ids := cfg.IDs()

	n := &Node{
		id:      id,
		address: address,
		timeout: cfg.Timeout,
		logger:  logger.With(zap.Int("node", int(id)), zap.String("component", "node")),

		store:  store,
		events: queue.New[event](),

		peers:    map[paxos.NodeID]*peer{},
		sessions: map[paxos.ClientID]*clientSession{},
		conns:    map[net.Conn]struct{}{},
	}

	// client ids must not repeat across restarts of the same node
	n.nextClientID.Store(time.Now().UnixMicro())

	var targets []peerTarget
	for _, peerID := range ids {
		if peerID == id {
			continue
		}
		peerAddress, _ := cfg.Address(peerID)
		n.peers[peerID] = newPeer(peerID)
		targets = append(targets, peerTarget{ID: peerID, Address: peerAddress})
	}

	n.peerRunner = key_runner.New(peerTarget.getKey, n.runPeerSender)
	n.peerTargets = targets

	n.acceptor = paxos.NewAcceptor(id, ids, n, store, logger)
	n.leader = paxos.NewLeader(id, cfg.Designated(), ids, ids, n, store, logger)
	n.replica = paxos.NewReplica(id, ids, n, n, store, logger)

	return n, nil
}

// Run serves until ctx is cancelled, then closes every connection and the log
func (n *Node) Run(ctx context.Context) error {
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", n.address)
	if err != nil {
		_ = n.store.Close()
		return fmt.Errorf("listen on %s: %w", n.address, err)
	}

	n.logger.Info("Node started", zap.String("address", n.address), zap.String("log", n.store.Path()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
		n.closeConnections()
		n.events.Close()
	})
	defer stop()

	n.peerRunner.Upsert(n.peerTargets)

	n.wg.Go(func() {
		n.runEventLoop(ctx)
	})
	n.wg.Go(func() {
		n.acceptLoop(ctx, listener)
	})
	n.wg.Go(func() {
		n.runFaultDetector(ctx)
	})
	n.wg.Go(func() {
		n.runPinger(ctx)
	})

	<-ctx.Done()

	n.peerRunner.Shutdown()
	n.wg.Wait()

	n.logger.Info("Node stopped")
	return n.store.Close()
}

// Close releases a node that was built but never run, Run closes the log by itself
func (n *Node) Close() error {
	return n.store.Close()
}

// Status is safe to call from any goroutine
func (n *Node) Status() (paxos.LeaderStatus, paxos.ReplicaStatus) {
	return n.leader.Status(), n.replica.Status()
}

// ----------------------------------------------------------
// Event loop
// ----------------------------------------------------------

func (n *Node) runEventLoop(ctx context.Context) {
	n.leader.Start()
	n.replica.Start()

	for {
		e, err := n.events.Pop(ctx)
		if err != nil {
			return
		}
		n.handleEvent(e)
	}
}

func (n *Node) handleEvent(e event) {
	if e.faulty != nil {
		n.leader.NotifyFault(e.faulty)
		n.replica.ResendProposals()
		return
	}

	n.logger.Debug("Handle message", zap.Stringer("message", e.msg))

	switch m := e.msg.(type) {
	case paxos.ReplicaMessage:
		n.replica.HandleMessage(m)
	case paxos.LeaderMessage:
		n.leader.HandleMessage(m)
	case paxos.AcceptorMessage:
		n.acceptor.HandleMessage(m)
	default:
		n.logger.Warn("Dropped message without a role", zap.Stringer("message", e.msg))
	}
}

// Send never blocks, messages to this node itself go straight to the event queue
func (n *Node) Send(to paxos.NodeID, msg paxos.Message) {
	if to == n.id {
		n.events.Push(event{msg: msg})
		return
	}

	p, ok := n.peers[to]
	if !ok {
		n.logger.Warn("Send to unknown node", zap.Int("to", int(to)), zap.Stringer("message", msg))
		return
	}
	p.outbox.Push(msg)
}

// ----------------------------------------------------------
// Connections
// ----------------------------------------------------------

func (n *Node) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			n.logger.Warn("Accept failed", zap.Error(err))
			continue
		}

		if !n.trackConn(conn) {
			_ = conn.Close()
			return
		}

		n.wg.Go(func() {
			defer n.untrackConn(conn)
			n.handleConn(ctx, conn)
		})
	}
}

func (n *Node) trackConn(conn net.Conn) bool {
	n.connMut.Lock()
	defer n.connMut.Unlock()

	if n.closed {
		return false
	}
	n.conns[conn] = struct{}{}
	return true
}

func (n *Node) untrackConn(conn net.Conn) {
	n.connMut.Lock()
	delete(n.conns, conn)
	n.connMut.Unlock()

	_ = conn.Close()
}

func (n *Node) closeConnections() {
	n.connMut.Lock()
	defer n.connMut.Unlock()

	n.closed = true
	for conn := range n.conns {
		_ = conn.Close()
	}
}
