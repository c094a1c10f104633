package node

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/h0tk3y/dkvs/paxos"
	"github.com/h0tk3y/dkvs/queue"
)

type peerTarget struct {
	ID      paxos.NodeID
	Address string
}

func (t peerTarget) getKey() paxos.NodeID {
	return t.ID
}

// peer is the connection state of another node
type peer struct {
	id     paxos.NodeID
	outbox *queue.Queue[paxos.Message]

	ready    atomic.Bool // outbound connection established
	aliveOut atomic.Bool // something was written since the last idle check
	aliveIn  atomic.Bool // something was read since the last fault check
	faulty   atomic.Bool

	mut     sync.Mutex
	inbound net.Conn
}

func newPeer(id paxos.NodeID) *peer {
	return &peer{
		id:     id,
		outbox: queue.New[paxos.Message](),
	}
}

// setInbound replaces the inbound connection, the previous one is closed
func (p *peer) setInbound(conn net.Conn) {
	p.mut.Lock()
	defer p.mut.Unlock()

	if p.inbound != nil && p.inbound != conn {
		_ = p.inbound.Close()
	}
	p.inbound = conn
}

func (p *peer) closeInbound() {
	p.mut.Lock()
	defer p.mut.Unlock()

	if p.inbound != nil {
		_ = p.inbound.Close()
		p.inbound = nil
	}
}

func isPing(msg paxos.Message) bool {
	_, ok := msg.(paxos.PingMessage)
	return ok
}

// ----------------------------------------------------------
// Outbound
// ----------------------------------------------------------

// runPeerSender keeps a connection to the peer and drains its outbox until ctx is cancelled
func (n *Node) runPeerSender(ctx context.Context, target peerTarget) {
	p := n.peers[target.ID]
	logger := n.logger.With(zap.Int("peer", int(target.ID)))

	dialer := net.Dialer{Timeout: n.timeout}

	for ctx.Err() == nil {
		conn, err := dialer.DialContext(ctx, "tcp", target.Address)
		if err != nil {
			logger.Debug("Dial failed", zap.String("address", target.Address), zap.Error(err))
			if !sleepContext(ctx, n.retryInterval()) {
				return
			}
			continue
		}

		logger.Info("Connected to peer", zap.String("address", target.Address))
		n.speakToPeer(ctx, p, conn, logger)

		p.ready.Store(false)
		_ = conn.Close()
	}
}

func (n *Node) speakToPeer(ctx context.Context, p *peer, conn net.Conn, logger *zap.Logger) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	// pings queued while disconnected say nothing about the new connection
	p.outbox.RemoveIf(isPing)

	if err := n.writeLine(conn, paxos.NodeHello{From: n.id}); err != nil {
		logger.Warn("Handshake failed", zap.Error(err))
		return
	}
	p.ready.Store(true)

	for {
		msg, err := p.outbox.Pop(ctx)
		if err != nil {
			return
		}

		if err := n.writeLine(conn, msg); err != nil {
			p.outbox.PushFront(msg)
			if ctx.Err() == nil {
				logger.Warn("Connection to peer lost", zap.Error(err))
			}
			return
		}
		p.aliveOut.Store(true)

		logger.Debug("Sent message", zap.Stringer("message", msg))
	}
}

func (n *Node) writeLine(conn net.Conn, msg paxos.Message) error {
	if err := conn.SetWriteDeadline(time.Now().Add(n.timeout)); err != nil {
		return err
	}
	_, err := io.WriteString(conn, msg.String()+"\n")
	return err
}

func (n *Node) retryInterval() time.Duration {
	return max(n.timeout/4, 10*time.Millisecond)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// ----------------------------------------------------------
// Inbound
// ----------------------------------------------------------

// handleConn decides by the first line whether the connection comes from a node or a client
func (n *Node) handleConn(ctx context.Context, conn net.Conn) {
	reader := bufio.NewReader(conn)

	first, err := readLine(reader)
	if err != nil {
		return
	}

	if !strings.HasPrefix(first, "node ") {
		n.serveClient(ctx, conn, reader, first)
		return
	}

	msg, err := paxos.ParseMessage(first)
	if err != nil {
		n.logger.Warn("Malformed handshake", zap.String("line", first), zap.Error(err))
		return
	}
	n.servePeer(conn, reader, msg.(paxos.NodeHello).From)
}

func (n *Node) servePeer(conn net.Conn, reader *bufio.Reader, from paxos.NodeID) {
	p, ok := n.peers[from]
	if !ok {
		n.logger.Warn("Connection from unknown node", zap.Int("peer", int(from)))
		return
	}

	logger := n.logger.With(zap.Int("peer", int(from)))

	p.setInbound(conn)
	p.aliveIn.Store(true)
	logger.Info("Peer connected", zap.Stringer("remote", conn.RemoteAddr()))

	for {
		line, err := readLine(reader)
		if err != nil {
			logger.Info("Inbound connection closed", zap.Error(err))
			return
		}
		p.aliveIn.Store(true)

		msg, err := paxos.ParseMessage(line)
		if err != nil {
			logger.Warn("Dropped malformed line", zap.String("line", line), zap.Error(err))
			continue
		}

		logger.Debug("Received message", zap.Stringer("message", msg))

		switch msg.(type) {
		case paxos.PingMessage:
			p.outbox.Push(paxos.PongMessage{})
		case paxos.PongMessage:
		case paxos.NodeHello:
			logger.Warn("Unexpected handshake", zap.String("line", line))
		default:
			n.events.Push(event{msg: msg})
		}
	}
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
