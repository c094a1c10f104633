package node

import (
	"bufio"
	"context"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/h0tk3y/dkvs/paxos"
	"github.com/h0tk3y/dkvs/queue"
)

type clientSession struct {
	id      paxos.ClientID
	replies *queue.Queue[string]
}

// serveClient handles a client connection whose first request line is already read
func (n *Node) serveClient(ctx context.Context, conn net.Conn, reader *bufio.Reader, first string) {
	s := &clientSession{
		id:      paxos.ClientID(n.nextClientID.Add(1)),
		replies: queue.New[string](),
	}
	logger := n.logger.With(zap.Int64("client", int64(s.id)))

	n.sessionMut.Lock()
	n.sessions[s.id] = s
	n.sessionMut.Unlock()

	defer func() {
		n.sessionMut.Lock()
		delete(n.sessions, s.id)
		n.sessionMut.Unlock()

		s.replies.Close()
	}()

	logger.Info("Client connected", zap.Stringer("remote", conn.RemoteAddr()))

	n.wg.Go(func() {
		n.runClientWriter(ctx, conn, s, logger)
	})

	var seq int64
	line := first
	for {
		seq++
		if !n.handleClientLine(s, line, seq, logger) {
			// a reply here could overtake the replies of earlier requests, the client sees the connection drop
			return
		}

		var err error
		line, err = readLine(reader)
		if err != nil {
			logger.Info("Client disconnected", zap.Error(err))
			return
		}
	}
}

// handleClientLine returns false for a malformed line, the session is closed then
func (n *Node) handleClientLine(s *clientSession, line string, seq int64, logger *zap.Logger) bool {
	id := paxos.CommandID{
		Node:   n.id,
		Client: s.id,
		Seq:    seq,
	}

	cmd, err := paxos.ParseClientCommand(line, id)
	if err != nil {
		logger.Warn("Closing client session on malformed request", zap.String("line", line), zap.Error(err))
		return false
	}

	logger.Debug("Received request", zap.Stringer("command", cmd))
	n.events.Push(event{msg: paxos.ClientRequest{Command: cmd}})
	return true
}

func (n *Node) runClientWriter(ctx context.Context, conn net.Conn, s *clientSession, logger *zap.Logger) {
	for {
		reply, err := s.replies.Pop(ctx)
		if err != nil {
			return
		}
		if _, err := io.WriteString(conn, reply+"\n"); err != nil {
			logger.Warn("Failed to write reply", zap.Error(err))
			return
		}
	}
}

// Reply queues a reply for a client connected to this node, replies to gone clients are dropped
func (n *Node) Reply(client paxos.ClientID, text string) {
	n.sessionMut.Lock()
	s, ok := n.sessions[client]
	n.sessionMut.Unlock()

	if !ok {
		n.logger.Debug("Dropped reply to disconnected client", zap.Int64("client", int64(client)))
		return
	}
	s.replies.Push(text)
}
