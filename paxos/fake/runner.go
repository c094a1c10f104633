package fake

import (
	"sync"

	"github.com/h0tk3y/dkvs/paxos"
)

type SentMessage struct {
	To  paxos.NodeID
	Msg paxos.Message
}

// SenderFake records every sent message
type SenderFake struct {
	mut  sync.Mutex
	sent []SentMessage
}

var _ paxos.Sender = &SenderFake{}

func (s *SenderFake) Send(to paxos.NodeID, msg paxos.Message) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.sent = append(s.sent, SentMessage{To: to, Msg: msg})
}

// Take returns the messages sent since the last call
func (s *SenderFake) Take() []SentMessage {
	s.mut.Lock()
	defer s.mut.Unlock()

	result := s.sent
	s.sent = nil
	return result
}

// TakeMessages is Take without the destinations, keeping one copy of each broadcast message
func (s *SenderFake) TakeMessages() []paxos.Message {
	var result []paxos.Message
	var last paxos.Message
	for i, m := range s.Take() {
		if i > 0 && isSameMessage(last, m.Msg) {
			continue
		}
		result = append(result, m.Msg)
		last = m.Msg
	}
	return result
}

func isSameMessage(a, b paxos.Message) bool {
	return a.String() == b.String()
}

type Reply struct {
	Client paxos.ClientID
	Text   string
}

// ReplierFake records every reply to clients
type ReplierFake struct {
	mut     sync.Mutex
	replies []Reply
}

var _ paxos.Replier = &ReplierFake{}

func (r *ReplierFake) Reply(client paxos.ClientID, text string) {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.replies = append(r.replies, Reply{Client: client, Text: text})
}

// Take returns the replies since the last call
func (r *ReplierFake) Take() []Reply {
	r.mut.Lock()
	defer r.mut.Unlock()

	result := r.replies
	r.replies = nil
	return result
}
