package paxos

import (
	"fmt"
	"strings"
)

// Message is anything that travels between nodes, one line per message
type Message interface {
	fmt.Stringer
}

// AcceptorMessage is a message handled by the Acceptor role
type AcceptorMessage interface {
	Message
	acceptorMessage()
}

// LeaderMessage is a message handled by the Leader role
type LeaderMessage interface {
	Message
	leaderMessage()
}

// ReplicaMessage is a message handled by the Replica role
type ReplicaMessage interface {
	Message
	replicaMessage()
}

// ----------------------------------------------------------
// Connection level messages
// ----------------------------------------------------------

// NodeHello is the identity handshake, the first line of a node connection
type NodeHello struct {
	From NodeID
}

func (m NodeHello) String() string {
	return fmt.Sprintf("node %d", m.From)
}

type PingMessage struct{}

func (PingMessage) String() string { return "ping" }

type PongMessage struct{}

func (PongMessage) String() string { return "pong" }

// ----------------------------------------------------------
// Acceptor messages
// ----------------------------------------------------------

// PrepareRequest is p1a
type PrepareRequest struct {
	From   NodeID
	Ballot Ballot
}

func (m PrepareRequest) String() string {
	return fmt.Sprintf("p1a %d %s", m.From, m.Ballot)
}

// AcceptRequest is p2a
type AcceptRequest struct {
	From     NodeID
	Proposal Proposal
}

func (m AcceptRequest) String() string {
	return fmt.Sprintf("p2a %d %s", m.From, m.Proposal)
}

// SlotOutNotice advertises the apply cursor of a replica
type SlotOutNotice struct {
	From    NodeID
	SlotOut SlotNum
}

func (m SlotOutNotice) String() string {
	return fmt.Sprintf("slotout %d %d", m.From, m.SlotOut)
}

func (PrepareRequest) acceptorMessage() {}
func (AcceptRequest) acceptorMessage()  {}
func (SlotOutNotice) acceptorMessage()  {}

// ----------------------------------------------------------
// Leader messages
// ----------------------------------------------------------

type ProposeMessage struct {
	From    NodeID
	Slot    SlotNum
	Command Command
}

func (m ProposeMessage) String() string {
	return fmt.Sprintf("propose %d %d %s", m.From, m.Slot, m.Command)
}

// PrepareResponse is p1b
type PrepareResponse struct {
	From      NodeID
	Requested Ballot
	Current   Ballot
	Accepted  []Proposal
}

const pvalueDelimiter = "||"

func (m PrepareResponse) String() string {
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "p1b %d %s %s", m.From, m.Requested, m.Current)
	for i, p := range m.Accepted {
		if i > 0 {
			b.WriteString(" " + pvalueDelimiter)
		}
		b.WriteString(" ")
		b.WriteString(p.String())
	}
	return b.String()
}

// AcceptResponse is p2b
type AcceptResponse struct {
	From     NodeID
	Ballot   Ballot // current ballot of the acceptor
	Proposal Proposal
}

func (m AcceptResponse) String() string {
	return fmt.Sprintf("p2b %d %s %s", m.From, m.Ballot, m.Proposal)
}

func (ProposeMessage) leaderMessage()  {}
func (PrepareResponse) leaderMessage() {}
func (AcceptResponse) leaderMessage()  {}

// ----------------------------------------------------------
// Replica messages
// ----------------------------------------------------------

type DecisionMessage struct {
	Slot    SlotNum
	Command Command
}

func (m DecisionMessage) String() string {
	return fmt.Sprintf("decision %d %s", m.Slot, m.Command)
}

// ClientRequest carries a command from a local client connection, never sent over the wire
type ClientRequest struct {
	Command Command
}

func (m ClientRequest) String() string {
	return fmt.Sprintf("request %s", m.Command)
}

// CatchUpRequest asks a replica to resend the decisions starting from SlotOut
type CatchUpRequest struct {
	From    NodeID
	SlotOut SlotNum
}

func (m CatchUpRequest) String() string {
	return fmt.Sprintf("catchup %d %d", m.From, m.SlotOut)
}

func (DecisionMessage) replicaMessage() {}
func (ClientRequest) replicaMessage()   {}
func (CatchUpRequest) replicaMessage()  {}
