package paxos_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/h0tk3y/dkvs/paxos"
)

var (
	cmdID1 = CommandID{Node: 1, Client: 10, Seq: 1}
	cmdID2 = CommandID{Node: 2, Client: 20, Seq: 5}

	ballot21 = Ballot{Round: 2, LeaderID: 1}
	ballot32 = Ballot{Round: 3, LeaderID: 2}
)

func TestParseMessage__Round_Trip(t *testing.T) {
	setCmd := NewSetCommand(cmdID1, "key", "some  spaced value")
	delCmd := NewDeleteCommand(cmdID2, "other")

	tests := []struct {
		line string
		msg  Message
	}{
		{line: "node 3", msg: NodeHello{From: 3}},
		{line: "ping", msg: PingMessage{}},
		{line: "pong", msg: PongMessage{}},
		{
			line: "propose 2 7 set 1.10.1 key some  spaced value",
			msg:  ProposeMessage{From: 2, Slot: 7, Command: setCmd},
		},
		{line: "p1a 1 2_1", msg: PrepareRequest{From: 1, Ballot: ballot21}},
		{
			line: "p1b 3 2_1 3_2",
			msg:  PrepareResponse{From: 3, Requested: ballot21, Current: ballot32},
		},
		{
			line: "p1b 3 3_2 3_2 2_1 4 delete 2.20.5 other",
			msg: PrepareResponse{
				From: 3, Requested: ballot32, Current: ballot32,
				Accepted: []Proposal{{Ballot: ballot21, Slot: 4, Command: delCmd}},
			},
		},
		{
			line: "p1b 3 3_2 3_2 2_1 4 delete 2.20.5 other || 3_2 5 set 1.10.1 key some  spaced value",
			msg: PrepareResponse{
				From: 3, Requested: ballot32, Current: ballot32,
				Accepted: []Proposal{
					{Ballot: ballot21, Slot: 4, Command: delCmd},
					{Ballot: ballot32, Slot: 5, Command: setCmd},
				},
			},
		},
		{
			line: "p2a 2 3_2 5 set 1.10.1 key some  spaced value",
			msg:  AcceptRequest{From: 2, Proposal: Proposal{Ballot: ballot32, Slot: 5, Command: setCmd}},
		},
		{
			line: "p2b 1 3_2 2_1 4 delete 2.20.5 other",
			msg: AcceptResponse{
				From: 1, Ballot: ballot32,
				Proposal: Proposal{Ballot: ballot21, Slot: 4, Command: delCmd},
			},
		},
		{
			line: "decision 0 get 1.10.1 key",
			msg:  DecisionMessage{Slot: 0, Command: NewGetCommand(cmdID1, "key")},
		},
		{
			line: "decision 9 ping 1.10.1",
			msg:  DecisionMessage{Slot: 9, Command: NewPingCommand(cmdID1)},
		},
		{line: "slotout 2 11", msg: SlotOutNotice{From: 2, SlotOut: 11}},
		{line: "catchup 3 4", msg: CatchUpRequest{From: 3, SlotOut: 4}},
	}

	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			assert.Equal(t, tc.line, tc.msg.String())

			msg, err := ParseMessage(tc.line)
			assert.Equal(t, nil, err)
			assert.Equal(t, tc.msg, msg)
		})
	}
}

func TestParseMessage__Trailing_Newline(t *testing.T) {
	msg, err := ParseMessage("p1a 1 2_1\r\n")
	assert.Equal(t, nil, err)
	assert.Equal(t, PrepareRequest{From: 1, Ballot: ballot21}, msg)
}

func TestParseMessage__Set_Empty_Value(t *testing.T) {
	cmd := NewSetCommand(cmdID1, "key", "")

	msg, err := ParseMessage(DecisionMessage{Slot: 1, Command: cmd}.String())
	assert.Equal(t, nil, err)
	assert.Equal(t, DecisionMessage{Slot: 1, Command: cmd}, msg)
}

func TestParseMessage__Malformed(t *testing.T) {
	lines := []string{
		"",
		"hello 1",
		"node",
		"node x",
		"ping 1",
		"p1a 1",
		"p1a 1 2-1",
		"p1b 3 3_2",
		"p1b 3 3_2 3_2 2_1 4 delete 2.20.5 other ||",
		"p1b 3 3_2 3_2 2_1 4",
		"p2a 2 3_2 -5 get 1.1.1 k",
		"p2b 1 3_2 2_1 4 get 1.1.1",
		"decision 1 unknown 1.1.1 k",
		"decision 1 get 1.1 k",
		"decision 1 ping 1.1.1 extra",
		"slotout 2",
		"catchup 3 4 5",
	}

	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			_, err := ParseMessage(line)
			assert.True(t, errors.Is(err, ErrMalformedMessage), err)
		})
	}
}

func TestParseClientCommand(t *testing.T) {
	id := CommandID{Node: 1, Client: 2, Seq: 3}

	tests := []struct {
		line string
		cmd  Command
	}{
		{line: "get a", cmd: NewGetCommand(id, "a")},
		{line: "set a hello world", cmd: NewSetCommand(id, "a", "hello world")},
		{line: "set a", cmd: NewSetCommand(id, "a", "")},
		{line: "delete a", cmd: NewDeleteCommand(id, "a")},
		{line: "ping", cmd: NewPingCommand(id)},
		{line: "get a\n", cmd: NewGetCommand(id, "a")},
	}

	for _, tc := range tests {
		cmd, err := ParseClientCommand(tc.line, id)
		assert.Equal(t, nil, err, tc.line)
		assert.Equal(t, tc.cmd, cmd, tc.line)
	}

	for _, line := range []string{"", "get", "get a b", "delete", "ping x", "sleep 100", "set"} {
		_, err := ParseClientCommand(line, id)
		assert.True(t, errors.Is(err, ErrMalformedMessage), line)
	}
}

func TestParseProposal(t *testing.T) {
	p := Proposal{
		Ballot:  ballot32,
		Slot:    12,
		Command: NewSetCommand(cmdID2, "k", " leading space"),
	}

	parsed, err := ParseProposal(p.String())
	assert.Equal(t, nil, err)
	assert.Equal(t, p, parsed)

	cmd, err := ParseCommand(p.Command.String())
	assert.Equal(t, nil, err)
	assert.Equal(t, p.Command, cmd)
}
