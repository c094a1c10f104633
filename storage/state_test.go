package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/h0tk3y/dkvs/paxos"
)

func cmdID(seq int64) paxos.CommandID {
	return paxos.CommandID{Node: 1, Client: 4, Seq: seq}
}

func TestReplay__Newest_Record_Of_Key_Wins(t *testing.T) {
	lines := []string{
		AppliedRecord(0, paxos.NewSetCommand(cmdID(1), "a", "1")),
		AppliedRecord(1, paxos.NewSetCommand(cmdID(2), "a", "2")),
		AppliedRecord(2, paxos.NewDeleteCommand(cmdID(3), "a")),
		AppliedRecord(3, paxos.NewSetCommand(cmdID(4), "a", "3")),
		AppliedRecord(4, paxos.NewSetCommand(cmdID(5), "b", "x")),
		AppliedRecord(5, paxos.NewDeleteCommand(cmdID(6), "b")),
	}

	s := Replay(lines, zap.NewNop())
	assert.Equal(t, map[string]string{"a": "3"}, s.Storage())
	assert.Equal(t, paxos.SlotNum(6), s.NextSlot())

	// same lines, same state
	again := Replay(lines, zap.NewNop())
	assert.Equal(t, s, again)
}

func TestReplay__Ballots_And_Promises(t *testing.T) {
	s := Replay(nil, zap.NewNop())
	_, ok := s.LastBallot()
	assert.Equal(t, false, ok)
	_, ok = s.LastPromise()
	assert.Equal(t, false, ok)

	s = Replay([]string{
		BallotRecord(paxos.Ballot{Round: 0, LeaderID: 1}),
		PromiseRecord(paxos.Ballot{Round: 3, LeaderID: 2}),
		BallotRecord(paxos.Ballot{Round: 4, LeaderID: 1}),
		PromiseRecord(paxos.Ballot{Round: 2, LeaderID: 3}),
	}, zap.NewNop())

	b, ok := s.LastBallot()
	assert.Equal(t, true, ok)
	assert.Equal(t, paxos.Ballot{Round: 4, LeaderID: 1}, b)

	b, ok = s.LastPromise()
	assert.Equal(t, true, ok)
	assert.Equal(t, paxos.Ballot{Round: 3, LeaderID: 2}, b)
}

func TestReplay__Accepted_And_Collected(t *testing.T) {
	b1 := paxos.Ballot{Round: 1, LeaderID: 1}
	b2 := paxos.Ballot{Round: 2, LeaderID: 2}

	p0 := paxos.Proposal{Ballot: b1, Slot: 0, Command: paxos.NewSetCommand(cmdID(1), "a", "1")}
	p1 := paxos.Proposal{Ballot: b2, Slot: 1, Command: paxos.NewSetCommand(cmdID(2), "a", "2")}
	p1Old := paxos.Proposal{Ballot: b1, Slot: 1, Command: paxos.NewGetCommand(cmdID(3), "a")}
	p2 := paxos.Proposal{Ballot: b2, Slot: 2, Command: paxos.NewDeleteCommand(cmdID(4), "a")}

	s := Replay([]string{
		AcceptRecord(p0),
		AcceptRecord(p1),
		AcceptRecord(p1Old),
		AcceptRecord(p2),
	}, zap.NewNop())
	assert.Equal(t, []paxos.Proposal{p0, p1, p2}, s.AcceptedProposals())

	s = Replay([]string{
		AcceptRecord(p0),
		AcceptRecord(p1),
		CollectRecord(2),
		AcceptRecord(p0),
		AcceptRecord(p2),
		CollectRecord(1),
	}, zap.NewNop())
	assert.Equal(t, []paxos.Proposal{p2}, s.AcceptedProposals())
}

func TestReplay__Malformed_Lines_Skipped(t *testing.T) {
	s := Replay([]string{
		"",
		"ballot x_y",
		"accept 1_1 bad",
		"collect -",
		"something else",
		AppliedRecord(0, paxos.NewSetCommand(cmdID(1), "a", "1")),
	}, zap.NewNop())

	assert.Equal(t, map[string]string{"a": "1"}, s.Storage())
	assert.Equal(t, paxos.SlotNum(1), s.NextSlot())
	_, ok := s.LastBallot()
	assert.Equal(t, false, ok)
}

func TestState_Apply(t *testing.T) {
	s := Replay(nil, zap.NewNop())

	assert.Equal(t, nil, s.Apply(AppliedRecord(3, paxos.NewSetCommand(cmdID(1), "k", "v"))))
	assert.Equal(t, nil, s.Apply(AppliedRecord(4, paxos.NewSetCommand(cmdID(2), "k2", "v2"))))
	assert.Equal(t, nil, s.Apply(AppliedRecord(5, paxos.NewDeleteCommand(cmdID(3), "k"))))

	assert.Equal(t, map[string]string{"k2": "v2"}, s.Storage())
	assert.Equal(t, paxos.SlotNum(6), s.NextSlot())

	err := s.Apply("nonsense")
	assert.ErrorIs(t, err, paxos.ErrMalformedMessage)
}
