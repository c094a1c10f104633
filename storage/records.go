package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/h0tk3y/dkvs/paxos"
)

// Record tags of the node log, one record per line
const (
	tagBallot   = "ballot"   // ballot <round_leader>, picked by the local leader
	tagPromise  = "promise"  // promise <round_leader>, adopted by the local acceptor
	tagAccept   = "accept"   // accept <round_leader> <slot> <command...>
	tagCollect  = "collect"  // collect <slot>
	tagDecision = "decision" // decision <slot> set|delete <command...>
)

func BallotRecord(b paxos.Ballot) string {
	return tagBallot + " " + b.String()
}

func PromiseRecord(b paxos.Ballot) string {
	return tagPromise + " " + b.String()
}

func AcceptRecord(p paxos.Proposal) string {
	return tagAccept + " " + p.String()
}

func CollectRecord(slot paxos.SlotNum) string {
	return fmt.Sprintf("%s %d", tagCollect, slot)
}

// AppliedRecord uses the same grammar as the decision message
func AppliedRecord(slot paxos.SlotNum, cmd paxos.Command) string {
	return paxos.DecisionMessage{Slot: slot, Command: cmd}.String()
}

type record struct {
	tag      string
	ballot   paxos.Ballot
	slot     paxos.SlotNum
	proposal paxos.Proposal
	command  paxos.Command
}

func parseRecord(line string) (record, error) {
	tag, rest, _ := strings.Cut(line, " ")

	switch tag {
	case tagBallot, tagPromise:
		b, err := paxos.ParseBallot(rest)
		if err != nil {
			return record{}, err
		}
		return record{tag: tag, ballot: b}, nil

	case tagAccept:
		p, err := paxos.ParseProposal(rest)
		if err != nil {
			return record{}, err
		}
		return record{tag: tag, proposal: p}, nil

	case tagCollect:
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return record{}, fmt.Errorf("%w: invalid collect record %q", paxos.ErrMalformedMessage, line)
		}
		return record{tag: tag, slot: paxos.SlotNum(n)}, nil

	case tagDecision:
		msg, err := paxos.ParseMessage(line)
		if err != nil {
			return record{}, err
		}
		decision := msg.(paxos.DecisionMessage)
		if !decision.Command.IsMutation() {
			return record{}, fmt.Errorf("%w: non mutating decision record %q", paxos.ErrMalformedMessage, line)
		}
		return record{tag: tag, slot: decision.Slot, command: decision.Command}, nil

	default:
		return record{}, fmt.Errorf("%w: unknown record %q", paxos.ErrMalformedMessage, line)
	}
}
