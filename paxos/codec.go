package paxos

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedMessage = errors.New("malformed message")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

// splitTokens splits on single spaces so that values keep their inner spacing
func splitTokens(line string) []string {
	return strings.Split(strings.TrimRight(line, "\r\n"), " ")
}

// ParseMessage parses one line of the node-to-node protocol
func ParseMessage(line string) (Message, error) {
	parts := splitTokens(line)

	switch parts[0] {
	case "node":
		if len(parts) != 2 {
			return nil, malformed("node: %q", line)
		}
		id, err := parseNodeID(parts[1])
		if err != nil {
			return nil, err
		}
		return NodeHello{From: id}, nil

	case "ping":
		if len(parts) != 1 {
			return nil, malformed("ping: %q", line)
		}
		return PingMessage{}, nil

	case "pong":
		if len(parts) != 1 {
			return nil, malformed("pong: %q", line)
		}
		return PongMessage{}, nil

	case "propose":
		if len(parts) < 4 {
			return nil, malformed("propose: %q", line)
		}
		from, err := parseNodeID(parts[1])
		if err != nil {
			return nil, err
		}
		slot, err := parseSlot(parts[2])
		if err != nil {
			return nil, err
		}
		cmd, err := parseCommand(parts[3:])
		if err != nil {
			return nil, err
		}
		return ProposeMessage{From: from, Slot: slot, Command: cmd}, nil

	case "p1a":
		if len(parts) != 3 {
			return nil, malformed("p1a: %q", line)
		}
		from, err := parseNodeID(parts[1])
		if err != nil {
			return nil, err
		}
		ballot, err := ParseBallot(parts[2])
		if err != nil {
			return nil, err
		}
		return PrepareRequest{From: from, Ballot: ballot}, nil

	case "p1b":
		return parsePrepareResponse(parts, line)

	case "p2a":
		if len(parts) < 5 {
			return nil, malformed("p2a: %q", line)
		}
		from, err := parseNodeID(parts[1])
		if err != nil {
			return nil, err
		}
		proposal, err := parseProposal(parts[2:])
		if err != nil {
			return nil, err
		}
		return AcceptRequest{From: from, Proposal: proposal}, nil

	case "p2b":
		if len(parts) < 6 {
			return nil, malformed("p2b: %q", line)
		}
		from, err := parseNodeID(parts[1])
		if err != nil {
			return nil, err
		}
		ballot, err := ParseBallot(parts[2])
		if err != nil {
			return nil, err
		}
		proposal, err := parseProposal(parts[3:])
		if err != nil {
			return nil, err
		}
		return AcceptResponse{From: from, Ballot: ballot, Proposal: proposal}, nil

	case "decision":
		if len(parts) < 3 {
			return nil, malformed("decision: %q", line)
		}
		slot, err := parseSlot(parts[1])
		if err != nil {
			return nil, err
		}
		cmd, err := parseCommand(parts[2:])
		if err != nil {
			return nil, err
		}
		return DecisionMessage{Slot: slot, Command: cmd}, nil

	case "slotout", "catchup":
		if len(parts) != 3 {
			return nil, malformed("%s: %q", parts[0], line)
		}
		from, err := parseNodeID(parts[1])
		if err != nil {
			return nil, err
		}
		slot, err := parseSlot(parts[2])
		if err != nil {
			return nil, err
		}
		if parts[0] == "slotout" {
			return SlotOutNotice{From: from, SlotOut: slot}, nil
		}
		return CatchUpRequest{From: from, SlotOut: slot}, nil

	default:
		return nil, malformed("unknown tag %q", parts[0])
	}
}

func parsePrepareResponse(parts []string, line string) (Message, error) {
	if len(parts) < 4 {
		return nil, malformed("p1b: %q", line)
	}

	from, err := parseNodeID(parts[1])
	if err != nil {
		return nil, err
	}
	requested, err := ParseBallot(parts[2])
	if err != nil {
		return nil, err
	}
	current, err := ParseBallot(parts[3])
	if err != nil {
		return nil, err
	}

	msg := PrepareResponse{
		From:      from,
		Requested: requested,
		Current:   current,
	}

	rest := parts[4:]
	for len(rest) > 0 {
		end := len(rest)
		for i, token := range rest {
			if token == pvalueDelimiter {
				end = i
				break
			}
		}

		proposal, err := parseProposal(rest[:end])
		if err != nil {
			return nil, err
		}
		msg.Accepted = append(msg.Accepted, proposal)

		if end == len(rest) {
			break
		}
		rest = rest[end+1:]
		if len(rest) == 0 {
			return nil, malformed("p1b trailing delimiter: %q", line)
		}
	}

	return msg, nil
}

// ParseClientCommand parses a line sent by a client: get <key>, set <key> <value...>, delete <key>, ping
func ParseClientCommand(line string, id CommandID) (Command, error) {
	parts := splitTokens(line)

	kind, ok := parseCommandKind(parts[0])
	if !ok {
		return Command{}, malformed("unknown client command %q", parts[0])
	}

	switch kind {
	case CommandPing:
		if len(parts) != 1 {
			return Command{}, malformed("ping: %q", line)
		}
		return NewPingCommand(id), nil

	case CommandSet:
		if len(parts) < 2 || parts[1] == "" {
			return Command{}, malformed("set: %q", line)
		}
		return NewSetCommand(id, parts[1], strings.Join(parts[2:], " ")), nil

	default:
		if len(parts) != 2 || parts[1] == "" {
			return Command{}, malformed("%s: %q", parts[0], line)
		}
		return Command{Kind: kind, ID: id, Key: parts[1]}, nil
	}
}

// ParseCommand parses the text produced by Command.String
func ParseCommand(s string) (Command, error) {
	return parseCommand(splitTokens(s))
}

func parseCommand(parts []string) (Command, error) {
	if len(parts) < 2 {
		return Command{}, malformed("command too short: %q", strings.Join(parts, " "))
	}

	kind, ok := parseCommandKind(parts[0])
	if !ok {
		return Command{}, malformed("unknown command %q", parts[0])
	}

	id, err := ParseCommandID(parts[1])
	if err != nil {
		return Command{}, err
	}

	switch kind {
	case CommandPing:
		if len(parts) != 2 {
			return Command{}, malformed("ping command: %q", strings.Join(parts, " "))
		}
		return NewPingCommand(id), nil

	case CommandSet:
		if len(parts) < 3 {
			return Command{}, malformed("set command: %q", strings.Join(parts, " "))
		}
		return NewSetCommand(id, parts[2], strings.Join(parts[3:], " ")), nil

	default:
		if len(parts) != 3 {
			return Command{}, malformed("%s command: %q", parts[0], strings.Join(parts, " "))
		}
		return Command{Kind: kind, ID: id, Key: parts[2]}, nil
	}
}

// ParseProposal parses the text produced by Proposal.String
func ParseProposal(s string) (Proposal, error) {
	return parseProposal(splitTokens(s))
}

func parseProposal(parts []string) (Proposal, error) {
	if len(parts) < 4 {
		return Proposal{}, malformed("proposal too short: %q", strings.Join(parts, " "))
	}

	ballot, err := ParseBallot(parts[0])
	if err != nil {
		return Proposal{}, err
	}
	slot, err := parseSlot(parts[1])
	if err != nil {
		return Proposal{}, err
	}
	cmd, err := parseCommand(parts[2:])
	if err != nil {
		return Proposal{}, err
	}

	return Proposal{
		Ballot:  ballot,
		Slot:    slot,
		Command: cmd,
	}, nil
}

func parseNodeID(s string) (NodeID, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, malformed("invalid node id %q", s)
	}
	return NodeID(n), nil
}

func parseSlot(s string) (SlotNum, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, malformed("invalid slot %q", s)
	}
	return SlotNum(n), nil
}
