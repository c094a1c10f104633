package paxos

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// ----------------------------------------------------------

type NodeID int

type ClientID int64

type SlotNum int64 // start from zero

type BallotRound int64

// ----------------------------------------------------------

// Ballot is ordered by (Round, LeaderID)
type Ballot struct {
	Round    BallotRound
	LeaderID NodeID
}

func (b Ballot) String() string {
	return fmt.Sprintf("%d_%d", b.Round, b.LeaderID)
}

func CompareBallot(a, b Ballot) int {
	if a.Round != b.Round {
		return cmp.Compare(a.Round, b.Round)
	}
	return cmp.Compare(a.LeaderID, b.LeaderID)
}

func (b Ballot) Less(other Ballot) bool {
	return CompareBallot(b, other) < 0
}

func ParseBallot(s string) (Ballot, error) {
	roundStr, leaderStr, ok := strings.Cut(s, "_")
	if !ok {
		return Ballot{}, fmt.Errorf("%w: invalid ballot %q", ErrMalformedMessage, s)
	}

	round, err := strconv.ParseInt(roundStr, 10, 64)
	if err != nil {
		return Ballot{}, fmt.Errorf("%w: invalid ballot round %q", ErrMalformedMessage, s)
	}
	leader, err := strconv.Atoi(leaderStr)
	if err != nil {
		return Ballot{}, fmt.Errorf("%w: invalid ballot leader %q", ErrMalformedMessage, s)
	}

	return Ballot{
		Round:    BallotRound(round),
		LeaderID: NodeID(leader),
	}, nil
}

// InitialBallot is owned by the designated node, it is lower than any ballot a scout can pick
func InitialBallot(designated NodeID) Ballot {
	return Ballot{
		Round:    0,
		LeaderID: designated,
	}
}

// ----------------------------------------------------------

type CommandKind int

const (
	CommandGet CommandKind = iota + 1
	CommandSet
	CommandDelete
	CommandPing
)

func (k CommandKind) String() string {
	switch k {
	case CommandGet:
		return "get"
	case CommandSet:
		return "set"
	case CommandDelete:
		return "delete"
	case CommandPing:
		return "ping"
	default:
		return "unknown"
	}
}

func parseCommandKind(s string) (CommandKind, bool) {
	switch s {
	case "get":
		return CommandGet, true
	case "set":
		return CommandSet, true
	case "delete":
		return CommandDelete, true
	case "ping":
		return CommandPing, true
	default:
		return 0, false
	}
}

// CommandID identifies a client request across the whole cluster
type CommandID struct {
	Node   NodeID   // node that received the request
	Client ClientID // connection on that node
	Seq    int64    // request number on that connection
}

func (id CommandID) String() string {
	return fmt.Sprintf("%d.%d.%d", id.Node, id.Client, id.Seq)
}

func ParseCommandID(s string) (CommandID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return CommandID{}, fmt.Errorf("%w: invalid command id %q", ErrMalformedMessage, s)
	}

	var nums [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return CommandID{}, fmt.Errorf("%w: invalid command id %q", ErrMalformedMessage, s)
		}
		nums[i] = n
	}

	return CommandID{
		Node:   NodeID(nums[0]),
		Client: ClientID(nums[1]),
		Seq:    nums[2],
	}, nil
}

// Command is a client operation. It is comparable and used as a map key.
type Command struct {
	Kind  CommandKind
	ID    CommandID
	Key   string
	Value string // only for CommandSet
}

func NewGetCommand(id CommandID, key string) Command {
	return Command{Kind: CommandGet, ID: id, Key: key}
}

func NewSetCommand(id CommandID, key string, value string) Command {
	return Command{Kind: CommandSet, ID: id, Key: key, Value: value}
}

func NewDeleteCommand(id CommandID, key string) Command {
	return Command{Kind: CommandDelete, ID: id, Key: key}
}

func NewPingCommand(id CommandID) Command {
	return Command{Kind: CommandPing, ID: id}
}

// IsMutation reports whether applying the command changes the key-value map
func (c Command) IsMutation() bool {
	return c.Kind == CommandSet || c.Kind == CommandDelete
}

func (c Command) String() string {
	switch c.Kind {
	case CommandSet:
		return fmt.Sprintf("set %s %s %s", c.ID, c.Key, c.Value)
	case CommandPing:
		return fmt.Sprintf("ping %s", c.ID)
	default:
		return fmt.Sprintf("%s %s %s", c.Kind, c.ID, c.Key)
	}
}

// ----------------------------------------------------------

// Proposal is a pvalue: ballot B proposed that slot S holds command C
type Proposal struct {
	Ballot  Ballot
	Slot    SlotNum
	Command Command
}

func (p Proposal) String() string {
	return fmt.Sprintf("%s %d %s", p.Ballot, p.Slot, p.Command)
}

// ----------------------------------------------------------

// IsMajority reports whether count is a strict majority of total
func IsMajority(count int, total int) bool {
	return count*2 > total
}
