package storage

import (
	"cmp"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/h0tk3y/dkvs/paxos"
)

// State is what a node log replays into
type State struct {
	ballot    paxos.Ballot
	hasBallot bool

	promise    paxos.Ballot
	hasPromise bool

	accepted  map[paxos.SlotNum]paxos.Proposal
	collected paxos.SlotNum

	storage  map[string]string
	nextSlot paxos.SlotNum
}

func newState() *State {
	return &State{
		accepted: map[paxos.SlotNum]paxos.Proposal{},
		storage:  map[string]string{},
	}
}

// Replay rebuilds the state from the log lines, oldest first.
// Malformed lines are skipped. Replaying the same lines always gives the same state.
func Replay(lines []string, logger *zap.Logger) *State {
	s := newState()

	records := make([]record, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		r, err := parseRecord(line)
		if err != nil {
			logger.Warn("Skipped malformed log record", zap.String("line", line), zap.Error(err))
			continue
		}
		records = append(records, r)
	}

	for _, r := range records {
		if r.tag != tagDecision {
			s.apply(r)
			continue
		}
		if r.slot >= s.nextSlot {
			s.nextSlot = r.slot + 1
		}
	}

	// newest record of each key wins
	seen := map[string]struct{}{}
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.tag != tagDecision {
			continue
		}

		key := r.command.Key
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		if r.command.Kind == paxos.CommandSet {
			s.storage[key] = r.command.Value
		}
	}

	return s
}

// Apply updates the state with a record appended after the replay
func (s *State) Apply(line string) error {
	r, err := parseRecord(line)
	if err != nil {
		return err
	}
	s.apply(r)
	return nil
}

func (s *State) apply(r record) {
	switch r.tag {
	case tagBallot:
		if !s.hasBallot || s.ballot.Less(r.ballot) {
			s.ballot = r.ballot
			s.hasBallot = true
		}

	case tagPromise:
		if !s.hasPromise || s.promise.Less(r.ballot) {
			s.promise = r.ballot
			s.hasPromise = true
		}

	case tagAccept:
		p := r.proposal
		if p.Slot < s.collected {
			return
		}
		prev, ok := s.accepted[p.Slot]
		if ok && p.Ballot.Less(prev.Ballot) {
			return
		}
		s.accepted[p.Slot] = p

	case tagCollect:
		if r.slot <= s.collected {
			return
		}
		s.collected = r.slot
		for slot := range s.accepted {
			if slot < r.slot {
				delete(s.accepted, slot)
			}
		}

	case tagDecision:
		switch r.command.Kind {
		case paxos.CommandSet:
			s.storage[r.command.Key] = r.command.Value
		case paxos.CommandDelete:
			delete(s.storage, r.command.Key)
		default:
		}
		if r.slot >= s.nextSlot {
			s.nextSlot = r.slot + 1
		}
	}
}

func (s *State) LastBallot() (paxos.Ballot, bool) {
	return s.ballot, s.hasBallot
}

func (s *State) LastPromise() (paxos.Ballot, bool) {
	return s.promise, s.hasPromise
}

func (s *State) AcceptedProposals() []paxos.Proposal {
	result := slices.Collect(maps.Values(s.accepted))
	slices.SortFunc(result, func(a, b paxos.Proposal) int {
		return cmp.Compare(a.Slot, b.Slot)
	})
	return result
}

func (s *State) Storage() map[string]string {
	return maps.Clone(s.storage)
}

func (s *State) NextSlot() paxos.SlotNum {
	return s.nextSlot
}

func (s *State) CollectedSlot() paxos.SlotNum {
	return s.collected
}
