package paxos

// scout runs phase 1 for a single ballot
type scout struct {
	ballot  Ballot
	total   int
	waitFor map[NodeID]struct{}
	pvalues map[SlotNum]Proposal
}

func newScout(ballot Ballot, acceptorIDs []NodeID) *scout {
	waitFor := make(map[NodeID]struct{}, len(acceptorIDs))
	for _, id := range acceptorIDs {
		waitFor[id] = struct{}{}
	}

	return &scout{
		ballot:  ballot,
		total:   len(acceptorIDs),
		waitFor: waitFor,
		pvalues: map[SlotNum]Proposal{},
	}
}

// handleResponse returns true when a majority of acceptors has promised the ballot
func (s *scout) handleResponse(from NodeID, accepted []Proposal) bool {
	if _, ok := s.waitFor[from]; !ok {
		return false
	}
	delete(s.waitFor, from)

	for _, p := range accepted {
		prev, existed := s.pvalues[p.Slot]
		if existed && !prev.Ballot.Less(p.Ballot) {
			continue
		}
		s.pvalues[p.Slot] = p
	}

	return IsMajority(s.total-len(s.waitFor), s.total)
}
