package paxos

// commander runs phase 2 for a single proposal
type commander struct {
	proposal Proposal
	total    int
	waitFor  map[NodeID]struct{}
}

func newCommander(p Proposal, acceptorIDs []NodeID) *commander {
	waitFor := make(map[NodeID]struct{}, len(acceptorIDs))
	for _, id := range acceptorIDs {
		waitFor[id] = struct{}{}
	}

	return &commander{
		proposal: p,
		total:    len(acceptorIDs),
		waitFor:  waitFor,
	}
}

// handleResponse returns true when a majority of acceptors has accepted the proposal
func (c *commander) handleResponse(from NodeID) bool {
	if _, ok := c.waitFor[from]; !ok {
		return false
	}
	delete(c.waitFor, from)

	return IsMajority(c.total-len(c.waitFor), c.total)
}
