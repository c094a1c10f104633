package paxos

// BallotStore keeps the highest ballot this node has picked as a leader
type BallotStore interface {
	// LastBallot returns false when nothing was ever stored
	LastBallot() (Ballot, bool)
	SaveBallot(ballot Ballot) error
}

type AcceptorStore interface {
	// LastPromise returns false when nothing was ever stored
	LastPromise() (Ballot, bool)
	SavePromise(ballot Ballot) error

	// AcceptedProposals returns the recovered proposals, at most one per slot
	AcceptedProposals() []Proposal
	SaveAccepted(p Proposal) error

	// SaveCollected records that every proposal below slot is not needed anymore
	SaveCollected(slot SlotNum) error
	// CollectedSlot returns the highest collected slot, every replica has applied the slots below it
	CollectedSlot() SlotNum
}

type ReplicaStore interface {
	// Storage returns the recovered key-value map
	Storage() map[string]string

	// NextSlot returns the slot after the last applied mutation
	NextSlot() SlotNum
	CollectedSlot() SlotNum

	// SaveApplied must be durable before the client is answered
	SaveApplied(slot SlotNum, cmd Command) error
}

// NodeStore is everything a node keeps on disk
type NodeStore interface {
	BallotStore
	AcceptorStore
	ReplicaStore
}
