package paxos

import (
	"cmp"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"
)

type Acceptor interface {
	HandleMessage(msg AcceptorMessage)

	// CurrentBallot is safe to call from any goroutine
	CurrentBallot() Ballot

	// Accepted for testing only, sorted by slot
	Accepted() []Proposal

	// CheckInvariant for testing only
	CheckInvariant()
}

type acceptorImpl struct {
	id         NodeID
	replicaIDs []NodeID

	sender Sender
	store  AcceptorStore
	logger *zap.Logger

	ballot        Ballot
	publicBallot  atomic.Pointer[Ballot]
	accepted      map[SlotNum]Proposal
	replicaSlots  map[NodeID]SlotNum
	collectedSlot SlotNum
}

func NewAcceptor(
	id NodeID,
	replicaIDs []NodeID,
	sender Sender,
	store AcceptorStore,
	logger *zap.Logger,
) Acceptor {
	a := &acceptorImpl{
		id:         id,
		replicaIDs: replicaIDs,

		sender: sender,
		store:  store,
		logger: logger.With(zap.Int("node", int(id)), zap.String("role", "acceptor")),

		accepted:     map[SlotNum]Proposal{},
		replicaSlots: map[NodeID]SlotNum{},
	}

	if ballot, ok := store.LastPromise(); ok {
		a.ballot = ballot
	}
	a.publishBallot()

	a.collectedSlot = store.CollectedSlot()
	for _, p := range store.AcceptedProposals() {
		if p.Slot < a.collectedSlot {
			continue
		}
		prev, existed := a.accepted[p.Slot]
		if existed && p.Ballot.Less(prev.Ballot) {
			continue
		}
		a.accepted[p.Slot] = p
	}

	a.logger.Info("Acceptor recovered",
		zap.Stringer("ballot", a.ballot),
		zap.Int("accepted", len(a.accepted)),
		zap.Int64("collected", int64(a.collectedSlot)),
	)

	return a
}

func (a *acceptorImpl) HandleMessage(msg AcceptorMessage) {
	switch m := msg.(type) {
	case PrepareRequest:
		a.handlePrepare(m)
	case AcceptRequest:
		a.handleAccept(m)
	case SlotOutNotice:
		a.handleSlotOut(m)
	default:
		AssertUnreachable(a.logger, msg)
	}
}

func (a *acceptorImpl) handlePrepare(m PrepareRequest) {
	a.updateBallot(m.Ballot)

	a.sender.Send(m.From, PrepareResponse{
		From:      a.id,
		Requested: m.Ballot,
		Current:   a.ballot,
		Accepted:  a.Accepted(),
	})
}

func (a *acceptorImpl) handleAccept(m AcceptRequest) {
	p := m.Proposal

	if p.Slot < a.collectedSlot {
		// every replica has applied this slot, a stale commander must not win it again
		a.logger.Debug("Ignored accept request for collected slot", zap.Stringer("proposal", p))
		return
	}

	a.updateBallot(p.Ballot)

	if p.Ballot == a.ballot {
		if err := a.store.SaveAccepted(p); err != nil {
			a.logger.Fatal("Failed to persist accepted proposal", zap.Stringer("proposal", p), zap.Error(err))
		}
		a.accepted[p.Slot] = p
	}

	a.sender.Send(m.From, AcceptResponse{
		From:     a.id,
		Ballot:   a.ballot,
		Proposal: p,
	})
}

// updateBallot adopts a strictly greater ballot, durably
func (a *acceptorImpl) updateBallot(ballot Ballot) {
	if !a.ballot.Less(ballot) {
		return
	}

	if err := a.store.SavePromise(ballot); err != nil {
		a.logger.Fatal("Failed to persist ballot", zap.Stringer("ballot", ballot), zap.Error(err))
	}
	a.ballot = ballot
	a.publishBallot()

	a.logger.Debug("Adopted ballot", zap.Stringer("ballot", ballot))
}

func (a *acceptorImpl) handleSlotOut(m SlotOutNotice) {
	if m.SlotOut <= a.replicaSlots[m.From] {
		return
	}
	a.replicaSlots[m.From] = m.SlotOut

	minSlot := a.minReplicaSlot()
	if minSlot <= a.collectedSlot {
		return
	}

	if err := a.store.SaveCollected(minSlot); err != nil {
		a.logger.Fatal("Failed to persist collected slot", zap.Int64("slot", int64(minSlot)), zap.Error(err))
	}
	a.collectedSlot = minSlot

	for slot := range a.accepted {
		if slot < minSlot {
			delete(a.accepted, slot)
		}
	}

	a.logger.Debug("Collected accepted proposals", zap.Int64("below", int64(minSlot)))
}

func (a *acceptorImpl) minReplicaSlot() SlotNum {
	var result SlotNum
	for i, id := range a.replicaIDs {
		slot := a.replicaSlots[id]
		if i == 0 || slot < result {
			result = slot
		}
	}
	return result
}

func (a *acceptorImpl) publishBallot() {
	b := a.ballot
	a.publicBallot.Store(&b)
}

func (a *acceptorImpl) CurrentBallot() Ballot {
	return *a.publicBallot.Load()
}

func (a *acceptorImpl) Accepted() []Proposal {
	result := make([]Proposal, 0, len(a.accepted))
	for _, p := range a.accepted {
		result = append(result, p)
	}
	slices.SortFunc(result, func(x, y Proposal) int {
		return cmp.Compare(x.Slot, y.Slot)
	})
	return result
}

func (a *acceptorImpl) CheckInvariant() {
	for slot, p := range a.accepted {
		AssertTrue(slot == p.Slot)
		AssertTrue(slot >= a.collectedSlot)
		AssertTrue(CompareBallot(p.Ballot, a.ballot) <= 0)
	}
}
