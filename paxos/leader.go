package paxos

import (
	"maps"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"
)

type Leader interface {
	// Start applies the startup policy, must be called once before any message
	Start()

	HandleMessage(msg LeaderMessage)

	// NotifyFault is called with the nodes the fault detector considers unreachable
	NotifyFault(nodes []NodeID)

	// Status is safe to call from any goroutine
	Status() LeaderStatus

	// CheckInvariant for testing only
	CheckInvariant()
}

type LeaderStatus struct {
	Ballot Ballot
	Active bool
}

// NullNodeID is a node id that may be absent
type NullNodeID struct {
	Valid bool
	ID    NodeID
}

type leaderImpl struct {
	id          NodeID
	designated  NodeID
	acceptorIDs []NodeID
	replicaIDs  []NodeID

	sender Sender
	store  BallotStore
	logger *zap.Logger

	ballot   Ballot
	active   bool
	maxRound BallotRound

	proposals  map[SlotNum]Command
	decided    map[SlotNum]Command
	scouts     map[Ballot]*scout
	commanders map[Proposal]*commander

	// the owner of the ballot that preempted this leader, retry after it is reported faulty
	waitFault NullNodeID

	status atomic.Pointer[LeaderStatus]
}

func NewLeader(
	id NodeID,
	designated NodeID,
	acceptorIDs []NodeID,
	replicaIDs []NodeID,
	sender Sender,
	store BallotStore,
	logger *zap.Logger,
) Leader {
	l := &leaderImpl{
		id:          id,
		designated:  designated,
		acceptorIDs: acceptorIDs,
		replicaIDs:  replicaIDs,

		sender: sender,
		store:  store,
		logger: logger.With(zap.Int("node", int(id)), zap.String("role", "leader")),

		ballot: Ballot{Round: -1, LeaderID: id},

		proposals:  map[SlotNum]Command{},
		decided:    map[SlotNum]Command{},
		scouts:     map[Ballot]*scout{},
		commanders: map[Proposal]*commander{},
	}
	l.publishStatus()
	return l
}

func (l *leaderImpl) Start() {
	defer l.publishStatus()

	last, found := l.store.LastBallot()
	if found {
		l.observe(last)
	}

	if l.id != l.designated {
		l.waitFault = NullNodeID{Valid: true, ID: l.designated}
		l.logger.Info("Leader started passive", zap.Int("waiting_for", int(l.designated)))
		return
	}

	if found {
		l.logger.Info("Designated leader restarted, running scout")
		l.startScout()
		return
	}

	l.ballot = InitialBallot(l.id)
	l.persistBallot(l.ballot)
	l.active = true

	l.logger.Info("Designated leader started active", zap.Stringer("ballot", l.ballot))
}

func (l *leaderImpl) HandleMessage(msg LeaderMessage) {
	switch m := msg.(type) {
	case ProposeMessage:
		l.handlePropose(m)
	case PrepareResponse:
		l.handlePrepareResponse(m)
	case AcceptResponse:
		l.handleAcceptResponse(m)
	default:
		AssertUnreachable(l.logger, msg)
	}
	l.publishStatus()
}

func (l *leaderImpl) NotifyFault(nodes []NodeID) {
	if !l.waitFault.Valid {
		return
	}
	if !slices.Contains(nodes, l.waitFault.ID) {
		return
	}

	l.logger.Info("Preempting node is faulty, retrying leadership",
		zap.Int("faulty", int(l.waitFault.ID)),
	)

	l.waitFault = NullNodeID{}
	if !l.active {
		l.startScout()
	}
	l.publishStatus()
}

func (l *leaderImpl) handlePropose(m ProposeMessage) {
	if cmd, ok := l.decided[m.Slot]; ok {
		// the replica has missed this decision
		l.sender.Send(m.From, DecisionMessage{
			Slot:    m.Slot,
			Command: cmd,
		})
		return
	}

	if _, existed := l.proposals[m.Slot]; existed {
		return
	}
	l.proposals[m.Slot] = m.Command

	if l.active {
		l.startCommander(Proposal{
			Ballot:  l.ballot,
			Slot:    m.Slot,
			Command: m.Command,
		})
	}
}

// ----------------------------------------------------------
// Phase 1
// ----------------------------------------------------------

func (l *leaderImpl) startScout() {
	l.ballot = l.nextBallot()
	l.active = false

	s := newScout(l.ballot, l.acceptorIDs)
	l.scouts[l.ballot] = s

	l.logger.Info("Scout started", zap.Stringer("ballot", l.ballot))

	broadcast(l.sender, l.acceptorIDs, PrepareRequest{
		From:   l.id,
		Ballot: l.ballot,
	})
}

func (l *leaderImpl) handlePrepareResponse(m PrepareResponse) {
	l.observe(m.Current)

	s, ok := l.scouts[m.Requested]
	if !ok {
		return
	}

	if m.Current != s.ballot {
		delete(l.scouts, s.ballot)
		l.preempted(m.Current)
		return
	}

	if !s.handleResponse(m.From, m.Accepted) {
		return
	}

	delete(l.scouts, s.ballot)
	l.adopted(s)
}

func (l *leaderImpl) adopted(s *scout) {
	if s.ballot != l.ballot {
		return
	}

	l.active = true
	l.waitFault = NullNodeID{}

	for slot, p := range s.pvalues {
		l.proposals[slot] = p.Command
	}

	l.logger.Info("Ballot adopted",
		zap.Stringer("ballot", l.ballot),
		zap.Int("recovered", len(s.pvalues)),
		zap.Int("pending", len(l.proposals)),
	)

	for _, slot := range slices.Sorted(maps.Keys(l.proposals)) {
		if _, ok := l.decided[slot]; ok {
			continue
		}
		l.startCommander(Proposal{
			Ballot:  l.ballot,
			Slot:    slot,
			Command: l.proposals[slot],
		})
	}
}

// ----------------------------------------------------------
// Phase 2
// ----------------------------------------------------------

func (l *leaderImpl) startCommander(p Proposal) {
	if _, existed := l.commanders[p]; existed {
		return
	}
	l.commanders[p] = newCommander(p, l.acceptorIDs)

	broadcast(l.sender, l.acceptorIDs, AcceptRequest{
		From:     l.id,
		Proposal: p,
	})
}

func (l *leaderImpl) handleAcceptResponse(m AcceptResponse) {
	l.observe(m.Ballot)

	c, ok := l.commanders[m.Proposal]
	if !ok {
		return
	}

	if m.Ballot != c.proposal.Ballot {
		delete(l.commanders, c.proposal)
		l.preempted(m.Ballot)
		return
	}

	if !c.handleResponse(m.From) {
		return
	}

	delete(l.commanders, c.proposal)
	l.decided[c.proposal.Slot] = c.proposal.Command

	l.logger.Debug("Slot decided", zap.Stringer("proposal", c.proposal))

	broadcast(l.sender, l.replicaIDs, DecisionMessage{
		Slot:    c.proposal.Slot,
		Command: c.proposal.Command,
	})
}

// ----------------------------------------------------------
// Preemption
// ----------------------------------------------------------

func (l *leaderImpl) preempted(b Ballot) {
	if !l.ballot.Less(b) {
		return
	}

	l.logger.Info("Leader preempted",
		zap.Stringer("ballot", l.ballot),
		zap.Stringer("by", b),
	)

	l.active = false
	l.ballot = l.nextBallot()

	if b.LeaderID == l.id {
		// a ballot of our own previous life
		l.waitFault = NullNodeID{}
		l.startScout()
		return
	}

	l.waitFault = NullNodeID{Valid: true, ID: b.LeaderID}
}

func (l *leaderImpl) observe(b Ballot) {
	if b.Round > l.maxRound {
		l.maxRound = b.Round
	}
}

func (l *leaderImpl) nextBallot() Ballot {
	l.maxRound++
	b := Ballot{
		Round:    l.maxRound,
		LeaderID: l.id,
	}
	l.persistBallot(b)
	return b
}

func (l *leaderImpl) persistBallot(b Ballot) {
	if err := l.store.SaveBallot(b); err != nil {
		l.logger.Fatal("Failed to persist ballot", zap.Stringer("ballot", b), zap.Error(err))
	}
}

func (l *leaderImpl) publishStatus() {
	l.status.Store(&LeaderStatus{
		Ballot: l.ballot,
		Active: l.active,
	})
}

func (l *leaderImpl) Status() LeaderStatus {
	return *l.status.Load()
}

func (l *leaderImpl) CheckInvariant() {
	AssertTrue(l.ballot.LeaderID == l.id)
	AssertTrue(l.ballot.Round <= l.maxRound || l.ballot.Round == -1)
	if l.active {
		AssertTrue(!l.waitFault.Valid)
	}
	for p, c := range l.commanders {
		AssertTrue(p == c.proposal)
	}
	for b, s := range l.scouts {
		AssertTrue(b == s.ballot)
	}
}
