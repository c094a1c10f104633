package fake

import (
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/h0tk3y/dkvs/paxos"
	"github.com/h0tk3y/dkvs/storage"
)

var ErrStoreFailed = errors.New("store failed")

// StoreFake is an in-memory node log, it keeps the records in the same format as the file log
type StoreFake struct {
	mut     sync.Mutex
	records []string
	state   *storage.State

	Fail bool
}

var _ paxos.NodeStore = &StoreFake{}

// NewStoreFake replays the records, used to restart a node from the log of its previous life
func NewStoreFake(records ...string) *StoreFake {
	return &StoreFake{
		records: slices.Clone(records),
		state:   storage.Replay(records, zap.NewNop()),
	}
}

func (s *StoreFake) append(record string) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.Fail {
		return ErrStoreFailed
	}

	if err := s.state.Apply(record); err != nil {
		return err
	}
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of every record appended so far
func (s *StoreFake) Records() []string {
	s.mut.Lock()
	defer s.mut.Unlock()
	return slices.Clone(s.records)
}

func (s *StoreFake) SaveBallot(ballot paxos.Ballot) error {
	return s.append(storage.BallotRecord(ballot))
}

func (s *StoreFake) SavePromise(ballot paxos.Ballot) error {
	return s.append(storage.PromiseRecord(ballot))
}

func (s *StoreFake) SaveAccepted(p paxos.Proposal) error {
	return s.append(storage.AcceptRecord(p))
}

func (s *StoreFake) SaveCollected(slot paxos.SlotNum) error {
	return s.append(storage.CollectRecord(slot))
}

func (s *StoreFake) SaveApplied(slot paxos.SlotNum, cmd paxos.Command) error {
	return s.append(storage.AppliedRecord(slot, cmd))
}

func (s *StoreFake) LastBallot() (paxos.Ballot, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.state.LastBallot()
}

func (s *StoreFake) LastPromise() (paxos.Ballot, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.state.LastPromise()
}

func (s *StoreFake) AcceptedProposals() []paxos.Proposal {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.state.AcceptedProposals()
}

func (s *StoreFake) Storage() map[string]string {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.state.Storage()
}

func (s *StoreFake) NextSlot() paxos.SlotNum {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.state.NextSlot()
}

func (s *StoreFake) CollectedSlot() paxos.SlotNum {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.state.CollectedSlot()
}
