package paxos

import (
	"maps"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"
)

type Replica interface {
	// Start asks the other replicas for the decisions this node has missed
	Start()

	HandleMessage(msg ReplicaMessage)

	// ResendProposals sends every undecided proposal to all leaders again
	ResendProposals()

	// Status is safe to call from any goroutine
	Status() ReplicaStatus

	// Snapshot must be called from the goroutine handling messages
	Snapshot() map[string]string

	// CheckInvariant for testing only
	CheckInvariant()
}

type ReplicaStatus struct {
	SlotIn  SlotNum
	SlotOut SlotNum
}

type clientKey struct {
	node   NodeID
	client ClientID
}

func clientOf(cmd Command) clientKey {
	return clientKey{node: cmd.ID.Node, client: cmd.ID.Client}
}

type replicaImpl struct {
	id          NodeID
	leaderIDs   []NodeID
	acceptorIDs []NodeID
	replicaIDs  []NodeID

	sender  Sender
	replier Replier
	store   ReplicaStore
	logger  *zap.Logger

	slotIn  SlotNum
	slotOut SlotNum

	requests  []Command
	proposals map[SlotNum]Command
	inFlight  map[clientKey]CommandID // one undecided proposal per client keeps its requests in order
	decisions map[SlotNum]Command
	applied   map[CommandID]struct{}
	awaiting  map[CommandID]struct{}

	state map[string]string

	status atomic.Pointer[ReplicaStatus]
}

func NewReplica(
	id NodeID,
	nodeIDs []NodeID,
	sender Sender,
	replier Replier,
	store ReplicaStore,
	logger *zap.Logger,
) Replica {
	r := &replicaImpl{
		id:          id,
		leaderIDs:   nodeIDs,
		acceptorIDs: nodeIDs,
		replicaIDs:  nodeIDs,

		sender:  sender,
		replier: replier,
		store:   store,
		logger:  logger.With(zap.Int("node", int(id)), zap.String("role", "replica")),

		proposals: map[SlotNum]Command{},
		inFlight:  map[clientKey]CommandID{},
		decisions: map[SlotNum]Command{},
		applied:   map[CommandID]struct{}{},
		awaiting:  map[CommandID]struct{}{},

		state: maps.Clone(store.Storage()),
	}
	if r.state == nil {
		r.state = map[string]string{}
	}

	// slots below the collect floor were applied everywhere, only reads there were not logged
	r.slotOut = max(store.NextSlot(), store.CollectedSlot())
	r.slotIn = r.slotOut
	r.publishStatus()

	return r
}

func (r *replicaImpl) Start() {
	r.logger.Info("Replica started",
		zap.Int64("slot_out", int64(r.slotOut)),
		zap.Int("keys", len(r.state)),
	)

	msg := CatchUpRequest{
		From:    r.id,
		SlotOut: r.slotOut,
	}
	for _, id := range r.replicaIDs {
		if id == r.id {
			continue
		}
		r.sender.Send(id, msg)
	}
}

func (r *replicaImpl) HandleMessage(msg ReplicaMessage) {
	switch m := msg.(type) {
	case ClientRequest:
		r.handleRequest(m.Command)
	case DecisionMessage:
		r.handleDecision(m)
	case CatchUpRequest:
		r.handleCatchUp(m)
	default:
		AssertUnreachable(r.logger, msg)
	}

	r.propose()
	r.publishStatus()
}

func (r *replicaImpl) handleRequest(cmd Command) {
	if cmd.Kind == CommandPing {
		r.replier.Reply(cmd.ID.Client, "PONG")
		return
	}

	r.awaiting[cmd.ID] = struct{}{}
	r.requests = append(r.requests, cmd)
}

// propose assigns queued requests to free slots,
// a request waits while an earlier one of the same client is undecided
func (r *replicaImpl) propose() {
	var waiting []Command
	for len(r.requests) > 0 {
		if _, decided := r.decisions[r.slotIn]; decided {
			r.slotIn++
			continue
		}

		cmd := r.requests[0]
		r.requests = r.requests[1:]

		key := clientOf(cmd)
		if _, busy := r.inFlight[key]; busy {
			waiting = append(waiting, cmd)
			continue
		}
		r.inFlight[key] = cmd.ID

		r.proposals[r.slotIn] = cmd
		broadcast(r.sender, r.leaderIDs, ProposeMessage{
			From:    r.id,
			Slot:    r.slotIn,
			Command: cmd,
		})

		r.slotIn++
	}
	r.requests = waiting
}

func (r *replicaImpl) release(cmd Command) {
	key := clientOf(cmd)
	if id, ok := r.inFlight[key]; ok && id == cmd.ID {
		delete(r.inFlight, key)
	}
}

func (r *replicaImpl) handleDecision(m DecisionMessage) {
	if m.Slot < r.slotOut {
		return
	}
	if _, existed := r.decisions[m.Slot]; existed {
		return
	}
	r.decisions[m.Slot] = m.Command

	if prev, ok := r.proposals[m.Slot]; ok {
		delete(r.proposals, m.Slot)
		r.release(prev)
		if prev != m.Command {
			// reorder: the slot went to another command
			r.requests = append([]Command{prev}, r.requests...)
		}
	}

	oldSlotOut := r.slotOut
	for {
		cmd, ok := r.decisions[r.slotOut]
		if !ok {
			break
		}
		r.perform(r.slotOut, cmd)
		r.slotOut++
	}

	if r.slotIn < r.slotOut {
		r.slotIn = r.slotOut
	}

	if r.slotOut > oldSlotOut {
		broadcast(r.sender, r.acceptorIDs, SlotOutNotice{
			From:    r.id,
			SlotOut: r.slotOut,
		})
	}
}

func (r *replicaImpl) perform(slot SlotNum, cmd Command) {
	r.release(cmd)

	if _, done := r.applied[cmd.ID]; done {
		r.answer(cmd, r.evaluate(cmd))
		return
	}
	r.applied[cmd.ID] = struct{}{}

	if cmd.IsMutation() {
		if err := r.store.SaveApplied(slot, cmd); err != nil {
			r.logger.Fatal("Failed to persist applied command", zap.Stringer("command", cmd), zap.Error(err))
		}
	}

	reply := r.evaluate(cmd)

	switch cmd.Kind {
	case CommandSet:
		r.state[cmd.Key] = cmd.Value
	case CommandDelete:
		delete(r.state, cmd.Key)
	default:
	}

	r.logger.Debug("Applied command",
		zap.Int64("slot", int64(slot)),
		zap.Stringer("command", cmd),
	)

	r.answer(cmd, reply)
}

// evaluate computes the reply for cmd against the current state without changing it
func (r *replicaImpl) evaluate(cmd Command) string {
	switch cmd.Kind {
	case CommandGet:
		value, ok := r.state[cmd.Key]
		if !ok {
			return "NOT_FOUND"
		}
		return "VALUE " + cmd.Key + " " + value

	case CommandSet:
		return "STORED"

	case CommandDelete:
		if _, ok := r.state[cmd.Key]; !ok {
			return "NOT_FOUND"
		}
		return "DELETED"

	default:
		return "PONG"
	}
}

func (r *replicaImpl) answer(cmd Command, reply string) {
	if cmd.ID.Node != r.id {
		return
	}
	if _, ok := r.awaiting[cmd.ID]; !ok {
		return
	}
	delete(r.awaiting, cmd.ID)
	r.replier.Reply(cmd.ID.Client, reply)
}

func (r *replicaImpl) handleCatchUp(m CatchUpRequest) {
	for _, slot := range slices.Sorted(maps.Keys(r.decisions)) {
		if slot < m.SlotOut {
			continue
		}
		r.sender.Send(m.From, DecisionMessage{
			Slot:    slot,
			Command: r.decisions[slot],
		})
	}
}

func (r *replicaImpl) ResendProposals() {
	for _, slot := range slices.Sorted(maps.Keys(r.proposals)) {
		broadcast(r.sender, r.leaderIDs, ProposeMessage{
			From:    r.id,
			Slot:    slot,
			Command: r.proposals[slot],
		})
	}
}

func (r *replicaImpl) publishStatus() {
	r.status.Store(&ReplicaStatus{
		SlotIn:  r.slotIn,
		SlotOut: r.slotOut,
	})
}

func (r *replicaImpl) Status() ReplicaStatus {
	return *r.status.Load()
}

func (r *replicaImpl) Snapshot() map[string]string {
	return maps.Clone(r.state)
}

func (r *replicaImpl) CheckInvariant() {
	AssertTrue(r.slotOut <= r.slotIn)
	proposed := map[CommandID]struct{}{}
	for slot, cmd := range r.proposals {
		AssertTrue(slot >= r.slotOut)
		AssertTrue(slot < r.slotIn)
		proposed[cmd.ID] = struct{}{}
	}
	for _, id := range r.inFlight {
		_, ok := proposed[id]
		AssertTrue(ok)
	}
}
