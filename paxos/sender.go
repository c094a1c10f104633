package paxos

// Sender delivers a message to the node with the given id, the node itself included.
// It must never block the caller.
type Sender interface {
	Send(to NodeID, msg Message)
}

// Replier delivers a text reply to a client connected to this node
type Replier interface {
	Reply(client ClientID, text string)
}

func broadcast(sender Sender, ids []NodeID, msg Message) {
	for _, id := range ids {
		sender.Send(id, msg)
	}
}
