package paxos

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func AssertTrue(b bool) {
	if !b {
		panic("must be true here")
	}
}

// AssertUnreachable panics inside tests, in production the message is only logged and dropped
func AssertUnreachable(logger *zap.Logger, msg Message) {
	if testing.Testing() {
		panic(fmt.Sprintf("unexpected message type %T: %v", msg, msg))
	}
	logger.Warn("Dropped message of unexpected type",
		zap.String("type", fmt.Sprintf("%T", msg)),
		zap.Stringer("message", msg),
	)
}
