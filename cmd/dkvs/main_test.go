package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/h0tk3y/dkvs/config"
	"github.com/h0tk3y/dkvs/paxos"
	"github.com/h0tk3y/dkvs/testutil"
)

func numOpenFiles(t *testing.T) int {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("open files are not listed on this platform")
	}
	return len(entries)
}

func TestRunNodes__Built_Nodes_Closed_When_One_Fails(t *testing.T) {
	addrs := testutil.FreeAddresses(t, 3)
	cfg := &config.Config{
		Timeout: 100 * time.Millisecond,
		DataDir: t.TempDir(),
		Nodes: []config.NodeConfig{
			{ID: 1, Address: addrs[0]},
			{ID: 2, Address: addrs[1]},
			{ID: 3, Address: addrs[2]},
		},
	}

	// the log of node 3 cannot be opened
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.LogPath(3), "x"), 0o755))

	before := numOpenFiles(t)

	err := runNodes(context.Background(), cfg, cfg.IDs(), zaptest.NewLogger(t))
	assert.Error(t, err)

	assert.Equal(t, before, numOpenFiles(t))

	// the logs of the first nodes were opened before the failure
	for _, id := range []paxos.NodeID{1, 2} {
		_, err = os.Stat(cfg.LogPath(id))
		assert.NoError(t, err)
	}
}
