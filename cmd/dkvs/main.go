package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/h0tk3y/dkvs/config"
	"github.com/h0tk3y/dkvs/node"
	"github.com/h0tk3y/dkvs/paxos"
)

func main() {
	var (
		configPath = flag.String("config", "dkvs.yaml", "Path to the cluster configuration")
		id         = flag.Int("id", -1, "ID of the node to run, all nodes of the configuration when negative")
		dev        = flag.Bool("dev", false, "Human readable debug logging")
	)
	flag.Parse()

	logger, err := newLogger(*dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.String("path", *configPath), zap.Error(err))
	}

	ids := cfg.IDs()
	if *id >= 0 {
		ids = []paxos.NodeID{paxos.NodeID(*id)}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runNodes(ctx, cfg, ids, logger); err != nil {
		logger.Error("Stopped with error", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runNodes starts every node in ids and stops all of them when any one fails
func runNodes(ctx context.Context, cfg *config.Config, ids []paxos.NodeID, logger *zap.Logger) error {
	nodes := make([]*node.Node, 0, len(ids))
	for _, nodeID := range ids {
		n, err := node.New(cfg, nodeID, logger)
		if err != nil {
			for _, built := range nodes {
				_ = built.Close()
			}
			return err
		}
		nodes = append(nodes, n)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errMut   sync.Mutex
		firstErr error
	)
	for _, n := range nodes {
		wg.Go(func() {
			err := n.Run(ctx)
			if err == nil {
				return
			}

			errMut.Lock()
			if firstErr == nil {
				firstErr = err
			}
			errMut.Unlock()
			cancel()
		})
	}
	wg.Wait()

	return firstErr
}
