package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/h0tk3y/dkvs/paxos"
)

const DefaultTimeout = time.Second

type Config struct {
	Timeout time.Duration `yaml:"timeout"`
	DataDir string        `yaml:"data_dir"`
	Nodes   []NodeConfig  `yaml:"nodes"`
}

type NodeConfig struct {
	ID      paxos.NodeID `yaml:"id"`
	Address string       `yaml:"address"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig unmarshals a YAML document, missing timeout and data_dir get defaults
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.DataDir == "" {
		config.DataDir = "."
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}

	if len(c.Nodes) == 0 {
		return fmt.Errorf("nodes must contain at least one node")
	}

	uniqueIDs := make(map[paxos.NodeID]bool)
	for _, node := range c.Nodes {
		if node.ID < 0 {
			return fmt.Errorf("node id must not be negative: %d", node.ID)
		}
		if uniqueIDs[node.ID] {
			return fmt.Errorf("duplicate node ID: %d", node.ID)
		}
		uniqueIDs[node.ID] = true

		if _, _, err := net.SplitHostPort(node.Address); err != nil {
			return fmt.Errorf("node %d has invalid address %q: %w", node.ID, node.Address, err)
		}
	}

	return nil
}

// IDs returns the node ids in ascending order
func (c *Config) IDs() []paxos.NodeID {
	ids := make([]paxos.NodeID, 0, len(c.Nodes))
	for _, node := range c.Nodes {
		ids = append(ids, node.ID)
	}
	slices.Sort(ids)
	return ids
}

func (c *Config) Address(id paxos.NodeID) (string, bool) {
	for _, node := range c.Nodes {
		if node.ID == id {
			return node.Address, true
		}
	}
	return "", false
}

// Designated returns the node that starts as the initial leader
func (c *Config) Designated() paxos.NodeID {
	return c.IDs()[0]
}

func (c *Config) LogPath(id paxos.NodeID) string {
	return filepath.Join(c.DataDir, fmt.Sprintf("dkvs_%d.log", id))
}
