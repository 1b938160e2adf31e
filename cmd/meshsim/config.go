package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/backkem/blemesh/pkg/crypto"
	"github.com/backkem/blemesh/pkg/message"
	"github.com/backkem/blemesh/pkg/networking"
	"github.com/backkem/blemesh/pkg/node"
)

// simConfig is the YAML simulation file.
type simConfig struct {
	Network networkConfig `yaml:"network"`
	Nodes   []nodeConfig  `yaml:"nodes"`
	Link    linkConfig    `yaml:"link"`
	Traffic trafficConfig `yaml:"traffic"`
}

type networkConfig struct {
	// NetKey and AppKey are hex encoded. When empty they are derived from
	// Passphrase, or fall back to the Mesh Profile sample keys.
	NetKey     string `yaml:"netKey"`
	AppKey     string `yaml:"appKey"`
	Passphrase string `yaml:"passphrase"`
	IVIndex    uint32 `yaml:"ivIndex"`
}

type nodeConfig struct {
	Address        uint16 `yaml:"address"`
	DeviceKey      string `yaml:"deviceKey"`
	SequenceNumber uint32 `yaml:"sequenceNumber"`
	ProxyFilter    bool   `yaml:"proxyFilter"`
}

type linkConfig struct {
	MTU           int           `yaml:"mtu"`
	DropRate      float64       `yaml:"dropRate"`
	DuplicateRate float64       `yaml:"duplicateRate"`
	DelayMin      time.Duration `yaml:"delayMin"`
	DelayMax      time.Duration `yaml:"delayMax"`
}

type trafficConfig struct {
	// Interval between messages from the first node to the second.
	Interval       time.Duration `yaml:"interval"`
	Opcode         uint32        `yaml:"opcode"`
	ResponseOpcode uint32        `yaml:"responseOpcode"`
	Reliable       bool          `yaml:"reliable"`
	// Params is hex; it may be long enough to need segmentation.
	Params string `yaml:"params"`
}

var errConfig = errors.New("invalid configuration")

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (*simConfig, error) {
	cfg := &simConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *simConfig) applyDefaults() {
	if len(c.Nodes) == 0 {
		c.Nodes = []nodeConfig{{Address: 0x0001}, {Address: 0x0002}}
	}
	for i := range c.Nodes {
		if c.Nodes[i].SequenceNumber == 0 {
			c.Nodes[i].SequenceNumber = 1
		}
	}
	if c.Traffic.Interval == 0 {
		c.Traffic.Interval = 2 * time.Second
	}
	if c.Traffic.Opcode == 0 {
		c.Traffic.Opcode = 0x8201 // Generic OnOff Get
	}
	if c.Traffic.ResponseOpcode == 0 {
		c.Traffic.ResponseOpcode = 0x8204 // Generic OnOff Status
	}
}

func (c *simConfig) validate() error {
	if len(c.Nodes) != 2 {
		return fmt.Errorf("%w: need exactly 2 nodes, got %d", errConfig, len(c.Nodes))
	}
	if c.Nodes[0].Address == c.Nodes[1].Address {
		return fmt.Errorf("%w: duplicate node address %#04x", errConfig, c.Nodes[0].Address)
	}
	for _, n := range c.Nodes {
		if !message.Address(n.Address).IsUnicast() {
			return fmt.Errorf("%w: node address %#04x is not unicast", errConfig, n.Address)
		}
	}
	if c.Link.DropRate < 0 || c.Link.DropRate > 1 || c.Link.DuplicateRate < 0 || c.Link.DuplicateRate > 1 {
		return fmt.Errorf("%w: rates must be within 0..1", errConfig)
	}
	if !message.Opcode(c.Traffic.Opcode).IsValid() || !message.Opcode(c.Traffic.ResponseOpcode).IsValid() {
		return fmt.Errorf("%w: invalid opcode", errConfig)
	}
	if _, err := decodeHex(c.Traffic.Params); err != nil {
		return fmt.Errorf("%w: traffic params: %v", errConfig, err)
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.ReplaceAll(s, " ", ""), "0x"))
}

// resolveKey returns the hex key, a passphrase-derived key, or fallback.
func resolveKey(hexKey, passphrase, label, fallback string) ([]byte, error) {
	switch {
	case hexKey != "":
		key, err := decodeHex(hexKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errConfig, label, err)
		}
		if len(key) != crypto.KeySize {
			return nil, fmt.Errorf("%w: %s must be %d bytes", errConfig, label, crypto.KeySize)
		}
		return key, nil
	case passphrase != "":
		return crypto.PassphraseKey(passphrase, label)
	default:
		return hex.DecodeString(fallback)
	}
}

// meshConfiguration builds the setup input of node i. Every node knows the
// device keys of all configured nodes.
func (c *simConfig) meshConfiguration(i int) (networking.MeshConfiguration, error) {
	netKey, err := resolveKey(c.Network.NetKey, c.Network.Passphrase, "netkey", node.TestNetworkKey)
	if err != nil {
		return networking.MeshConfiguration{}, err
	}
	appKey, err := resolveKey(c.Network.AppKey, c.Network.Passphrase, "appkey", node.TestAppKey)
	if err != nil {
		return networking.MeshConfiguration{}, err
	}

	devKeys := make(map[message.Address][]byte, len(c.Nodes))
	for _, n := range c.Nodes {
		label := fmt.Sprintf("devkey-%04x", n.Address)
		key, err := resolveKey(n.DeviceKey, c.Network.Passphrase, label, node.TestDeviceKey)
		if err != nil {
			return networking.MeshConfiguration{}, err
		}
		devKeys[message.Address(n.Address)] = key
	}

	n := c.Nodes[i]
	return networking.MeshConfiguration{
		NetworkKey:     netKey,
		AppKeys:        map[uint16][]byte{0: appKey},
		DeviceKeys:     devKeys,
		IVIndex:        c.Network.IVIndex,
		SequenceNumber: n.SequenceNumber,
		LocalAddress:   message.Address(n.Address),
	}, nil
}
