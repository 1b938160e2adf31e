package node

import (
	"net"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/backkem/blemesh/pkg/networking"
	"github.com/backkem/blemesh/pkg/store"
	"github.com/backkem/blemesh/pkg/transport"
)

// Config holds all configuration for a Node.
type Config struct {
	// Mesh is the network state installed at Start. SequenceNumber and
	// IVIndex are superseded by newer values found in Store.
	Mesh networking.MeshConfiguration

	// Conn is the proxy bearer link. Required.
	Conn net.Conn

	// MTU is the bearer frame size (default: transport.DefaultMTU).
	MTU int

	// Store persists network state. Required.
	Store store.Store

	// Bridge receives controller events after the node has handled them.
	// Optional.
	Bridge networking.Bridge

	// Registerer enables Prometheus metrics labelled with the local address.
	// Optional.
	Registerer prometheus.Registerer

	// ProxyFilter runs proxy filter negotiation once the node is running.
	ProxyFilter bool

	// Controller tuning - Optional (uses defaults if zero)
	Timing             networking.Timing
	QueueCapacity      int
	SequenceUpdateStep uint32

	// OnStateChanged is called with the node lock held; it must not call
	// back into the Node.
	OnStateChanged func(state State)

	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Store == nil {
		return ErrStoreRequired
	}
	if c.Conn == nil {
		return ErrConnRequired
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.MTU == 0 {
		c.MTU = transport.DefaultMTU
	}
	if c.Bridge == nil {
		c.Bridge = networking.NopBridge{}
	}
	if c.Mesh.LocalAddress.IsUnassigned() {
		c.Mesh.LocalAddress = networking.DefaultLocalAddress
	}
}
