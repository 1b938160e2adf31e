package networking

import (
	"time"

	"github.com/pion/logging"

	"github.com/backkem/blemesh/pkg/crypto"
	"github.com/backkem/blemesh/pkg/message"
	"github.com/backkem/blemesh/pkg/sequence"
)

// Default controller parameters.
const (
	// DefaultQueueCapacity bounds the outbound network PDU queue.
	DefaultQueueCapacity = 256

	// DefaultLocalAddress is used when the configuration leaves it unassigned.
	DefaultLocalAddress message.Address = 0x7FFF

	// ControlMessageTTL is the TTL of locally generated control messages.
	ControlMessageTTL = 5
)

// Timing holds the controller timer parameters. Zero fields take defaults.
type Timing struct {
	NetworkInterval      time.Duration // pacing between queued PDUs (default: 240ms)
	BulkNetworkInterval  time.Duration // pacing during bulk transfer (default: 180ms)
	SegmentBusyTimeout   time.Duration // outbound segmented message limit (default: 15s)
	SegmentRxTimeout     time.Duration // incomplete inbound message limit (default: 10s)
	ProxyFilterTimeout   time.Duration // proxy filter handshake limit (default: 5s)
	RelayTimeout         time.Duration // block ack base delay (default: 300ms)
	SegmentAckBase       time.Duration // block ack delay before TTL scaling (default: 200ms)
	SegmentAckPerHop     time.Duration // block ack delay per TTL unit (default: 50ms)
	DefaultRetryInterval time.Duration // reliable message interval if unset (default: 1280ms)
}

func (t *Timing) applyDefaults() {
	if t.NetworkInterval == 0 {
		t.NetworkInterval = 240 * time.Millisecond
	}
	if t.BulkNetworkInterval == 0 {
		t.BulkNetworkInterval = 180 * time.Millisecond
	}
	if t.SegmentBusyTimeout == 0 {
		t.SegmentBusyTimeout = 15 * time.Second
	}
	if t.SegmentRxTimeout == 0 {
		t.SegmentRxTimeout = 10 * time.Second
	}
	if t.ProxyFilterTimeout == 0 {
		t.ProxyFilterTimeout = 5 * time.Second
	}
	if t.RelayTimeout == 0 {
		t.RelayTimeout = 300 * time.Millisecond
	}
	if t.SegmentAckBase == 0 {
		t.SegmentAckBase = 200 * time.Millisecond
	}
	if t.SegmentAckPerHop == 0 {
		t.SegmentAckPerHop = 50 * time.Millisecond
	}
	if t.DefaultRetryInterval == 0 {
		t.DefaultRetryInterval = DefaultRetryInterval
	}
}

// Config holds the construction parameters of a Controller.
type Config struct {
	// Bridge receives PDUs and events. Required.
	Bridge Bridge

	// LoggerFactory creates the controller logger. Optional.
	LoggerFactory logging.LoggerFactory

	// Metrics records controller activity. Optional.
	Metrics Metrics

	// QueueCapacity bounds the outbound queue (default: 256).
	QueueCapacity int

	// SequenceUpdateStep is the persistence granularity of the sequence
	// number (default: 0x100). A step of 1 reports every value.
	SequenceUpdateStep uint32

	Timing Timing
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Bridge == nil {
		return ErrBridgeRequired
	}
	if c.QueueCapacity < 0 {
		return ErrInvalidConfig
	}
	if c.SequenceUpdateStep > sequence.MaxSequence {
		return ErrInvalidConfig
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.SequenceUpdateStep == 0 {
		c.SequenceUpdateStep = sequence.DefaultPersistStep
	}
	c.Timing.applyDefaults()
}

// MeshConfiguration is the network state installed by Setup.
type MeshConfiguration struct {
	NetworkKey  []byte
	NetKeyIndex uint16

	// AppKeys maps application key indexes to keys.
	AppKeys map[uint16][]byte

	// DeviceKeys maps unicast node addresses to their device keys.
	DeviceKeys map[message.Address][]byte

	IVIndex        uint32
	SequenceNumber uint32
	LocalAddress   message.Address

	// ProxyFilterWhitelist is added to the proxy accept list. When empty the
	// local address and the all-nodes address are used.
	ProxyFilterWhitelist []message.Address
}

func (m *MeshConfiguration) validate() error {
	if len(m.NetworkKey) != crypto.KeySize {
		return ErrInvalidNetworkKey
	}
	if !m.LocalAddress.IsUnassigned() && !m.LocalAddress.IsUnicast() {
		return ErrInvalidConfig
	}
	return nil
}
