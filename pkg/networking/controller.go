package networking

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/blemesh/pkg/crypto"
	"github.com/backkem/blemesh/pkg/message"
	"github.com/backkem/blemesh/pkg/proxy"
	"github.com/backkem/blemesh/pkg/segment"
	"github.com/backkem/blemesh/pkg/sequence"
)

// Controller is the networking layer of a mesh node.
type Controller struct {
	cfg     Config
	bridge  Bridge
	metrics Metrics
	log     logging.LeveledLogger

	mu sync.Mutex

	closed bool
	ready  bool

	keys        *crypto.NetworkKeys
	netKeyIndex uint16
	appKeys     map[uint16]*message.AppKey
	deviceKeys  map[message.Address][]byte
	local       message.Address
	direct      message.Address
	whitelist   []message.Address

	seq *sequence.State
	rx  *sequence.RxCache

	extendMode ExtendBearerMode
	bulk       bool
	tid        uint8

	// Outbound queue.
	queue          [][]byte
	networkingBusy bool

	// Outbound segmented message.
	sent        segment.SentBuffer
	acked       uint32
	segmentBusy bool
	ackWait     ackWaitParams

	// Inbound segmented message.
	reasm *segment.Reassembler
	rxAck rxAckParams

	reliable     *reliableSlot
	reliableBusy bool

	// proxyStep is -1 when no filter negotiation is running.
	proxyStep int

	privateBeaconReceived bool

	timers timers

	events   []func(Bridge)
	draining bool
}

type ackWaitParams struct {
	ttl uint8
	dst message.Address
}

type rxAckParams struct {
	src     message.Address
	ttl     uint8
	ackable bool
}

// NewController creates a controller. Setup must be called before messages
// can be sent or received.
func NewController(config Config) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	c := &Controller{
		cfg:        config,
		bridge:     config.Bridge,
		metrics:    config.Metrics,
		log:        config.LoggerFactory.NewLogger("networking"),
		appKeys:    make(map[uint16]*message.AppKey),
		deviceKeys: make(map[message.Address][]byte),
		local:      DefaultLocalAddress,
		seq:        sequence.NewState(config.SequenceUpdateStep),
		rx:         sequence.NewRxCache(),
		reasm:      segment.NewReassembler(),
		proxyStep:  -1,
	}
	return c, nil
}

// Setup installs network state. Any traffic in progress is abandoned.
func (c *Controller) Setup(mc MeshConfiguration) error {
	if err := mc.validate(); err != nil {
		return err
	}
	keys, err := crypto.DeriveNetworkKeys(mc.NetworkKey)
	if err != nil {
		return fmt.Errorf("networking: derive network keys: %w", err)
	}
	appKeys := make(map[uint16]*message.AppKey, len(mc.AppKeys))
	for idx, k := range mc.AppKeys {
		ak, err := message.NewAppKey(idx, k)
		if err != nil {
			return fmt.Errorf("networking: app key %d: %w", idx, err)
		}
		appKeys[idx] = ak
	}
	deviceKeys := make(map[message.Address][]byte, len(mc.DeviceKeys))
	for addr, k := range mc.DeviceKeys {
		if len(k) != crypto.KeySize {
			return fmt.Errorf("networking: device key %s: %w", addr, message.ErrInvalidKey)
		}
		deviceKeys[addr] = slices.Clone(k)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.clearLocked()
	c.direct = message.AddressUnassigned
	c.keys = keys
	c.netKeyIndex = mc.NetKeyIndex
	c.appKeys = appKeys
	c.deviceKeys = deviceKeys
	c.local = mc.LocalAddress
	if c.local.IsUnassigned() {
		c.local = DefaultLocalAddress
	}
	c.whitelist = slices.Clone(mc.ProxyFilterWhitelist)

	seq, persist := c.seq.Init(mc.SequenceNumber, mc.IVIndex)
	if persist {
		c.notifyNetworkInfoLocked(seq, c.seq.IVIndex())
	}
	c.ready = true
	c.log.Infof("setup: local=%s nid=%#02x iv=%#08x seq=%#06x app keys=%d device keys=%d",
		c.local, keys.NID, mc.IVIndex, seq, len(appKeys), len(deviceKeys))
	c.mu.Unlock()

	c.flush()
	return nil
}

// Clear abandons every message in flight and stops all timers. Keys and the
// identity of the last reassembled message are kept.
func (c *Controller) Clear() {
	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()
}

func (c *Controller) clearLocked() {
	c.cancelAll()
	c.networkingBusy = false
	c.segmentBusy = false
	c.reliableBusy = false
	c.reliable = nil
	c.queue = nil
	c.sent.Reset()
	c.acked = 0
	c.reasm.Clear()
	c.rx.Clear()
	c.seq.StopUpdating()
	c.privateBeaconReceived = false
	c.proxyStep = -1
	c.metrics.QueueDepth(0)
}

// Close stops all timers. The controller cannot be used afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancelAll()
	c.queue = nil
	return nil
}

// ResetDirectAddress forgets the directly connected proxy node.
func (c *Controller) ResetDirectAddress() {
	c.SetDirectAddress(message.AddressUnassigned)
}

// SetDirectAddress records the address of the directly connected proxy node.
func (c *Controller) SetDirectAddress(addr message.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.direct = addr
}

// DirectAddress returns the address of the directly connected proxy node.
func (c *Controller) DirectAddress() message.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.direct
}

// LocalAddress returns the unicast address of this node.
func (c *Controller) LocalAddress() message.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// SequenceNumber returns the next sequence number to be used.
func (c *Controller) SequenceNumber() uint32 {
	return c.seq.Sequence()
}

// IVIndex returns the current IV index.
func (c *Controller) IVIndex() uint32 {
	return c.seq.IVIndex()
}

// IVUpdating reports whether an IV update is in progress.
func (c *Controller) IVUpdating() bool {
	return c.seq.Updating()
}

// AddAppKey installs or replaces an application key.
func (c *Controller) AddAppKey(index uint16, key []byte) error {
	ak, err := message.NewAppKey(index, key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appKeys[index] = ak
	return nil
}

// RemoveAppKey removes an application key.
func (c *Controller) RemoveAppKey(index uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.appKeys, index)
}

// AddDeviceKey installs or replaces the device key of a node.
func (c *Controller) AddDeviceKey(addr message.Address, key []byte) error {
	if !addr.IsUnicast() {
		return ErrInvalidDestination
	}
	if len(key) != crypto.KeySize {
		return message.ErrInvalidKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deviceKeys[addr] = slices.Clone(key)
	return nil
}

// RemoveDeviceKey removes the device key of a node.
func (c *Controller) RemoveDeviceKey(addr message.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deviceKeys, addr)
}

// SetExtendBearerMode selects when long segments are used.
func (c *Controller) SetExtendBearerMode(mode ExtendBearerMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extendMode = mode
}

// SetBulkTransfer switches the queue pacing to the bulk transfer interval.
func (c *Controller) SetBulkTransfer(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bulk = enabled
}

func (c *Controller) interval() time.Duration {
	if c.bulk {
		return c.cfg.Timing.BulkNetworkInterval
	}
	return c.cfg.Timing.NetworkInterval
}

func (c *Controller) checkReadyLocked() error {
	if c.closed {
		return ErrClosed
	}
	if !c.ready {
		return ErrNotSetup
	}
	return nil
}

// appKeyList returns the application keys ordered by index.
func (c *Controller) appKeyList() []*message.AppKey {
	keys := make([]*message.AppKey, 0, len(c.appKeys))
	for _, k := range c.appKeys {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b *message.AppKey) int { return int(a.Index) - int(b.Index) })
	return keys
}

// emit records a bridge call to be made by flush.
func (c *Controller) emit(fn func(Bridge)) {
	c.events = append(c.events, fn)
}

func (c *Controller) emitCommand(t proxy.PDUType, data []byte) {
	c.emit(func(b Bridge) { b.OnCommandPrepared(t, data) })
}

func (c *Controller) notifyNetworkInfoLocked(seq, ivIndex uint32) {
	info := NetworkInfo{SequenceNumber: seq, IVIndex: ivIndex}
	c.metrics.NetworkInfo(seq, ivIndex)
	c.emit(func(b Bridge) { b.OnNetworkInfoUpdate(info) })
}

// flush delivers pending bridge calls without holding the lock. Only one
// goroutine drains at a time so calls keep their order; events produced by a
// callback that re-enters the controller are delivered by the same loop.
func (c *Controller) flush() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.events) > 0 {
		ev := c.events[0]
		c.events[0] = nil
		c.events = c.events[1:]
		c.mu.Unlock()
		ev(c.bridge)
		c.mu.Lock()
	}
	c.events = nil
	c.draining = false
	c.mu.Unlock()
}
