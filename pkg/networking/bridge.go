package networking

import (
	"time"

	"github.com/backkem/blemesh/pkg/message"
	"github.com/backkem/blemesh/pkg/proxy"
)

// Bridge receives outbound PDUs and upward notifications from the controller.
//
// Callbacks run on the goroutine that triggered them (a caller or a timer)
// after the controller lock is released. They are delivered one at a time in
// the order they were produced.
type Bridge interface {
	// OnCommandPrepared delivers a PDU ready for the bearer.
	OnCommandPrepared(pduType proxy.PDUType, data []byte)

	// OnMeshMessageReceived delivers a decrypted access message.
	OnMeshMessageReceived(event MeshMessageEvent)

	// OnReliableMessageComplete reports the end of a reliable message.
	OnReliableMessageComplete(result ReliableResult)

	// OnSegmentMessageComplete reports the end of an outbound segmented message.
	OnSegmentMessageComplete(success bool)

	// OnNetworkInfoUpdate reports sequence number and IV index values to persist.
	OnNetworkInfoUpdate(info NetworkInfo)

	// OnProxyInitComplete reports the outcome of proxy filter negotiation.
	OnProxyInitComplete(result ProxyInitResult)

	// OnHeartbeatMessageReceived delivers a received heartbeat.
	OnHeartbeatMessageReceived(event HeartbeatEvent)
}

// MeshMessageEvent is a received access message.
type MeshMessageEvent struct {
	Source      message.Address
	Destination message.Address
	Opcode      message.Opcode
	Params      []byte
}

// ReliableResult is the tally of a completed reliable message.
type ReliableResult struct {
	Success       bool
	Opcode        message.Opcode
	ResponseMax   int
	ResponseCount int
	Duration      time.Duration
}

// NetworkInfo carries values the application must persist.
type NetworkInfo struct {
	SequenceNumber uint32
	IVIndex        uint32
}

// ProxyInitResult is the outcome of proxy filter negotiation.
type ProxyInitResult struct {
	Success       bool
	DirectAddress message.Address
}

// HeartbeatEvent is a received heartbeat control message.
type HeartbeatEvent struct {
	Source      message.Address
	Destination message.Address
	InitTTL     uint8
	TTL         uint8
	Features    uint16
}

// Hops returns the number of hops the heartbeat travelled.
func (e HeartbeatEvent) Hops() int {
	return int(e.InitTTL) - int(e.TTL) + 1
}

// NopBridge ignores every event. Embed it to implement a subset of Bridge.
type NopBridge struct{}

func (NopBridge) OnCommandPrepared(proxy.PDUType, []byte) {}
func (NopBridge) OnMeshMessageReceived(MeshMessageEvent) {}
func (NopBridge) OnReliableMessageComplete(ReliableResult) {}
func (NopBridge) OnSegmentMessageComplete(bool) {}
func (NopBridge) OnNetworkInfoUpdate(NetworkInfo) {}
func (NopBridge) OnProxyInitComplete(ProxyInitResult) {}
func (NopBridge) OnHeartbeatMessageReceived(HeartbeatEvent) {}

var _ Bridge = NopBridge{}
