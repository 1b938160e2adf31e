package networking

import (
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/backkem/blemesh/pkg/crypto"
	"github.com/backkem/blemesh/pkg/message"
	"github.com/backkem/blemesh/pkg/proxy"
	"github.com/backkem/blemesh/pkg/segment"
)

// Mesh Profile sample data keys.
const (
	testNetKey    = "7dd7364cd842ad18c17c2b820c84c3d6"
	testAppKey    = "63964771734fbd76e3b40519d1d94a48"
	testDeviceKey = "9d6dd0e96eb25dc19a40ed9914f8f03f"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func testKeys(t *testing.T) *crypto.NetworkKeys {
	t.Helper()
	keys, err := crypto.DeriveNetworkKeys(mustHex(t, testNetKey))
	require.NoError(t, err)
	return keys
}

// fastTiming keeps every timer short except the ones a test waits on.
func fastTiming() Timing {
	return Timing{
		NetworkInterval:      time.Millisecond,
		BulkNetworkInterval:  time.Millisecond,
		SegmentBusyTimeout:   5 * time.Second,
		SegmentRxTimeout:     5 * time.Second,
		ProxyFilterTimeout:   5 * time.Second,
		RelayTimeout:         5 * time.Millisecond,
		SegmentAckBase:       5 * time.Millisecond,
		SegmentAckPerHop:     time.Millisecond,
		DefaultRetryInterval: 50 * time.Millisecond,
	}
}

func testMeshConfig(t *testing.T, local message.Address) MeshConfiguration {
	return MeshConfiguration{
		NetworkKey: mustHex(t, testNetKey),
		AppKeys:    map[uint16][]byte{0: mustHex(t, testAppKey)},
		DeviceKeys: map[message.Address][]byte{
			0x0001: mustHex(t, testDeviceKey),
			0x0002: mustHex(t, testDeviceKey),
			0x0003: mustHex(t, testDeviceKey),
		},
		IVIndex:        0,
		SequenceNumber: 1,
		LocalAddress:   local,
	}
}

// newTestController creates a set up controller. tune may adjust both
// configurations before use.
func newTestController(t *testing.T, local message.Address, tune func(*Config, *MeshConfiguration)) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	cfg := Config{
		Bridge:             rec,
		Timing:             fastTiming(),
		SequenceUpdateStep: 1,
	}
	mc := testMeshConfig(t, local)
	if tune != nil {
		tune(&cfg, &mc)
	}
	ctrl, err := NewController(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close() })
	require.NoError(t, ctrl.Setup(mc))
	return ctrl, rec
}

// newPair connects two controllers so that every network PDU one emits is
// parsed by the other.
func newPair(t *testing.T) (a, b *Controller, ra, rb *recorder) {
	t.Helper()
	a, ra = newTestController(t, 0x0001, nil)
	b, rb = newTestController(t, 0x0002, nil)
	ra.setForward(func(typ proxy.PDUType, data []byte) {
		if typ == proxy.PDUTypeNetwork {
			b.ParseNetworkPDU(data)
		}
	})
	rb.setForward(func(typ proxy.PDUType, data []byte) {
		if typ == proxy.PDUTypeNetwork {
			a.ParseNetworkPDU(data)
		}
	})
	return a, b, ra, rb
}

type command struct {
	typ  proxy.PDUType
	data []byte
}

// recorder is a Bridge that records every event.
type recorder struct {
	mu         sync.Mutex
	commands   []command
	messages   []MeshMessageEvent
	reliable   []ReliableResult
	segments   []bool
	infos      []NetworkInfo
	proxyInit  []ProxyInitResult
	heartbeats []HeartbeatEvent

	forward   func(proxy.PDUType, []byte)
	onMessage func(MeshMessageEvent)
}

func (r *recorder) setForward(fn func(proxy.PDUType, []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forward = fn
}

func (r *recorder) setOnMessage(fn func(MeshMessageEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMessage = fn
}

func (r *recorder) OnCommandPrepared(typ proxy.PDUType, data []byte) {
	r.mu.Lock()
	r.commands = append(r.commands, command{typ: typ, data: data})
	fwd := r.forward
	r.mu.Unlock()
	if fwd != nil {
		fwd(typ, data)
	}
}

func (r *recorder) OnMeshMessageReceived(e MeshMessageEvent) {
	r.mu.Lock()
	r.messages = append(r.messages, e)
	fn := r.onMessage
	r.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

func (r *recorder) OnReliableMessageComplete(res ReliableResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reliable = append(r.reliable, res)
}

func (r *recorder) OnSegmentMessageComplete(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments = append(r.segments, success)
}

func (r *recorder) OnNetworkInfoUpdate(info NetworkInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, info)
}

func (r *recorder) OnProxyInitComplete(res ProxyInitResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxyInit = append(r.proxyInit, res)
}

func (r *recorder) OnHeartbeatMessageReceived(e HeartbeatEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats = append(r.heartbeats, e)
}

func (r *recorder) ofType(typ proxy.PDUType) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]byte
	for _, c := range r.commands {
		if c.typ == typ {
			out = append(out, c.data)
		}
	}
	return out
}

func (r *recorder) network() [][]byte {
	return r.ofType(proxy.PDUTypeNetwork)
}

func (r *recorder) meshMessages() []MeshMessageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MeshMessageEvent(nil), r.messages...)
}

func (r *recorder) reliableResults() []ReliableResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReliableResult(nil), r.reliable...)
}

func (r *recorder) segmentResults() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.segments...)
}

func (r *recorder) networkInfos() []NetworkInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NetworkInfo(nil), r.infos...)
}

func (r *recorder) proxyResults() []ProxyInitResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProxyInitResult(nil), r.proxyInit...)
}

func (r *recorder) heartbeatEvents() []HeartbeatEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HeartbeatEvent(nil), r.heartbeats...)
}

// peer crafts PDUs as a remote node sharing the test keys.
type peer struct {
	t      *testing.T
	keys   *crypto.NetworkKeys
	appKey *message.AppKey
	addr   message.Address
	seq    uint32
	iv     uint32
}

func newPeer(t *testing.T, addr message.Address) *peer {
	t.Helper()
	ak, err := message.NewAppKey(0, mustHex(t, testAppKey))
	require.NoError(t, err)
	return &peer{t: t, keys: testKeys(t), appKey: ak, addr: addr, seq: 1}
}

func (p *peer) wrap(ctl bool, ttl uint8, dst message.Address, lower []byte) []byte {
	p.t.Helper()
	data, err := message.EncodeNetworkPDU(&message.NetworkPDU{
		CTL:          ctl,
		TTL:          ttl,
		SEQ:          p.seq,
		SRC:          p.addr,
		DST:          dst,
		TransportPDU: lower,
	}, p.keys, p.iv)
	require.NoError(p.t, err)
	p.seq++
	return data
}

// access builds an unsegmented application-key access PDU.
func (p *peer) access(dst message.Address, opcode message.Opcode, params []byte) []byte {
	p.t.Helper()
	payload, err := message.EncodeAccessPDU(opcode, params)
	require.NoError(p.t, err)
	upper, err := message.EncryptUpper(payload, p.appKey.Key, true, message.UpperContext{
		Seq: p.seq, Src: p.addr, Dst: dst, IVIndex: p.iv,
	})
	require.NoError(p.t, err)
	lower, err := (&message.UnsegmentedAccess{AKF: true, AID: p.appKey.AID, UpperPDU: upper}).Encode()
	require.NoError(p.t, err)
	return p.wrap(false, DefaultTTL, dst, lower)
}

// segmentedLowers builds the lower transport segments of an access message
// whose first segment will use the peer's next sequence number.
func (p *peer) segmentedLowers(dst message.Address, opcode message.Opcode, params []byte) [][]byte {
	p.t.Helper()
	payload, err := message.EncodeAccessPDU(opcode, params)
	require.NoError(p.t, err)
	upper, err := message.EncryptUpper(payload, p.appKey.Key, true, message.UpperContext{
		Seq: p.seq, Src: p.addr, Dst: dst, IVIndex: p.iv,
	})
	require.NoError(p.t, err)
	segs, err := segment.Segment(upper, segment.Header{
		AKF: true, AID: p.appKey.AID, SeqZero: uint16(p.seq & message.SeqZeroMask),
	}, segment.DefaultSegmentLength+1)
	require.NoError(p.t, err)

	lowers := make([][]byte, len(segs))
	for i, s := range segs {
		lowers[i], err = s.Encode()
		require.NoError(p.t, err)
	}
	return lowers
}

func (p *peer) control(dst message.Address, ttl uint8, ctl *message.UnsegmentedControl) []byte {
	p.t.Helper()
	lower, err := ctl.Encode()
	require.NoError(p.t, err)
	return p.wrap(true, ttl, dst, lower)
}

func (p *peer) segmentAck(dst message.Address, seqZero uint16, blockAck uint32) []byte {
	return p.control(dst, ControlMessageTTL, (&message.SegmentAck{SeqZero: seqZero, BlockAck: blockAck}).Control())
}

// decodeNetwork opens a PDU emitted by a controller using the test keys.
func decodeNetwork(t *testing.T, data []byte, iv uint32) *message.NetworkPDU {
	t.Helper()
	pdu, err := message.DecodeNetworkPDU(data, testKeys(t), iv)
	require.NoError(t, err)
	return pdu
}

// decodeAccess opens an unsegmented application-key access PDU.
func decodeAccess(t *testing.T, data []byte, iv uint32) (*message.NetworkPDU, *message.AccessPDU) {
	t.Helper()
	pdu := decodeNetwork(t, data, iv)
	lower, err := message.ParseLowerTransport(false, pdu.TransportPDU)
	require.NoError(t, err)
	ua, ok := lower.(*message.UnsegmentedAccess)
	require.True(t, ok, "expected unsegmented access, got %T", lower)
	plain, err := message.DecryptUpper(ua.UpperPDU, mustHex(t, testAppKey), true, message.UpperContext{
		Seq: pdu.SEQ, Src: pdu.SRC, Dst: pdu.DST, IVIndex: iv,
	})
	require.NoError(t, err)
	access, err := message.DecodeAccessPDU(plain)
	require.NoError(t, err)
	return pdu, access
}

// decodeSegmentAck opens a segment acknowledgment emitted by a controller.
func decodeSegmentAck(t *testing.T, data []byte) (*message.NetworkPDU, *message.SegmentAck) {
	t.Helper()
	pdu := decodeNetwork(t, data, 0)
	require.True(t, pdu.CTL)
	lower, err := message.ParseLowerTransport(true, pdu.TransportPDU)
	require.NoError(t, err)
	ctl, ok := lower.(*message.UnsegmentedControl)
	require.True(t, ok)
	require.Equal(t, uint8(message.ControlOpcodeSegmentAck), ctl.Opcode)
	ack, err := message.ParseSegmentAck(ctl.Params)
	require.NoError(t, err)
	return pdu, ack
}
