package networking

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backkem/blemesh/pkg/message"
)

// slowAckTiming never lets the block ack wait expire during a test.
func slowAckTiming(cfg *Config, _ *MeshConfiguration) {
	cfg.Timing.RelayTimeout = time.Hour
}

// thirtyBytes is an access payload that needs three segments.
var thirtyBytes = bytes.Repeat([]byte{0xA5}, 28)

func segmentOf(t *testing.T, data []byte) (*message.NetworkPDU, *message.SegmentedAccess) {
	t.Helper()
	pdu := decodeNetwork(t, data, 0)
	lower, err := message.ParseLowerTransport(false, pdu.TransportPDU)
	require.NoError(t, err)
	seg, ok := lower.(*message.SegmentedAccess)
	require.True(t, ok, "expected segmented access, got %T", lower)
	return pdu, seg
}

func TestSegmentAckRetransmitsMissing(t *testing.T) {
	ctrl, rec := newTestController(t, 0x0001, slowAckTiming)
	remote := newPeer(t, 0x0002)

	require.NoError(t, ctrl.SendMeshMessage(NewMeshMessage(0x0002, 0x8204, thirtyBytes)))
	require.Eventually(t, func() bool { return len(rec.network()) == 3 }, waitFor, tick)
	for i, pdu := range rec.network() {
		_, seg := segmentOf(t, pdu)
		assert.EqualValues(t, i, seg.SegO)
		assert.EqualValues(t, 2, seg.SegN)
		assert.EqualValues(t, 1, seg.SeqZero)
	}

	require.NoError(t, ctrl.ParseNetworkPDU(remote.segmentAck(0x0001, 1, 0b101)))
	require.Eventually(t, func() bool { return len(rec.network()) == 4 }, waitFor, tick)
	pdu, seg := segmentOf(t, rec.network()[3])
	assert.EqualValues(t, 1, seg.SegO)
	assert.EqualValues(t, 4, pdu.SEQ)
	assert.Empty(t, rec.segmentResults())

	require.NoError(t, ctrl.ParseNetworkPDU(remote.segmentAck(0x0001, 1, 0b010)))
	require.Eventually(t, func() bool { return len(rec.segmentResults()) == 1 }, waitFor, tick)
	assert.Equal(t, []bool{true}, rec.segmentResults())
	assert.Len(t, rec.network(), 4)
}

func TestSegmentAckIgnored(t *testing.T) {
	ctrl, rec := newTestController(t, 0x0001, slowAckTiming)
	other := newPeer(t, 0x0003)
	remote := newPeer(t, 0x0002)

	require.NoError(t, ctrl.SendMeshMessage(NewMeshMessage(0x0002, 0x8204, thirtyBytes)))
	require.Eventually(t, func() bool { return len(rec.network()) == 3 }, waitFor, tick)

	require.NoError(t, ctrl.ParseNetworkPDU(other.segmentAck(0x0001, 1, 0b111)))
	require.NoError(t, ctrl.ParseNetworkPDU(remote.segmentAck(0x0001, 2, 0b111)))
	assert.Never(t, func() bool { return len(rec.segmentResults()) > 0 || len(rec.network()) > 3 }, 50*time.Millisecond, tick)
}

func TestSegmentAckZeroCancels(t *testing.T) {
	ctrl, rec := newTestController(t, 0x0001, slowAckTiming)
	remote := newPeer(t, 0x0002)

	require.NoError(t, ctrl.SendMeshMessage(NewMeshMessage(0x0002, 0x8204, thirtyBytes)))
	require.NoError(t, ctrl.ParseNetworkPDU(remote.segmentAck(0x0001, 1, 0)))
	require.Eventually(t, func() bool { return len(rec.segmentResults()) == 1 }, waitFor, tick)
	assert.Equal(t, []bool{false}, rec.segmentResults())

	assert.NoError(t, ctrl.SendMeshMessage(NewMeshMessage(0x0002, 0x8204, thirtyBytes)))
}

func TestSegmentBusy(t *testing.T) {
	ctrl, rec := newTestController(t, 0x0001, func(cfg *Config, mc *MeshConfiguration) {
		slowAckTiming(cfg, mc)
		cfg.Timing.SegmentBusyTimeout = 100 * time.Millisecond
	})

	require.NoError(t, ctrl.SendMeshMessage(NewMeshMessage(0x0002, 0x8204, thirtyBytes)))
	assert.ErrorIs(t, ctrl.SendMeshMessage(NewMeshMessage(0x0003, 0x8204, thirtyBytes)), ErrSegmentBusy)
	assert.NoError(t, ctrl.SendMeshMessage(NewMeshMessage(0x0003, 0x8202, []byte{1})))

	require.Eventually(t, func() bool { return len(rec.segmentResults()) == 1 }, waitFor, tick)
	assert.Equal(t, []bool{false}, rec.segmentResults())
	assert.NoError(t, ctrl.SendMeshMessage(NewMeshMessage(0x0003, 0x8204, thirtyBytes)))
}

func TestBlockAckWaitExpiryResends(t *testing.T) {
	ctrl, rec := newTestController(t, 0x0001, func(cfg *Config, _ *MeshConfiguration) {
		cfg.Timing.RelayTimeout = 20 * time.Millisecond
	})

	require.NoError(t, ctrl.SendMeshMessage(NewMeshMessage(0x0002, 0x8204, thirtyBytes)))
	require.Eventually(t, func() bool { return len(rec.network()) >= 6 }, waitFor, tick)

	pdus := rec.network()
	for i := 3; i < 6; i++ {
		pdu, seg := segmentOf(t, pdus[i])
		assert.EqualValues(t, i-3, seg.SegO)
		assert.EqualValues(t, i+1, pdu.SEQ)
	}
}

func TestSegmentedGroupNotAcknowledged(t *testing.T) {
	ctrl, rec := newTestController(t, 0x0001, nil)

	require.NoError(t, ctrl.SendMeshMessage(NewMeshMessage(0xC000, 0x8204, thirtyBytes)))
	require.Eventually(t, func() bool { return len(rec.network()) == 3 }, waitFor, tick)

	// No block ack is expected, so another segmented message may follow.
	assert.NoError(t, ctrl.SendMeshMessage(NewMeshMessage(0xC000, 0x8204, thirtyBytes)))
	assert.Empty(t, rec.segmentResults())
}
