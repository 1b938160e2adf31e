package networking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backkem/blemesh/pkg/beacon"
	"github.com/backkem/blemesh/pkg/proxy"
	"github.com/backkem/blemesh/pkg/sequence"
)

func secureBeacon(t *testing.T, iv uint32, updating bool) []byte {
	t.Helper()
	keys := testKeys(t)
	var flags beacon.Flags
	if updating {
		flags = beacon.FlagIVUpdate
	}
	data, err := (&beacon.SecureNetworkBeacon{Flags: flags, NetworkID: keys.NetworkID, IVIndex: iv}).Encode(keys.BeaconKey)
	require.NoError(t, err)
	return data
}

func atIVIndex(iv, seq uint32) func(*Config, *MeshConfiguration) {
	return func(_ *Config, mc *MeshConfiguration) {
		mc.IVIndex = iv
		mc.SequenceNumber = seq
	}
}

func TestBeaconRemoteUpdatingLeavesIdleNode(t *testing.T) {
	ctrl, rec := newTestController(t, 0x0001, atIVIndex(5, 0x100))

	require.NoError(t, ctrl.ParseSecureBeacon(secureBeacon(t, 6, true), nil))

	assert.EqualValues(t, 0x100, ctrl.SequenceNumber())
	assert.EqualValues(t, 5, ctrl.seq.CommittedIVIndex())
	assert.EqualValues(t, 5, ctrl.seq.TransmitIVIndex())
	assert.Empty(t, rec.networkInfos())

	ctrl.SetDirectAddress(0x0002)
	require.NoError(t, ctrl.SendMeshMessage(NewMeshMessage(0x0002, 0x8202, nil)))
	pdu, _ := decodeAccess(t, rec.network()[0], 5)
	assert.EqualValues(t, 0x100, pdu.SEQ)
}

func TestBeaconCompletesLocalUpdate(t *testing.T) {
	ctrl, rec := newTestController(t, 0x0001, atIVIndex(5, sequence.UpdateThreshold))

	require.NoError(t, ctrl.CheckSequenceNumber())
	require.True(t, ctrl.IVUpdating())
	assert.EqualValues(t, 6, ctrl.IVIndex())

	require.NoError(t, ctrl.ParseSecureBeacon(secureBeacon(t, 6, false), nil))
	assert.False(t, ctrl.IVUpdating())
	assert.EqualValues(t, 6, ctrl.IVIndex())
	assert.EqualValues(t, 0, ctrl.SequenceNumber())
	assert.Equal(t, []NetworkInfo{{SequenceNumber: 0, IVIndex: 6}}, rec.networkInfos())
}

func TestBeaconAdvancesIVIndex(t *testing.T) {
	ctrl, rec := newTestController(t, 0x0001, atIVIndex(5, 0x100))
	remote := newPeer(t, 0x0002)
	remote.iv = 5
	require.NoError(t, ctrl.ParseNetworkPDU(remote.access(0x0001, 0x8201, nil)))

	require.NoError(t, ctrl.ParseSecureBeacon(secureBeacon(t, 7, false), nil))
	assert.EqualValues(t, 7, ctrl.IVIndex())
	assert.EqualValues(t, 0, ctrl.SequenceNumber())
	assert.Equal(t, []NetworkInfo{{SequenceNumber: 0, IVIndex: 7}}, rec.networkInfos())

	// Replay state starts over with the new IV index.
	remote.iv = 7
	remote.seq = 1
	require.NoError(t, ctrl.ParseNetworkPDU(remote.access(0x0001, 0x8201, nil)))
	assert.Len(t, rec.meshMessages(), 2)
}

func TestBeaconRejected(t *testing.T) {
	ctrl, _ := newTestController(t, 0x0001, atIVIndex(50, 0))

	assert.ErrorIs(t, ctrl.ParseSecureBeacon(secureBeacon(t, 49, false), nil), sequence.ErrIVIndexStale)
	assert.ErrorIs(t, ctrl.ParseSecureBeacon(secureBeacon(t, 50+sequence.MaxIVIndexDelta+1, false), nil), sequence.ErrIVIndexTooFar)
	assert.EqualValues(t, 50, ctrl.IVIndex())

	keys := testKeys(t)
	foreign, err := (&beacon.SecureNetworkBeacon{NetworkID: make([]byte, 8), IVIndex: 51}).Encode(keys.BeaconKey)
	require.NoError(t, err)
	assert.ErrorIs(t, ctrl.ParseSecureBeacon(foreign, nil), ErrDropped)

	bad := secureBeacon(t, 51, false)
	bad[len(bad)-1] ^= 0x01
	assert.Error(t, ctrl.ParseSecureBeacon(bad, nil))
	assert.EqualValues(t, 50, ctrl.IVIndex())
}

func TestCheckSequenceNumberSecureBeacon(t *testing.T) {
	ctrl, rec := newTestController(t, 0x0001, atIVIndex(5, 0x100))
	keys := testKeys(t)

	require.NoError(t, ctrl.CheckSequenceNumber())
	beacons := rec.ofType(proxy.PDUTypeMeshBeacon)
	require.Len(t, beacons, 1)
	b, err := beacon.DecodeSecureNetworkBeacon(beacons[0], keys.BeaconKey)
	require.NoError(t, err)
	assert.False(t, b.Flags.IVUpdate())
	assert.EqualValues(t, 5, b.IVIndex)
	assert.False(t, ctrl.IVUpdating())
}

func TestCheckSequenceNumberStartsUpdate(t *testing.T) {
	ctrl, rec := newTestController(t, 0x0001, atIVIndex(5, sequence.UpdateThreshold))
	keys := testKeys(t)

	require.NoError(t, ctrl.CheckSequenceNumber())
	beacons := rec.ofType(proxy.PDUTypeMeshBeacon)
	require.Len(t, beacons, 1)
	b, err := beacon.DecodeSecureNetworkBeacon(beacons[0], keys.BeaconKey)
	require.NoError(t, err)
	assert.True(t, b.Flags.IVUpdate())
	assert.EqualValues(t, 5, b.IVIndex)

	// Outgoing traffic keeps the old IV index during the update.
	ctrl.SetDirectAddress(0x0002)
	require.NoError(t, ctrl.SendMeshMessage(NewMeshMessage(0x0002, 0x8202, nil)))
	pdu, _ := decodeAccess(t, rec.network()[0], 5)
	assert.EqualValues(t, sequence.UpdateThreshold, pdu.SEQ)
}

func TestCheckSequenceNumberPrivateBeacon(t *testing.T) {
	ctrl, rec := newTestController(t, 0x0001, atIVIndex(5, 0x100))
	keys := testKeys(t)

	incoming, err := (&beacon.PrivateBeacon{IVIndex: 5}).Encode(keys.PrivateBeaconKey)
	require.NoError(t, err)
	require.NoError(t, ctrl.ParsePrivateBeacon(incoming, nil))

	require.NoError(t, ctrl.CheckSequenceNumber())
	beacons := rec.ofType(proxy.PDUTypeMeshBeacon)
	require.Len(t, beacons, 1)
	b, err := beacon.DecodePrivateBeacon(beacons[0], keys.PrivateBeaconKey)
	require.NoError(t, err)
	assert.EqualValues(t, 5, b.IVIndex)

	// Clear forgets the private beacon.
	ctrl.Clear()
	require.NoError(t, ctrl.CheckSequenceNumber())
	beacons = rec.ofType(proxy.PDUTypeMeshBeacon)
	require.Len(t, beacons, 2)
	_, err = beacon.DecodeSecureNetworkBeacon(beacons[1], keys.BeaconKey)
	assert.NoError(t, err)
}
