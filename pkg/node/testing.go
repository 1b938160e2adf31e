package node

import (
	"encoding/hex"

	"github.com/backkem/blemesh/pkg/message"
	"github.com/backkem/blemesh/pkg/networking"
	"github.com/backkem/blemesh/pkg/store"
	"github.com/backkem/blemesh/pkg/transport"
)

// Keys of the Mesh Profile sample data.
const (
	TestNetworkKey = "7dd7364cd842ad18c17c2b820c84c3d6"
	TestAppKey     = "63964771734fbd76e3b40519d1d94a48"
	TestDeviceKey  = "9d6dd0e96eb25dc19a40ed9914f8f03f"
)

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// TestMeshConfiguration returns a mesh configuration using the sample keys,
// application key index 0 and device keys for nodes 0x0001 to 0x0003.
func TestMeshConfiguration(local message.Address) networking.MeshConfiguration {
	devKey := mustDecodeHex(TestDeviceKey)
	return networking.MeshConfiguration{
		NetworkKey:     mustDecodeHex(TestNetworkKey),
		AppKeys:        map[uint16][]byte{0: mustDecodeHex(TestAppKey)},
		DeviceKeys:     map[message.Address][]byte{0x0001: devKey, 0x0002: devKey, 0x0003: devKey},
		SequenceNumber: 1,
		LocalAddress:   local,
	}
}

// TestConfig returns a Config for local with an in-memory store. Conn is
// left for the caller or NewPipePair to fill in.
func TestConfig(local message.Address) Config {
	return Config{
		Mesh:  TestMeshConfiguration(local),
		Store: store.NewMemoryStore(),
	}
}

// NewPipePair creates two nodes connected by an in-memory pipe. The Conn
// fields of a and b are replaced. Neither node is started.
func NewPipePair(a, b Config) (*Node, *Node, *transport.Pipe, error) {
	pipe := transport.NewPipe()
	a.Conn = pipe.Conn0()
	b.Conn = pipe.Conn1()

	na, err := NewNode(a)
	if err != nil {
		pipe.Close()
		return nil, nil, nil, err
	}
	nb, err := NewNode(b)
	if err != nil {
		pipe.Close()
		return nil, nil, nil, err
	}
	return na, nb, pipe, nil
}
