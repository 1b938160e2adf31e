package networking

import (
	"bytes"
	"time"

	"github.com/backkem/blemesh/pkg/message"
	"github.com/backkem/blemesh/pkg/segment"
)

// Mesh message defaults.
const (
	DefaultTTL           = 10
	DefaultRetryCount    = 2
	DefaultRetryInterval = 1280 * time.Millisecond
	DefaultResponseMax   = 1
)

// AccessType selects the key protecting an access message.
type AccessType uint8

const (
	// AccessDevice uses the device key of the destination node.
	AccessDevice AccessType = iota
	// AccessApplication uses an application key.
	AccessApplication
)

func (a AccessType) String() string {
	if a == AccessApplication {
		return "application"
	}
	return "device"
}

// ExtendBearerMode selects when long segments may be used.
type ExtendBearerMode uint8

const (
	// ExtendBearerNone always uses the default segment length.
	ExtendBearerNone ExtendBearerMode = iota
	// ExtendBearerGATT uses long segments towards the direct peer.
	ExtendBearerGATT
	// ExtendBearerGATTAndADV uses long segments for every destination.
	ExtendBearerGATTAndADV
)

// MeshMessage is an outbound access message.
type MeshMessage struct {
	Destination message.Address
	Opcode      message.Opcode
	Params      []byte

	AccessType  AccessType
	AppKeyIndex uint16

	// CTL is reserved for control traffic; access messages leave it unset.
	CTL   bool
	TTL   uint8
	SZMIC bool

	// Reliable messages wait for ResponseMax distinct responses carrying
	// ResponseOpcode and are retried RetryCount times every RetryInterval.
	Reliable       bool
	ResponseOpcode message.Opcode
	ResponseMax    int
	RetryCount     int
	RetryInterval  time.Duration

	// HasTID marks Params[TIDPosition] as a transaction identifier that is
	// assigned on first send and kept on retries.
	HasTID      bool
	TIDPosition int
}

// NewMeshMessage creates an application-key message with default TTL and
// retry parameters.
func NewMeshMessage(dst message.Address, opcode message.Opcode, params []byte) *MeshMessage {
	return &MeshMessage{
		Destination:   dst,
		Opcode:        opcode,
		Params:        params,
		AccessType:    AccessApplication,
		TTL:           DefaultTTL,
		ResponseMax:   DefaultResponseMax,
		RetryCount:    DefaultRetryCount,
		RetryInterval: DefaultRetryInterval,
	}
}

// NewReliableMessage creates a message that expects responseOpcode back.
func NewReliableMessage(dst message.Address, opcode message.Opcode, params []byte, responseOpcode message.Opcode) *MeshMessage {
	m := NewMeshMessage(dst, opcode, params)
	m.Reliable = true
	m.ResponseOpcode = responseOpcode
	return m
}

func (m *MeshMessage) clone() *MeshMessage {
	c := *m
	c.Params = bytes.Clone(m.Params)
	return &c
}

// segmentLength returns the access payload limit of an unsegmented message
// for dst under the given bearer mode.
func segmentLength(mode ExtendBearerMode, dst, direct message.Address) int {
	switch mode {
	case ExtendBearerGATT:
		if dst == direct {
			return segment.LongSegmentLength
		}
	case ExtendBearerGATTAndADV:
		return segment.LongSegmentLength
	}
	return segment.DefaultSegmentLength
}
