// Package proxy implements the mesh proxy protocol messages: proxy PDU types
// and proxy configuration messages (Mesh Profile Section 6).
package proxy

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/backkem/blemesh/pkg/message"
)

// PDUType identifies the content of a proxy PDU.
type PDUType uint8

const (
	PDUTypeNetwork            PDUType = 0x00
	PDUTypeMeshBeacon         PDUType = 0x01
	PDUTypeProxyConfiguration PDUType = 0x02
	PDUTypeProvisioning       PDUType = 0x03
)

func (t PDUType) String() string {
	switch t {
	case PDUTypeNetwork:
		return "NetworkPDU"
	case PDUTypeMeshBeacon:
		return "MeshBeacon"
	case PDUTypeProxyConfiguration:
		return "ProxyConfiguration"
	case PDUTypeProvisioning:
		return "Provisioning"
	default:
		return fmt.Sprintf("PDUType(%d)", uint8(t))
	}
}

// Opcode is a proxy configuration opcode.
type Opcode uint8

const (
	OpSetFilterType   Opcode = 0x00
	OpAddAddresses    Opcode = 0x01
	OpRemoveAddresses Opcode = 0x02
	OpFilterStatus    Opcode = 0x03
)

// FilterType selects accept list (whitelist) or reject list semantics.
type FilterType uint8

const (
	FilterAcceptList FilterType = 0x00
	FilterRejectList FilterType = 0x01
)

var (
	ErrTooShort      = errors.New("proxy: configuration message too short")
	ErrUnknownOpcode = errors.New("proxy: unknown configuration opcode")
	ErrInvalidFilter = errors.New("proxy: invalid filter type")
)

// Config is a decoded proxy configuration message.
type Config struct {
	Opcode     Opcode
	FilterType FilterType
	Addresses  []message.Address
	ListSize   uint16
}

// SetFilterType builds a Set Filter Type message.
func SetFilterType(t FilterType) *Config {
	return &Config{Opcode: OpSetFilterType, FilterType: t}
}

// AddAddresses builds an Add Addresses To Filter message.
func AddAddresses(addrs ...message.Address) *Config {
	return &Config{Opcode: OpAddAddresses, Addresses: addrs}
}

// RemoveAddresses builds a Remove Addresses From Filter message.
func RemoveAddresses(addrs ...message.Address) *Config {
	return &Config{Opcode: OpRemoveAddresses, Addresses: addrs}
}

// FilterStatus builds a Filter Status message.
func FilterStatus(t FilterType, listSize uint16) *Config {
	return &Config{Opcode: OpFilterStatus, FilterType: t, ListSize: listSize}
}

// Encode serializes the message.
func (c *Config) Encode() ([]byte, error) {
	switch c.Opcode {
	case OpSetFilterType:
		if c.FilterType > FilterRejectList {
			return nil, ErrInvalidFilter
		}
		return []byte{byte(c.Opcode), byte(c.FilterType)}, nil
	case OpAddAddresses, OpRemoveAddresses:
		out := make([]byte, 1+2*len(c.Addresses))
		out[0] = byte(c.Opcode)
		for i, a := range c.Addresses {
			binary.BigEndian.PutUint16(out[1+2*i:], uint16(a))
		}
		return out, nil
	case OpFilterStatus:
		if c.FilterType > FilterRejectList {
			return nil, ErrInvalidFilter
		}
		out := make([]byte, 4)
		out[0] = byte(c.Opcode)
		out[1] = byte(c.FilterType)
		binary.BigEndian.PutUint16(out[2:], c.ListSize)
		return out, nil
	default:
		return nil, ErrUnknownOpcode
	}
}

// Decode parses a proxy configuration message.
func Decode(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, ErrTooShort
	}
	c := &Config{Opcode: Opcode(data[0])}
	switch c.Opcode {
	case OpSetFilterType:
		if len(data) < 2 {
			return nil, ErrTooShort
		}
		c.FilterType = FilterType(data[1])
		if c.FilterType > FilterRejectList {
			return nil, ErrInvalidFilter
		}
	case OpAddAddresses, OpRemoveAddresses:
		body := data[1:]
		for len(body) >= 2 {
			c.Addresses = append(c.Addresses, message.Address(binary.BigEndian.Uint16(body)))
			body = body[2:]
		}
	case OpFilterStatus:
		if len(data) < 4 {
			return nil, ErrTooShort
		}
		c.FilterType = FilterType(data[1])
		c.ListSize = binary.BigEndian.Uint16(data[2:4])
	default:
		return nil, ErrUnknownOpcode
	}
	return c, nil
}
