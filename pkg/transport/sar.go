package transport

import (
	"bytes"
	"fmt"

	"github.com/backkem/blemesh/pkg/proxy"
)

// SAR is the segmentation and reassembly field of a proxy PDU header
// (Mesh Profile Section 6.3.1).
type SAR uint8

const (
	SARComplete     SAR = 0x00
	SARFirst        SAR = 0x01
	SARContinuation SAR = 0x02
	SARLast         SAR = 0x03
)

// String returns the string representation of the SAR value.
func (s SAR) String() string {
	switch s {
	case SARComplete:
		return "Complete"
	case SARFirst:
		return "First"
	case SARContinuation:
		return "Continuation"
	case SARLast:
		return "Last"
	default:
		return fmt.Sprintf("SAR(%d)", uint8(s))
	}
}

const (
	// DefaultMTU is the frame size of one GATT write with the default ATT
	// MTU of 23.
	DefaultMTU = 20

	// MinMTU leaves room for the header and one data byte.
	MinMTU = 2

	// MaxMTU is the frame size with the largest ATT MTU of 517.
	MaxMTU = 514

	// MaxPDUSize bounds a reassembled proxy PDU.
	MaxPDUSize = 1024

	typeMask = 0x3F
)

func header(sar SAR, typ proxy.PDUType) byte {
	return byte(sar)<<6 | byte(typ)&typeMask
}

// Fragment splits a proxy PDU into frames of at most mtu bytes.
func Fragment(typ proxy.PDUType, pdu []byte, mtu int) ([][]byte, error) {
	if mtu < MinMTU || mtu > MaxMTU {
		return nil, ErrInvalidMTU
	}
	if len(pdu) == 0 {
		return nil, ErrEmptyPDU
	}
	if len(pdu) > MaxPDUSize {
		return nil, ErrPDUTooLarge
	}
	if uint8(typ) > typeMask {
		return nil, ErrInvalidType
	}

	chunk := mtu - 1
	if len(pdu) <= chunk {
		frame := make([]byte, 0, 1+len(pdu))
		frame = append(frame, header(SARComplete, typ))
		return [][]byte{append(frame, pdu...)}, nil
	}

	frames := make([][]byte, 0, (len(pdu)+chunk-1)/chunk)
	for off := 0; off < len(pdu); off += chunk {
		end := min(off+chunk, len(pdu))
		sar := SARContinuation
		switch {
		case off == 0:
			sar = SARFirst
		case end == len(pdu):
			sar = SARLast
		}
		frame := make([]byte, 0, 1+end-off)
		frame = append(frame, header(sar, typ))
		frames = append(frames, append(frame, pdu[off:end]...))
	}
	return frames, nil
}

// Reassembler rebuilds proxy PDUs from frames. The zero value is ready to use.
// It is not safe for concurrent use.
type Reassembler struct {
	typ    proxy.PDUType
	buf    []byte
	active bool
}

// Push consumes one frame; ok reports that pdu is complete. A first or
// complete frame abandons any partially reassembled PDU.
func (r *Reassembler) Push(frame []byte) (typ proxy.PDUType, pdu []byte, ok bool, err error) {
	if len(frame) < 2 {
		return 0, nil, false, ErrFrameTooShort
	}
	sar := SAR(frame[0] >> 6)
	typ = proxy.PDUType(frame[0] & typeMask)
	data := frame[1:]

	switch sar {
	case SARComplete:
		r.Reset()
		return typ, bytes.Clone(data), true, nil
	case SARFirst:
		r.Reset()
		r.typ = typ
		r.active = true
		r.buf = bytes.Clone(data)
		return typ, nil, false, nil
	}

	if !r.active {
		return typ, nil, false, ErrUnexpectedSAR
	}
	if typ != r.typ {
		r.Reset()
		return typ, nil, false, ErrTypeMismatch
	}
	if len(r.buf)+len(data) > MaxPDUSize {
		r.Reset()
		return typ, nil, false, ErrPDUTooLarge
	}
	r.buf = append(r.buf, data...)
	if sar == SARContinuation {
		return typ, nil, false, nil
	}

	pdu = r.buf
	r.Reset()
	return typ, pdu, true, nil
}

// Reset drops any partially reassembled PDU.
func (r *Reassembler) Reset() {
	r.typ = 0
	r.buf = nil
	r.active = false
}

// InProgress reports whether a segmented PDU is being reassembled.
func (r *Reassembler) InProgress() bool {
	return r.active
}
