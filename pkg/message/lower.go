package message

import (
	"bytes"
	"encoding/binary"
)

// Control message opcodes (Mesh Profile Section 3.6.5.11).
const (
	ControlOpcodeSegmentAck uint8 = 0x00
	ControlOpcodeHeartbeat  uint8 = 0x0A
)

// Lower transport header bits.
const (
	lowerSEGBit = 0x80
	lowerAKFBit = 0x40
	lowerAIDMax = 0x3F
	lowerOpMax  = 0x7F

	segmentedHeaderSize = 4
	segmentAckSize      = 6
	heartbeatSize       = 3
)

// LowerPDU is one of the lower transport PDU variants.
type LowerPDU interface {
	// Encode returns the wire form of the PDU.
	Encode() ([]byte, error)
}

// UnsegmentedAccess carries a whole upper transport access PDU.
type UnsegmentedAccess struct {
	AKF      bool
	AID      uint8
	UpperPDU []byte
}

// Encode serializes SEG=0 | AKF | AID || UpperPDU.
func (p *UnsegmentedAccess) Encode() ([]byte, error) {
	if p.AID > lowerAIDMax {
		return nil, ErrInvalidField
	}
	if len(p.UpperPDU) == 0 {
		return nil, ErrEmptyPayload
	}
	out := make([]byte, 1+len(p.UpperPDU))
	out[0] = accessHeader(false, p.AKF, p.AID)
	copy(out[1:], p.UpperPDU)
	return out, nil
}

// SegmentedAccess carries one segment of an upper transport access PDU.
type SegmentedAccess struct {
	AKF     bool
	AID     uint8
	SZMIC   bool
	SeqZero uint16
	SegO    uint8
	SegN    uint8
	Segment []byte
}

// Encode serializes SEG=1 | AKF | AID || SZMIC | SeqZero | SegO | SegN || Segment.
func (p *SegmentedAccess) Encode() ([]byte, error) {
	if p.AID > lowerAIDMax {
		return nil, ErrInvalidField
	}
	if len(p.Segment) == 0 {
		return nil, ErrEmptyPayload
	}
	if err := checkSegmentation(p.SeqZero, p.SegO, p.SegN); err != nil {
		return nil, err
	}
	out := make([]byte, segmentedHeaderSize+len(p.Segment))
	out[0] = accessHeader(true, p.AKF, p.AID)
	putSegmentation(out[1:4], p.SZMIC, p.SeqZero, p.SegO, p.SegN)
	copy(out[segmentedHeaderSize:], p.Segment)
	return out, nil
}

// UnsegmentedControl carries a transport control message.
type UnsegmentedControl struct {
	Opcode uint8
	Params []byte
}

// Encode serializes SEG=0 | Opcode || Params.
func (p *UnsegmentedControl) Encode() ([]byte, error) {
	if p.Opcode > lowerOpMax {
		return nil, ErrInvalidField
	}
	out := make([]byte, 1+len(p.Params))
	out[0] = p.Opcode
	copy(out[1:], p.Params)
	return out, nil
}

// SegmentedControl carries one segment of a transport control message.
type SegmentedControl struct {
	Opcode  uint8
	SeqZero uint16
	SegO    uint8
	SegN    uint8
	Segment []byte
}

// Encode serializes SEG=1 | Opcode || RFU | SeqZero | SegO | SegN || Segment.
func (p *SegmentedControl) Encode() ([]byte, error) {
	if p.Opcode > lowerOpMax {
		return nil, ErrInvalidField
	}
	if err := checkSegmentation(p.SeqZero, p.SegO, p.SegN); err != nil {
		return nil, err
	}
	out := make([]byte, segmentedHeaderSize+len(p.Segment))
	out[0] = lowerSEGBit | p.Opcode
	putSegmentation(out[1:4], false, p.SeqZero, p.SegO, p.SegN)
	copy(out[segmentedHeaderSize:], p.Segment)
	return out, nil
}

// ParseLowerTransport decodes a lower transport PDU. ctl is the CTL bit of the
// enclosing network PDU. The result is one of *UnsegmentedAccess,
// *SegmentedAccess, *UnsegmentedControl or *SegmentedControl.
func ParseLowerTransport(ctl bool, data []byte) (LowerPDU, error) {
	if len(data) == 0 {
		return nil, ErrPDUTooShort
	}
	segmented := data[0]&lowerSEGBit != 0
	if segmented && len(data) <= segmentedHeaderSize {
		return nil, ErrPDUTooShort
	}
	if !ctl && len(data) < 2 {
		return nil, ErrPDUTooShort
	}

	switch {
	case !ctl && !segmented:
		return &UnsegmentedAccess{
			AKF:      data[0]&lowerAKFBit != 0,
			AID:      data[0] & lowerAIDMax,
			UpperPDU: bytes.Clone(data[1:]),
		}, nil
	case !ctl:
		szmic, seqZero, segO, segN := segmentation(data[1:4])
		if segO > segN {
			return nil, ErrSegmentedHeader
		}
		return &SegmentedAccess{
			AKF:     data[0]&lowerAKFBit != 0,
			AID:     data[0] & lowerAIDMax,
			SZMIC:   szmic,
			SeqZero: seqZero,
			SegO:    segO,
			SegN:    segN,
			Segment: bytes.Clone(data[segmentedHeaderSize:]),
		}, nil
	case !segmented:
		return &UnsegmentedControl{
			Opcode: data[0] & lowerOpMax,
			Params: bytes.Clone(data[1:]),
		}, nil
	default:
		_, seqZero, segO, segN := segmentation(data[1:4])
		if segO > segN {
			return nil, ErrSegmentedHeader
		}
		return &SegmentedControl{
			Opcode:  data[0] & lowerOpMax,
			SeqZero: seqZero,
			SegO:    segO,
			SegN:    segN,
			Segment: bytes.Clone(data[segmentedHeaderSize:]),
		}, nil
	}
}

// SegmentAck acknowledges received segments of a segmented message.
type SegmentAck struct {
	// OBO is set when a friend acknowledges on behalf of a low power node.
	OBO      bool
	SeqZero  uint16
	BlockAck uint32
}

// Control wraps the acknowledgment into an unsegmented control message.
func (a *SegmentAck) Control() *UnsegmentedControl {
	params := make([]byte, segmentAckSize)
	v := uint16(a.SeqZero&SeqZeroMask) << 2
	if a.OBO {
		v |= 0x8000
	}
	binary.BigEndian.PutUint16(params[0:2], v)
	binary.BigEndian.PutUint32(params[2:6], a.BlockAck)
	return &UnsegmentedControl{Opcode: ControlOpcodeSegmentAck, Params: params}
}

// Encode serializes the acknowledgment as a lower transport PDU.
func (a *SegmentAck) Encode() ([]byte, error) {
	return a.Control().Encode()
}

// ParseSegmentAck decodes the parameters of a segment acknowledgment.
func ParseSegmentAck(params []byte) (*SegmentAck, error) {
	if len(params) < segmentAckSize {
		return nil, ErrPDUTooShort
	}
	v := binary.BigEndian.Uint16(params[0:2])
	return &SegmentAck{
		OBO:      v&0x8000 != 0,
		SeqZero:  (v >> 2) & SeqZeroMask,
		BlockAck: binary.BigEndian.Uint32(params[2:6]),
	}, nil
}

// Heartbeat is the heartbeat transport control message.
type Heartbeat struct {
	InitTTL  uint8
	Features uint16
}

// Control wraps the heartbeat into an unsegmented control message.
func (h *Heartbeat) Control() *UnsegmentedControl {
	params := make([]byte, heartbeatSize)
	params[0] = h.InitTTL & MaxTTL
	binary.BigEndian.PutUint16(params[1:3], h.Features)
	return &UnsegmentedControl{Opcode: ControlOpcodeHeartbeat, Params: params}
}

// Encode serializes the heartbeat as a lower transport PDU.
func (h *Heartbeat) Encode() ([]byte, error) {
	return h.Control().Encode()
}

// ParseHeartbeat decodes the parameters of a heartbeat message.
func ParseHeartbeat(params []byte) (*Heartbeat, error) {
	if len(params) < heartbeatSize {
		return nil, ErrPDUTooShort
	}
	return &Heartbeat{
		InitTTL:  params[0] & MaxTTL,
		Features: binary.BigEndian.Uint16(params[1:3]),
	}, nil
}

func accessHeader(seg, akf bool, aid uint8) byte {
	b := aid & lowerAIDMax
	if seg {
		b |= lowerSEGBit
	}
	if akf {
		b |= lowerAKFBit
	}
	return b
}

func checkSegmentation(seqZero uint16, segO, segN uint8) error {
	if seqZero > SeqZeroMask || segN >= MaxSegments || segO > segN {
		return ErrSegmentedHeader
	}
	return nil
}

// putSegmentation packs SZMIC(1) | SeqZero(13) | SegO(5) | SegN(5).
func putSegmentation(b []byte, szmic bool, seqZero uint16, segO, segN uint8) {
	v := uint32(seqZero&SeqZeroMask)<<10 | uint32(segO&0x1F)<<5 | uint32(segN&0x1F)
	if szmic {
		v |= 1 << 23
	}
	putUint24(b, v)
}

func segmentation(b []byte) (szmic bool, seqZero uint16, segO, segN uint8) {
	v := uint24(b)
	return v&(1<<23) != 0, uint16(v>>10) & SeqZeroMask, uint8(v>>5) & 0x1F, uint8(v) & 0x1F
}
