// Package segment implements the lower transport segmentation and
// reassembly state of a mesh node (Mesh Profile Section 3.5.3).
package segment

import (
	"errors"

	"github.com/backkem/blemesh/pkg/message"
)

// Segment payload sizes. A message is segmented when its access PDU is longer
// than the segment length; each segment then carries length+1 upper bytes.
const (
	// DefaultSegmentLength applies to advertising bearers.
	DefaultSegmentLength = 11

	// LongSegmentLength applies to the extended GATT bearer modes.
	LongSegmentLength = 225
)

var (
	ErrEmptyPDU         = errors.New("segment: empty upper transport PDU")
	ErrInvalidSize      = errors.New("segment: invalid segment size")
	ErrTooManySegments  = errors.New("segment: upper transport PDU needs more than 32 segments")
	ErrInvalidSegmentNo = errors.New("segment: SegO greater than SegN")
)

// SeqAuth returns the 56-bit identity of a segmented message: the low 31 bits
// of the IV index followed by the 24-bit sequence number of the first segment.
func SeqAuth(ivIndex, seq uint32) uint64 {
	return uint64(seq&message.MaxSequenceNumber) | uint64(ivIndex&0x7FFFFFFF)<<24
}

// TransportSeq recovers the sequence number of the first segment from the
// sequence number of any later segment and its 13-bit SeqZero.
func TransportSeq(pduSeq uint32, seqZero uint16) uint32 {
	zero := uint32(seqZero) & message.SeqZeroMask
	var high uint32
	if pduSeq&message.SeqZeroMask < zero {
		high = (pduSeq - (message.SeqZeroMask + 1)) & 0xFFE000
	} else {
		high = pduSeq & 0xFFE000
	}
	return high | zero
}

// SegmentCount returns ceil(n/size).
func SegmentCount(n, size int) int {
	if size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// Split cuts upper into chunks of size bytes; the last chunk may be shorter.
func Split(upper []byte, size int) ([][]byte, error) {
	if len(upper) == 0 {
		return nil, ErrEmptyPDU
	}
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	n := SegmentCount(len(upper), size)
	if n > message.MaxSegments {
		return nil, ErrTooManySegments
	}
	out := make([][]byte, 0, n)
	for len(upper) > 0 {
		k := min(size, len(upper))
		out = append(out, upper[:k:k])
		upper = upper[k:]
	}
	return out, nil
}

// Header is the lower transport header shared by every segment of a message.
type Header struct {
	AKF     bool
	AID     uint8
	SZMIC   bool
	SeqZero uint16
}

// Segment splits an upper transport access PDU into segmented access PDUs.
func Segment(upper []byte, hdr Header, size int) ([]*message.SegmentedAccess, error) {
	chunks, err := Split(upper, size)
	if err != nil {
		return nil, err
	}
	segN := uint8(len(chunks) - 1)
	out := make([]*message.SegmentedAccess, len(chunks))
	for i, c := range chunks {
		out[i] = &message.SegmentedAccess{
			AKF:     hdr.AKF,
			AID:     hdr.AID,
			SZMIC:   hdr.SZMIC,
			SeqZero: hdr.SeqZero & message.SeqZeroMask,
			SegO:    uint8(i),
			SegN:    segN,
			Segment: c,
		}
	}
	return out, nil
}

// BlockAckAll returns a block ack with bits 0..segN set.
func BlockAckAll(segN uint8) uint32 {
	if segN >= 31 {
		return 0xFFFFFFFF
	}
	return 1<<(uint32(segN)+1) - 1
}
