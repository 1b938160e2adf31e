package segment

import (
	"math/bits"

	"github.com/backkem/blemesh/pkg/message"
)

// Result classifies an offered segment.
type Result int

const (
	// Accepted means the segment was stored and more are expected.
	Accepted Result = iota
	// Complete means the segment completed the message; Upper returns it.
	Complete
	// DuplicateComplete means the message was already delivered; only a
	// complete block ack must be sent.
	DuplicateComplete
	// Busy means another message is being reassembled; the sender gets a
	// block ack of zero.
	Busy
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Complete:
		return "complete"
	case DuplicateComplete:
		return "duplicate-complete"
	case Busy:
		return "busy"
	default:
		return "unknown"
	}
}

// Reassembler collects the segments of one incoming message at a time.
//
// The identity of the last message (source and SeqAuth) is kept separately
// from the segment buffer: Clear drops the buffer but keeps the identity, so
// a retransmitted segment of a just-delivered message is still recognized.
// Reassembler is not safe for concurrent use; the controller serializes it.
type Reassembler struct {
	src      message.Address
	seqAuth  uint64
	complete bool

	seqZero  uint16
	segN     uint8
	segments map[uint8][]byte

	completed map[message.Address]uint64
	busy      map[message.Address]uint64
}

// NewReassembler creates an idle reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{
		complete:  true,
		segments:  make(map[uint8][]byte),
		completed: make(map[message.Address]uint64),
		busy:      make(map[message.Address]uint64),
	}
}

// Offer processes one received segment of the message identified by
// (src, seqAuth).
func (r *Reassembler) Offer(src message.Address, seqAuth uint64, seg *message.SegmentedAccess) (Result, error) {
	if seg.SegO > seg.SegN {
		return Busy, ErrInvalidSegmentNo
	}
	if s, ok := r.busy[src]; ok && s == seqAuth {
		return Busy, nil
	}
	if s, ok := r.completed[src]; ok && s == seqAuth {
		return DuplicateComplete, nil
	}

	if seqAuth != r.seqAuth || src != r.src {
		if !r.complete {
			r.busy[src] = seqAuth
			return Busy, nil
		}
		r.complete = false
		r.src = src
		r.seqAuth = seqAuth
		r.seqZero = seg.SeqZero
		r.segN = seg.SegN
		clear(r.segments)
	}

	r.segments[seg.SegO] = seg.Segment
	if len(r.segments) != int(r.segN)+1 {
		return Accepted, nil
	}
	r.complete = true
	r.completed[src] = seqAuth
	return Complete, nil
}

// Upper returns the reassembled upper transport PDU once complete.
func (r *Reassembler) Upper() []byte {
	if !r.complete || len(r.segments) != int(r.segN)+1 {
		return nil
	}
	var out []byte
	for i := 0; i <= int(r.segN); i++ {
		out = append(out, r.segments[uint8(i)]...)
	}
	return out
}

// BlockAck returns the bitmap of received segment offsets.
func (r *Reassembler) BlockAck() uint32 {
	var ack uint32
	for o := range r.segments {
		ack |= 1 << o
	}
	return ack
}

// Received returns the number of buffered segments.
func (r *Reassembler) Received() int {
	return bits.OnesCount32(r.BlockAck())
}

// InProgress reports whether a message is partially received.
func (r *Reassembler) InProgress() bool {
	return !r.complete
}

// Source returns the source of the current message.
func (r *Reassembler) Source() message.Address {
	return r.src
}

// SeqAuth returns the identity of the current message.
func (r *Reassembler) SeqAuth() uint64 {
	return r.seqAuth
}

// SeqZero returns the SeqZero of the current message.
func (r *Reassembler) SeqZero() uint16 {
	return r.seqZero
}

// SegN returns the last segment number of the current message.
func (r *Reassembler) SegN() uint8 {
	return r.segN
}

// Expire abandons an incomplete message and forgets its identity.
func (r *Reassembler) Expire() {
	r.complete = true
	r.src = message.AddressUnassigned
	r.seqAuth = 0
	clear(r.segments)
}

// Clear drops buffered segments and allows a new message to start. The
// identity of the last message and the SeqAuth caches are kept.
func (r *Reassembler) Clear() {
	r.complete = true
	clear(r.segments)
}
