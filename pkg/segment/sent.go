package segment

import "github.com/backkem/blemesh/pkg/message"

// SentBuffer holds the segments of the outgoing message awaiting
// acknowledgement. The zero value is empty.
type SentBuffer struct {
	segments []*message.SegmentedAccess
}

// Store replaces the buffered segments.
func (b *SentBuffer) Store(segments []*message.SegmentedAccess) {
	b.segments = segments
}

// Reset drops the buffered segments.
func (b *SentBuffer) Reset() {
	b.segments = nil
}

// Empty reports whether no message is buffered.
func (b *SentBuffer) Empty() bool {
	return len(b.segments) == 0
}

// SeqZero returns the SeqZero of the buffered message.
func (b *SentBuffer) SeqZero() uint16 {
	if b.Empty() {
		return 0
	}
	return b.segments[0].SeqZero
}

// SegN returns the last segment number of the buffered message.
func (b *SentBuffer) SegN() uint8 {
	if b.Empty() {
		return 0
	}
	return b.segments[0].SegN
}

// Missing returns, in SegO order, the segments whose bit in blockAck is unset.
func (b *SentBuffer) Missing(blockAck uint32) []*message.SegmentedAccess {
	var out []*message.SegmentedAccess
	for _, s := range b.segments {
		if blockAck&(1<<s.SegO) == 0 {
			out = append(out, s)
		}
	}
	return out
}
