package segment

import (
	"bytes"
	"errors"
	"testing"
)

func TestSeqAuth(t *testing.T) {
	tests := []struct {
		iv   uint32
		seq  uint32
		want uint64
	}{
		{0, 1, 0x000000_000001},
		{0x12345678, 0x3129AB, 0x12345678_3129AB},
		{0xFFFFFFFF, 0xFFFFFF, 0x7FFFFFFF_FFFFFF},
		{1, 0x1FFFFFF, 0x1_FFFFFF},
	}
	for _, tt := range tests {
		if got := SeqAuth(tt.iv, tt.seq); got != tt.want {
			t.Errorf("SeqAuth(%#x, %#x) = %#x, want %#x", tt.iv, tt.seq, got, tt.want)
		}
	}
}

func TestTransportSeq(t *testing.T) {
	tests := []struct {
		name    string
		pduSeq  uint32
		seqZero uint16
		want    uint32
	}{
		{"first segment", 0x3129AB, 0x09AB, 0x3129AB},
		{"later segment", 0x3129AD, 0x09AB, 0x3129AB},
		{"across 13-bit wrap", 0x004001, 0x1FFF, 0x003FFF},
		{"low sequence", 0x000003, 0x0001, 0x000001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TransportSeq(tt.pduSeq, tt.seqZero); got != tt.want {
				t.Errorf("TransportSeq(%#x, %#x) = %#x, want %#x", tt.pduSeq, tt.seqZero, got, tt.want)
			}
		})
	}
}

func TestSplit(t *testing.T) {
	for _, size := range []int{DefaultSegmentLength + 1, LongSegmentLength + 1} {
		for _, n := range []int{1, 11, 12, 13, 24, 25, 100, 380} {
			upper := make([]byte, n)
			for i := range upper {
				upper[i] = byte(i)
			}
			chunks, err := Split(upper, size)
			if err != nil {
				t.Fatalf("Split(%d, %d) error = %v", n, size, err)
			}
			if len(chunks) != SegmentCount(n, size) {
				t.Errorf("Split(%d, %d) = %d chunks, want %d", n, size, len(chunks), SegmentCount(n, size))
			}
			for i, c := range chunks[:len(chunks)-1] {
				if len(c) != size {
					t.Errorf("chunk %d len = %d, want %d", i, len(c), size)
				}
			}
			if got := bytes.Join(chunks, nil); !bytes.Equal(got, upper) {
				t.Errorf("Split(%d, %d) does not reassemble", n, size)
			}
		}
	}
}

func TestSplitErrors(t *testing.T) {
	if _, err := Split(nil, 12); !errors.Is(err, ErrEmptyPDU) {
		t.Errorf("Split(nil) error = %v, want ErrEmptyPDU", err)
	}
	if _, err := Split([]byte{1}, 0); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("Split(size 0) error = %v, want ErrInvalidSize", err)
	}
	if _, err := Split(make([]byte, 12*32+1), 12); !errors.Is(err, ErrTooManySegments) {
		t.Errorf("Split(385) error = %v, want ErrTooManySegments", err)
	}
}

func TestSegmentHeaders(t *testing.T) {
	// A 20-byte access payload with a 4-byte TransMIC needs two segments.
	upper := make([]byte, 24)
	segs, err := Segment(upper, Header{AKF: true, AID: 0x26, SeqZero: 0x2001}, DefaultSegmentLength+1)
	if err != nil {
		t.Fatalf("Segment() error = %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("len(segs) = %d, want 2", len(segs))
	}
	for i, s := range segs {
		if s.SegO != uint8(i) || s.SegN != 1 || s.SeqZero != 0x0001 || !s.AKF || s.AID != 0x26 {
			t.Errorf("segment %d header = %+v", i, s)
		}
		if _, err := s.Encode(); err != nil {
			t.Errorf("segment %d Encode() error = %v", i, err)
		}
	}
}

func TestBlockAckAll(t *testing.T) {
	tests := map[uint8]uint32{0: 0x1, 1: 0x3, 2: 0x7, 30: 0x7FFFFFFF, 31: 0xFFFFFFFF}
	for segN, want := range tests {
		if got := BlockAckAll(segN); got != want {
			t.Errorf("BlockAckAll(%d) = %#x, want %#x", segN, got, want)
		}
	}
}

func TestSentBufferMissing(t *testing.T) {
	var b SentBuffer
	if !b.Empty() {
		t.Fatal("zero SentBuffer not empty")
	}

	segs, _ := Segment(make([]byte, 30), Header{SeqZero: 0x55}, 12)
	b.Store(segs)

	if b.SeqZero() != 0x55 || b.SegN() != 2 {
		t.Errorf("SeqZero/SegN = %#x/%d, want 0x55/2", b.SeqZero(), b.SegN())
	}

	missing := b.Missing(0b101)
	if len(missing) != 1 || missing[0].SegO != 1 {
		t.Errorf("Missing(0b101) = %v, want [segment 1]", missing)
	}
	if got := b.Missing(BlockAckAll(2)); len(got) != 0 {
		t.Errorf("Missing(all) = %d segments, want 0", len(got))
	}
	if got := b.Missing(0); len(got) != 3 {
		t.Errorf("Missing(0) = %d segments, want 3", len(got))
	}

	b.Reset()
	if !b.Empty() {
		t.Error("Reset() left segments")
	}
}
