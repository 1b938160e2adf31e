package sequence

import (
	"errors"
	"sync"

	"github.com/backkem/blemesh/pkg/message"
)

// ErrReplay is returned for a PDU whose sequence number is not newer than the
// last one accepted from the same source.
var ErrReplay = errors.New("sequence: replayed or stale sequence number")

type rxRecord struct {
	seq     uint32
	ivIndex uint32
}

// RxCache is the per-source replay protection list.
// It is safe for concurrent use.
type RxCache struct {
	mu      sync.Mutex
	records map[message.Address]rxRecord
}

// NewRxCache creates an empty replay protection list.
func NewRxCache() *RxCache {
	return &RxCache{records: make(map[message.Address]rxRecord)}
}

// CheckAndAccept validates (ivIndex, seq) for src and records it when newer.
// The first PDU from a source is always accepted. Within one IV index the
// sequence numbers must strictly increase; a larger IV index resets the floor.
func (c *RxCache) CheckAndAccept(src message.Address, seq, ivIndex uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[src]
	if ok {
		switch {
		case ivIndex > rec.ivIndex:
		case ivIndex == rec.ivIndex && seq > rec.seq:
		default:
			return ErrReplay
		}
	}
	c.records[src] = rxRecord{seq: seq & MaxSequence, ivIndex: ivIndex}
	return nil
}

// Len returns the number of tracked sources.
func (c *RxCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Clear drops every record.
func (c *RxCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.records)
}
