package networking

import "time"

type timerKind int

const (
	timerPacer timerKind = iota
	timerReliable
	timerSegmentBusy
	timerBlockAckWait
	timerRxBlockAck
	timerRxIncomplete
	timerProxyFilter
	numTimers
)

func (k timerKind) String() string {
	switch k {
	case timerPacer:
		return "pacer"
	case timerReliable:
		return "reliable"
	case timerSegmentBusy:
		return "segment-busy"
	case timerBlockAckWait:
		return "block-ack-wait"
	case timerRxBlockAck:
		return "rx-block-ack"
	case timerRxIncomplete:
		return "rx-incomplete"
	case timerProxyFilter:
		return "proxy-filter"
	default:
		return "unknown"
	}
}

// timers holds one pending timer per kind. A generation counter per kind
// discards callbacks of timers that were cancelled or replaced after they
// had already fired.
type timers struct {
	t   [numTimers]*time.Timer
	gen [numTimers]uint64
}

// schedule replaces the timer of kind. fn runs with the controller lock held.
// Caller must hold c.mu.
func (c *Controller) schedule(kind timerKind, d time.Duration, fn func()) {
	c.cancel(kind)
	gen := c.timers.gen[kind]
	c.timers.t[kind] = time.AfterFunc(d, func() {
		c.mu.Lock()
		if c.closed || c.timers.gen[kind] != gen {
			c.mu.Unlock()
			return
		}
		c.timers.t[kind] = nil
		fn()
		c.mu.Unlock()
		c.flush()
	})
}

// cancel stops the timer of kind. Caller must hold c.mu.
func (c *Controller) cancel(kind timerKind) {
	if t := c.timers.t[kind]; t != nil {
		t.Stop()
		c.timers.t[kind] = nil
	}
	c.timers.gen[kind]++
}

// pending reports whether a timer of kind is scheduled. Caller must hold c.mu.
func (c *Controller) pending(kind timerKind) bool {
	return c.timers.t[kind] != nil
}

func (c *Controller) cancelAll() {
	for k := timerKind(0); k < numTimers; k++ {
		c.cancel(k)
	}
}
