package networking

import (
	"time"

	"github.com/backkem/blemesh/pkg/message"
)

// ackTimeout is the block ack wait of an outbound segmented message.
func (c *Controller) ackTimeout(ttl uint8) time.Duration {
	t := c.cfg.Timing
	return t.RelayTimeout + t.SegmentAckBase + time.Duration(ttl)*t.SegmentAckPerHop +
		time.Duration(len(c.queue))*c.interval()
}

func (c *Controller) startBlockAckWaitLocked() {
	c.schedule(timerBlockAckWait, c.ackTimeout(c.ackWait.ttl), func() {
		c.log.Debugf("block ack wait expired, acked=%#08x", c.acked)
		c.resendSegmentsLocked()
	})
}

// stopBlockAckWaitLocked stops waiting for block acks. complete ends the
// outbound segmented message with the given outcome.
func (c *Controller) stopBlockAckWaitLocked(complete, success bool) {
	c.cancel(timerBlockAckWait)
	if complete {
		c.onSegmentedCompleteLocked(success)
	}
}

func (c *Controller) onSegmentedCompleteLocked(success bool) {
	c.segmentBusy = false
	c.cancel(timerSegmentBusy)
	c.sent.Reset()
	c.acked = 0
	c.metrics.SegmentedCompleted(success)
	c.emit(func(b Bridge) { b.OnSegmentMessageComplete(success) })

	if c.reliableBusy && c.reliable != nil && c.reliable.segmented {
		if success {
			// Responses may follow now that every segment arrived.
			c.restartReliableTimerLocked()
		} else {
			c.completeReliableLocked(false)
		}
	}
}

// onSegmentAckLocked processes a block ack for the outbound message.
func (c *Controller) onSegmentAckLocked(src message.Address, ack *message.SegmentAck) {
	if !c.segmentBusy || c.sent.Empty() {
		return
	}
	if ack.SeqZero != c.sent.SeqZero() || src != c.ackWait.dst {
		c.log.Debugf("ignoring segment ack from %s seqZero=%#04x", src, ack.SeqZero)
		return
	}
	c.cancel(timerBlockAckWait)
	if ack.BlockAck == 0 {
		c.log.Infof("segmented message cancelled by %s", src)
		c.onSegmentedCompleteLocked(false)
		return
	}
	c.acked |= ack.BlockAck
	c.resendSegmentsLocked()
}

// resendSegmentsLocked retransmits every segment not yet acknowledged with
// fresh sequence numbers, or completes the message when none is missing.
func (c *Controller) resendSegmentsLocked() {
	if c.sent.Empty() {
		return
	}
	missing := c.sent.Missing(c.acked)
	if len(missing) == 0 {
		c.stopBlockAckWaitLocked(true, true)
		return
	}

	iv := c.seq.TransmitIVIndex()
	for _, s := range missing {
		lower, err := s.Encode()
		if err != nil {
			c.log.Warnf("resend segment %d: %v", s.SegO, err)
			continue
		}
		pdu, err := c.networkPDULocked(lower, false, c.ackWait.ttl, c.ackWait.dst, iv)
		if err != nil {
			c.log.Warnf("resend segment %d: %v", s.SegO, err)
			continue
		}
		if err := c.enqueueLocked(pdu, c.ackWait.dst); err != nil {
			c.log.Warnf("resend segment %d: %v", s.SegO, err)
			break
		}
	}
	c.log.Debugf("resent %d segments of seqZero=%#04x", len(missing), c.sent.SeqZero())
	c.startBlockAckWaitLocked()
}
