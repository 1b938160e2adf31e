package networking

import (
	"time"

	"github.com/backkem/blemesh/pkg/message"
)

// reliableSlot is the single acknowledged message in flight.
type reliableSlot struct {
	msg        *MeshMessage
	segmented  bool
	retries    int
	responders map[message.Address]struct{}
	started    time.Time
}

func (c *Controller) startReliableLocked(msg *MeshMessage, segmented bool) {
	if c.reliable == nil || c.reliable.msg != msg {
		c.reliable = &reliableSlot{
			msg:        msg,
			retries:    msg.RetryCount,
			responders: make(map[message.Address]struct{}),
			started:    time.Now(),
		}
	}
	c.reliable.segmented = segmented
	c.reliableBusy = true
}

func (c *Controller) restartReliableTimerLocked() {
	interval := c.cfg.Timing.DefaultRetryInterval
	if c.reliable != nil && c.reliable.msg.RetryInterval > 0 {
		interval = c.reliable.msg.RetryInterval
	}
	d := time.Duration(len(c.queue))*c.interval() + interval
	c.schedule(timerReliable, d, c.onReliableTimeoutLocked)
}

func (c *Controller) onReliableTimeoutLocked() {
	slot := c.reliable
	if slot == nil || !c.reliableBusy {
		return
	}
	if c.reasm.InProgress() {
		c.log.Debugf("segmented receive in progress, deferring %s timeout", slot.msg.Opcode)
		c.restartReliableTimerLocked()
		return
	}
	if slot.retries <= 0 {
		c.completeReliableLocked(false)
		return
	}

	slot.retries--
	c.log.Debugf("retry %s to %s, %d retries left", slot.msg.Opcode, slot.msg.Destination, slot.retries)
	c.reliableBusy = false
	if c.segmentBusy && slot.segmented {
		c.stopBlockAckWaitLocked(true, false)
	}
	if err := c.postLocked(slot.msg, true); err != nil {
		c.log.Warnf("retry %s: %v", slot.msg.Opcode, err)
		c.completeReliableLocked(false)
	}
}

// onResponseLocked records a response to the reliable message.
func (c *Controller) onResponseLocked(src message.Address, opcode message.Opcode) {
	slot := c.reliable
	if !c.reliableBusy || slot == nil || opcode != slot.msg.ResponseOpcode {
		return
	}
	if slot.msg.Destination.IsUnicast() && src != slot.msg.Destination {
		return
	}
	slot.responders[src] = struct{}{}
	if len(slot.responders) >= slot.msg.ResponseMax {
		c.completeReliableLocked(true)
	}
}

// completeReliableLocked ends the reliable message. The outbound queue is
// dropped with it.
func (c *Controller) completeReliableLocked(success bool) {
	slot := c.reliable

	c.cancel(timerPacer)
	c.networkingBusy = false
	c.queue = nil
	c.metrics.QueueDepth(0)
	c.cancel(timerReliable)
	c.reliableBusy = false
	c.reliable = nil

	if slot == nil {
		return
	}
	if success && c.segmentBusy && slot.segmented {
		c.stopBlockAckWaitLocked(true, true)
	}

	result := ReliableResult{
		Success:       success,
		Opcode:        slot.msg.Opcode,
		ResponseMax:   slot.msg.ResponseMax,
		ResponseCount: len(slot.responders),
		Duration:      time.Since(slot.started),
	}
	c.metrics.ReliableCompleted(success, result.Duration)
	c.log.Infof("reliable %s complete: success=%v responses=%d/%d",
		result.Opcode, success, result.ResponseCount, result.ResponseMax)
	c.emit(func(b Bridge) { b.OnReliableMessageComplete(result) })
}
