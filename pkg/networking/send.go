package networking

import (
	"fmt"

	"github.com/backkem/blemesh/pkg/message"
	"github.com/backkem/blemesh/pkg/proxy"
	"github.com/backkem/blemesh/pkg/segment"
)

// SendMeshMessage encrypts msg and queues its network PDUs. Reliable
// messages complete through Bridge.OnReliableMessageComplete, segmented
// unicast messages through Bridge.OnSegmentMessageComplete.
//
// The message is copied; the caller may reuse it after the call returns.
func (c *Controller) SendMeshMessage(msg *MeshMessage) error {
	if msg == nil || msg.Destination.IsUnassigned() {
		return ErrInvalidDestination
	}
	if msg.TTL > message.MaxTTL {
		return fmt.Errorf("networking: ttl %d: %w", msg.TTL, message.ErrInvalidField)
	}
	if msg.HasTID && (msg.TIDPosition < 0 || msg.TIDPosition >= len(msg.Params)) {
		return fmt.Errorf("networking: tid position %d: %w", msg.TIDPosition, message.ErrInvalidField)
	}
	if msg.Reliable && msg.ResponseMax < 1 {
		return fmt.Errorf("networking: response max %d: %w", msg.ResponseMax, message.ErrInvalidField)
	}

	c.mu.Lock()
	err := c.checkReadyLocked()
	if err == nil {
		err = c.postLocked(msg.clone(), false)
	}
	c.mu.Unlock()

	c.flush()
	return err
}

// accessKeyLocked selects the key protecting msg.
func (c *Controller) accessKeyLocked(msg *MeshMessage) (key []byte, akf bool, aid uint8, err error) {
	if msg.AccessType == AccessApplication {
		ak, ok := c.appKeys[msg.AppKeyIndex]
		if !ok {
			return nil, false, 0, fmt.Errorf("%w: app key index %d", ErrKeyNotFound, msg.AppKeyIndex)
		}
		return ak.Key, true, ak.AID, nil
	}
	dk, ok := c.deviceKeys[msg.Destination]
	if !ok {
		return nil, false, 0, fmt.Errorf("%w: device key for %s", ErrKeyNotFound, msg.Destination)
	}
	return dk, false, 0, nil
}

// postLocked turns msg into network PDUs. retry is set when the reliable
// coordinator resends msg; the transaction identifier is then kept.
func (c *Controller) postLocked(msg *MeshMessage, retry bool) error {
	key, akf, aid, err := c.accessKeyLocked(msg)
	if err != nil {
		return err
	}

	if msg.HasTID && !retry {
		c.tid++
		msg.Params[msg.TIDPosition] = c.tid
	}

	access, err := message.EncodeAccessPDU(msg.Opcode, msg.Params)
	if err != nil {
		return err
	}

	segLen := segmentLength(c.extendMode, msg.Destination, c.direct)
	segmented := len(access) > segLen
	if segmented && c.segmentBusy {
		return ErrSegmentBusy
	}
	if msg.Reliable && c.reliableBusy {
		return ErrReliableBusy
	}

	iv := c.seq.TransmitIVIndex()
	seq := c.seq.Sequence()
	szmic := segmented && msg.SZMIC
	upper, err := message.EncryptUpper(access, key, akf, message.UpperContext{
		SZMIC:   szmic,
		Seq:     seq,
		Src:     c.local,
		Dst:     msg.Destination,
		IVIndex: iv,
	})
	if err != nil {
		return err
	}

	if !segmented {
		if !c.queueRoom(1) {
			return ErrQueueFull
		}
		lower, err := (&message.UnsegmentedAccess{AKF: akf, AID: aid, UpperPDU: upper}).Encode()
		if err != nil {
			return err
		}
		pdu, err := c.networkPDULocked(lower, false, msg.TTL, msg.Destination, iv)
		if err != nil {
			return err
		}
		c.log.Debugf("send %s to %s seq=%#06x unsegmented", msg.Opcode, msg.Destination, seq)
		if msg.Reliable {
			c.startReliableLocked(msg, false)
			c.restartReliableTimerLocked()
		}
		return c.enqueueLocked(pdu, msg.Destination)
	}

	segs, err := segment.Segment(upper, segment.Header{
		AKF:     akf,
		AID:     aid,
		SZMIC:   szmic,
		SeqZero: uint16(seq & message.SeqZeroMask),
	}, segLen+1)
	if err != nil {
		return err
	}
	if !c.queueRoom(len(segs)) {
		return ErrQueueFull
	}
	pdus := make([][]byte, 0, len(segs))
	for _, s := range segs {
		lower, err := s.Encode()
		if err != nil {
			return err
		}
		pdu, err := c.networkPDULocked(lower, false, msg.TTL, msg.Destination, iv)
		if err != nil {
			return err
		}
		pdus = append(pdus, pdu)
	}
	c.log.Debugf("send %s to %s seq=%#06x in %d segments", msg.Opcode, msg.Destination, seq, len(segs))

	if msg.Reliable {
		c.startReliableLocked(msg, true)
	}
	for _, pdu := range pdus {
		if err := c.enqueueLocked(pdu, msg.Destination); err != nil {
			return err
		}
	}

	if msg.Destination.IsUnicast() {
		c.sent.Store(segs)
		c.acked = 0
		c.segmentBusy = true
		c.ackWait = ackWaitParams{ttl: msg.TTL, dst: msg.Destination}
		c.schedule(timerSegmentBusy, c.cfg.Timing.SegmentBusyTimeout, func() {
			c.log.Warnf("segmented message to %s timed out", c.ackWait.dst)
			c.stopBlockAckWaitLocked(true, false)
		})
		c.startBlockAckWaitLocked()
	} else if msg.Reliable {
		c.restartReliableTimerLocked()
	}
	return nil
}

// networkPDULocked allocates a sequence number and protects a lower
// transport PDU.
func (c *Controller) networkPDULocked(lower []byte, ctl bool, ttl uint8, dst message.Address, iv uint32) ([]byte, error) {
	seq, persist, err := c.seq.Next()
	if err != nil {
		return nil, err
	}
	if persist {
		c.notifyNetworkInfoLocked(c.seq.Sequence(), c.seq.IVIndex())
	}
	return message.EncodeNetworkPDU(&message.NetworkPDU{
		CTL:          ctl,
		TTL:          ttl,
		SEQ:          seq,
		SRC:          c.local,
		DST:          dst,
		TransportPDU: lower,
	}, c.keys, iv)
}

func (c *Controller) queueRoom(n int) bool {
	return len(c.queue)+n <= c.cfg.QueueCapacity
}

// enqueueLocked hands a network PDU to the pacer. A PDU for the direct peer
// bypasses the queue when the pacer is idle.
func (c *Controller) enqueueLocked(pdu []byte, dst message.Address) error {
	if !c.networkingBusy && dst == c.direct {
		c.transmitLocked(pdu)
		return nil
	}
	if !c.queueRoom(1) {
		return ErrQueueFull
	}
	c.queue = append(c.queue, pdu)
	c.metrics.QueueDepth(len(c.queue))
	if !c.networkingBusy {
		c.networkingBusy = true
		c.pollLocked()
	}
	return nil
}

// pollLocked sends the head of the queue and schedules the next poll.
func (c *Controller) pollLocked() {
	if len(c.queue) == 0 {
		c.networkingBusy = false
		return
	}
	pdu := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	c.metrics.QueueDepth(len(c.queue))
	c.transmitLocked(pdu)
	c.schedule(timerPacer, c.interval(), c.pollLocked)
}

func (c *Controller) transmitLocked(pdu []byte) {
	c.metrics.PDUSent(KindNetwork)
	c.emitCommand(proxy.PDUTypeNetwork, pdu)
}

// sendControlLocked sends an unsegmented transport control message.
func (c *Controller) sendControlLocked(ctl *message.UnsegmentedControl, dst message.Address) error {
	lower, err := ctl.Encode()
	if err != nil {
		return err
	}
	pdu, err := c.networkPDULocked(lower, true, ControlMessageTTL, dst, c.seq.TransmitIVIndex())
	if err != nil {
		return err
	}
	return c.enqueueLocked(pdu, dst)
}
