package networking

import (
	"fmt"
	"time"

	"github.com/backkem/blemesh/pkg/message"
	"github.com/backkem/blemesh/pkg/segment"
)

// ParseNetworkPDU processes a network PDU received from the bearer.
//
// PDUs that fail authentication or replay protection, or that are addressed
// to another node, are dropped: the returned error describes why, and no
// bridge event is produced.
func (c *Controller) ParseNetworkPDU(data []byte) error {
	c.mu.Lock()
	err := c.parseNetworkLocked(data)
	c.mu.Unlock()

	c.flush()
	return err
}

func (c *Controller) parseNetworkLocked(data []byte) error {
	if err := c.checkReadyLocked(); err != nil {
		return err
	}

	iv := c.seq.AcceptedIVIndex(message.IVIOf(data))
	pdu, err := message.DecodeNetworkPDU(data, c.keys, iv)
	if err != nil {
		c.metrics.PDUDropped(DropDecrypt)
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if err := c.rx.CheckAndAccept(pdu.SRC, pdu.SEQ, iv); err != nil {
		c.metrics.PDUDropped(DropReplay)
		c.log.Debugf("replay from %s seq=%#06x iv=%#08x", pdu.SRC, pdu.SEQ, iv)
		return fmt.Errorf("%w: %v", ErrReplay, err)
	}
	c.metrics.PDUReceived(KindNetwork)

	if pdu.DST.IsUnicast() && pdu.DST != c.local {
		c.metrics.PDUDropped(DropNotForUs)
		return fmt.Errorf("%w: destination %s", ErrDropped, pdu.DST)
	}
	if pdu.CTL {
		return c.parseControlLocked(pdu)
	}
	return c.parseAccessLocked(pdu, iv)
}

func (c *Controller) parseControlLocked(pdu *message.NetworkPDU) error {
	lower, err := message.ParseLowerTransport(true, pdu.TransportPDU)
	if err != nil {
		c.metrics.PDUDropped(DropMalformed)
		return err
	}
	ctl, ok := lower.(*message.UnsegmentedControl)
	if !ok {
		c.metrics.PDUDropped(DropUnsupported)
		return fmt.Errorf("%w: segmented control message", ErrDropped)
	}

	switch ctl.Opcode {
	case message.ControlOpcodeSegmentAck:
		ack, err := message.ParseSegmentAck(ctl.Params)
		if err != nil {
			c.metrics.PDUDropped(DropMalformed)
			return err
		}
		c.metrics.PDUReceived(KindSegmentAck)
		c.onSegmentAckLocked(pdu.SRC, ack)
	case message.ControlOpcodeHeartbeat:
		hb, err := message.ParseHeartbeat(ctl.Params)
		if err != nil {
			c.metrics.PDUDropped(DropMalformed)
			return err
		}
		c.metrics.PDUReceived(KindHeartbeat)
		event := HeartbeatEvent{
			Source:      pdu.SRC,
			Destination: pdu.DST,
			InitTTL:     hb.InitTTL,
			TTL:         pdu.TTL,
			Features:    hb.Features,
		}
		c.emit(func(b Bridge) { b.OnHeartbeatMessageReceived(event) })
	default:
		c.metrics.PDUDropped(DropUnsupported)
		c.log.Debugf("unsupported control opcode %#02x from %s", ctl.Opcode, pdu.SRC)
	}
	return nil
}

func (c *Controller) parseAccessLocked(pdu *message.NetworkPDU, iv uint32) error {
	lower, err := message.ParseLowerTransport(false, pdu.TransportPDU)
	if err != nil {
		c.metrics.PDUDropped(DropMalformed)
		return err
	}

	switch l := lower.(type) {
	case *message.UnsegmentedAccess:
		plain, err := c.decryptUpperLocked(l.UpperPDU, l.AKF, l.AID, message.UpperContext{
			Seq:     pdu.SEQ,
			Src:     pdu.SRC,
			Dst:     pdu.DST,
			IVIndex: iv,
		})
		if err != nil {
			return err
		}
		return c.onAccessLocked(pdu.SRC, pdu.DST, plain)
	case *message.SegmentedAccess:
		return c.parseSegmentedLocked(pdu, l, iv)
	default:
		c.metrics.PDUDropped(DropMalformed)
		return fmt.Errorf("%w: unexpected lower transport PDU", ErrDropped)
	}
}

func (c *Controller) decryptUpperLocked(upper []byte, akf bool, aid uint8, ctx message.UpperContext) ([]byte, error) {
	if akf {
		plain, _, err := message.DecryptWithAppKeys(upper, aid, c.appKeyList(), ctx)
		if err != nil {
			c.metrics.PDUDropped(DropDecrypt)
			return nil, fmt.Errorf("%w: upper transport aid=%#02x", ErrDecryptionFailed, aid)
		}
		return plain, nil
	}
	dk, ok := c.deviceKeys[ctx.Src]
	if !ok {
		c.metrics.PDUDropped(DropNoKey)
		c.log.Warnf("no device key for %s", ctx.Src)
		return nil, fmt.Errorf("%w: device key for %s", ErrKeyNotFound, ctx.Src)
	}
	plain, err := message.DecryptUpper(upper, dk, false, ctx)
	if err != nil {
		c.metrics.PDUDropped(DropDecrypt)
		return nil, fmt.Errorf("%w: upper transport device key", ErrDecryptionFailed)
	}
	return plain, nil
}

func (c *Controller) onAccessLocked(src, dst message.Address, plain []byte) error {
	access, err := message.DecodeAccessPDU(plain)
	if err != nil {
		c.metrics.PDUDropped(DropMalformed)
		return err
	}
	c.metrics.PDUReceived(KindAccess)
	c.onResponseLocked(src, access.Opcode)

	event := MeshMessageEvent{
		Source:      src,
		Destination: dst,
		Opcode:      access.Opcode,
		Params:      access.Params,
	}
	c.emit(func(b Bridge) { b.OnMeshMessageReceived(event) })
	return nil
}

func (c *Controller) parseSegmentedLocked(pdu *message.NetworkPDU, seg *message.SegmentedAccess, iv uint32) error {
	transportSeq := segment.TransportSeq(pdu.SEQ, seg.SeqZero)
	auth := segment.SeqAuth(iv, transportSeq)
	ackable := pdu.DST.IsUnicast()

	res, err := c.reasm.Offer(pdu.SRC, auth, seg)
	if err != nil {
		c.metrics.PDUDropped(DropMalformed)
		return err
	}
	c.log.Tracef("segment %d/%d from %s seqAuth=%#014x: %s", seg.SegO, seg.SegN, pdu.SRC, auth, res)

	switch res {
	case segment.Busy:
		c.metrics.PDUDropped(DropBusy)
		if ackable {
			c.sendSegmentAckLocked(pdu.SRC, seg.SeqZero, 0)
		}
		return fmt.Errorf("%w: reassembly busy", ErrDropped)

	case segment.DuplicateComplete:
		c.metrics.PDUDropped(DropDuplicate)
		if ackable {
			c.sendSegmentAckLocked(pdu.SRC, seg.SeqZero, segment.BlockAckAll(seg.SegN))
		}
		return nil

	case segment.Accepted:
		c.rxAck = rxAckParams{src: pdu.SRC, ttl: pdu.TTL, ackable: ackable}
		c.schedule(timerRxIncomplete, c.cfg.Timing.SegmentRxTimeout, c.onRxIncompleteLocked)
		c.schedule(timerRxBlockAck, c.rxAckDelay(pdu.TTL), c.sendRxBlockAckLocked)
		return nil
	}

	// Complete.
	c.cancel(timerRxIncomplete)
	c.cancel(timerRxBlockAck)
	c.rxAck = rxAckParams{src: pdu.SRC, ttl: pdu.TTL, ackable: ackable}
	c.sendRxBlockAckLocked()

	plain, err := c.decryptUpperLocked(c.reasm.Upper(), seg.AKF, seg.AID, message.UpperContext{
		SZMIC:   seg.SZMIC,
		Seq:     transportSeq,
		Src:     pdu.SRC,
		Dst:     pdu.DST,
		IVIndex: iv,
	})
	if err != nil {
		return err
	}
	return c.onAccessLocked(pdu.SRC, pdu.DST, plain)
}

func (c *Controller) rxAckDelay(ttl uint8) time.Duration {
	t := c.cfg.Timing
	return t.RelayTimeout + t.SegmentAckBase + time.Duration(ttl)*t.SegmentAckPerHop
}

// sendRxBlockAckLocked acknowledges the segments received so far and keeps
// acknowledging while the message is incomplete.
func (c *Controller) sendRxBlockAckLocked() {
	if !c.rxAck.ackable {
		return
	}
	ack := c.reasm.BlockAck()
	if ack == 0 {
		return
	}
	c.sendSegmentAckLocked(c.rxAck.src, c.reasm.SeqZero(), ack)
	if c.reasm.InProgress() {
		c.schedule(timerRxBlockAck, c.rxAckDelay(c.rxAck.ttl), c.sendRxBlockAckLocked)
	}
}

func (c *Controller) onRxIncompleteLocked() {
	c.log.Debugf("incomplete segmented message from %s dropped", c.reasm.Source())
	c.cancel(timerRxBlockAck)
	c.reasm.Expire()
}

func (c *Controller) sendSegmentAckLocked(dst message.Address, seqZero uint16, blockAck uint32) {
	ack := &message.SegmentAck{SeqZero: seqZero, BlockAck: blockAck}
	if err := c.sendControlLocked(ack.Control(), dst); err != nil {
		c.log.Warnf("segment ack to %s: %v", dst, err)
		return
	}
	c.metrics.PDUSent(KindSegmentAck)
}
