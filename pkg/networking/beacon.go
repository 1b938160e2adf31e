package networking

import (
	"bytes"
	"fmt"

	"github.com/backkem/blemesh/pkg/beacon"
	"github.com/backkem/blemesh/pkg/proxy"
)

// ParseSecureBeacon processes a secure network beacon. A nil beaconKey
// selects the key of the configured network.
func (c *Controller) ParseSecureBeacon(data, beaconKey []byte) error {
	c.mu.Lock()
	err := c.parseSecureBeaconLocked(data, beaconKey)
	c.mu.Unlock()

	c.flush()
	return err
}

func (c *Controller) parseSecureBeaconLocked(data, beaconKey []byte) error {
	if err := c.checkReadyLocked(); err != nil {
		return err
	}
	if beaconKey == nil {
		beaconKey = c.keys.BeaconKey
	}
	b, err := beacon.DecodeSecureNetworkBeacon(data, beaconKey)
	if err != nil {
		c.metrics.PDUDropped(DropDecrypt)
		return fmt.Errorf("networking: secure beacon: %w", err)
	}
	if !bytes.Equal(b.NetworkID, c.keys.NetworkID) {
		c.metrics.PDUDropped(DropNotForUs)
		return fmt.Errorf("%w: beacon for network %x", ErrDropped, b.NetworkID)
	}
	c.metrics.PDUReceived(KindBeacon)
	return c.onIVIndexReceivedLocked(b.IVIndex, b.Flags.IVUpdate())
}

// ParsePrivateBeacon processes a mesh private beacon. A nil key selects the
// private beacon key of the configured network. Once a private beacon was
// accepted, CheckSequenceNumber answers with private beacons.
func (c *Controller) ParsePrivateBeacon(data, privateBeaconKey []byte) error {
	c.mu.Lock()
	err := c.parsePrivateBeaconLocked(data, privateBeaconKey)
	c.mu.Unlock()

	c.flush()
	return err
}

func (c *Controller) parsePrivateBeaconLocked(data, key []byte) error {
	if err := c.checkReadyLocked(); err != nil {
		return err
	}
	if key == nil {
		key = c.keys.PrivateBeaconKey
	}
	b, err := beacon.DecodePrivateBeacon(data, key)
	if err != nil {
		c.metrics.PDUDropped(DropDecrypt)
		return fmt.Errorf("networking: private beacon: %w", err)
	}
	c.metrics.PDUReceived(KindBeacon)
	c.privateBeaconReceived = true
	return c.onIVIndexReceivedLocked(b.IVIndex, b.Flags.IVUpdate())
}

func (c *Controller) onIVIndexReceivedLocked(iv uint32, updating bool) error {
	advanced, err := c.seq.OnIVAnnounced(iv, updating)
	if err != nil {
		c.log.Warnf("ignoring IV index %#08x (local %#08x): %v", iv, c.seq.IVIndex(), err)
		return err
	}
	if advanced {
		committed := c.seq.CommittedIVIndex()
		c.log.Infof("IV index updated to %#08x", committed)
		c.rx.Clear()
		c.notifyNetworkInfoLocked(c.seq.Sequence(), committed)
	}
	return nil
}

// CheckSequenceNumber starts an IV update when the sequence number reached
// the threshold and announces the IV state with a beacon: a private beacon
// if one was received since setup, a secure network beacon otherwise.
func (c *Controller) CheckSequenceNumber() error {
	c.mu.Lock()
	err := c.checkSequenceNumberLocked()
	c.mu.Unlock()

	c.flush()
	return err
}

func (c *Controller) checkSequenceNumberLocked() error {
	if err := c.checkReadyLocked(); err != nil {
		return err
	}
	if c.seq.Updating() {
		c.log.Debugf("IV update in progress")
	} else if c.seq.CheckThreshold() {
		c.log.Infof("sequence number %#06x reached threshold, IV update to %#08x", c.seq.Sequence(), c.seq.IVIndex())
	}

	var flags beacon.Flags
	if c.seq.Updating() {
		flags |= beacon.FlagIVUpdate
	}
	iv := c.seq.CommittedIVIndex()

	var (
		data []byte
		err  error
	)
	if c.privateBeaconReceived {
		data, err = (&beacon.PrivateBeacon{Flags: flags, IVIndex: iv}).Encode(c.keys.PrivateBeaconKey)
	} else {
		data, err = (&beacon.SecureNetworkBeacon{Flags: flags, NetworkID: c.keys.NetworkID, IVIndex: iv}).Encode(c.keys.BeaconKey)
	}
	if err != nil {
		return err
	}
	c.metrics.PDUSent(KindBeacon)
	c.emitCommand(proxy.PDUTypeMeshBeacon, data)
	return nil
}
