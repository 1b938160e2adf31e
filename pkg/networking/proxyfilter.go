package networking

import (
	"fmt"

	"github.com/backkem/blemesh/pkg/message"
	"github.com/backkem/blemesh/pkg/proxy"
)

// ProxyFilterInit negotiates the proxy filter of the directly connected
// node: set the accept list filter, then add the local addresses. The outcome
// is reported through Bridge.OnProxyInitComplete.
func (c *Controller) ProxyFilterInit() error {
	c.mu.Lock()
	err := c.proxyFilterInitLocked()
	c.mu.Unlock()

	c.flush()
	return err
}

func (c *Controller) proxyFilterInitLocked() error {
	if err := c.checkReadyLocked(); err != nil {
		return err
	}
	c.proxyStep = 0
	c.schedule(timerProxyFilter, c.cfg.Timing.ProxyFilterTimeout, func() {
		c.log.Warnf("proxy filter negotiation timed out at step %d", c.proxyStep)
		c.completeProxyInitLocked(false)
	})
	if err := c.sendProxyConfigLocked(proxy.SetFilterType(proxy.FilterAcceptList)); err != nil {
		c.proxyStep = -1
		c.cancel(timerProxyFilter)
		return err
	}
	return nil
}

// ParseProxyConfigurationPDU processes a proxy configuration PDU received
// from the directly connected proxy node.
func (c *Controller) ParseProxyConfigurationPDU(data []byte) error {
	c.mu.Lock()
	err := c.parseProxyConfigLocked(data)
	c.mu.Unlock()

	c.flush()
	return err
}

func (c *Controller) parseProxyConfigLocked(data []byte) error {
	if err := c.checkReadyLocked(); err != nil {
		return err
	}
	iv := c.seq.AcceptedIVIndex(message.IVIOf(data))
	pdu, err := message.DecodeProxyConfigPDU(data, c.keys, iv)
	if err != nil {
		c.metrics.PDUDropped(DropDecrypt)
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	cfg, err := proxy.Decode(pdu.TransportPDU)
	if err != nil {
		c.metrics.PDUDropped(DropMalformed)
		return err
	}
	c.metrics.PDUReceived(KindProxyConfig)
	c.onProxyConfigLocked(pdu.SRC, cfg)
	return nil
}

func (c *Controller) onProxyConfigLocked(src message.Address, cfg *proxy.Config) {
	if cfg.Opcode != proxy.OpFilterStatus || cfg.FilterType != proxy.FilterAcceptList {
		return
	}
	if c.proxyStep < 0 {
		return
	}
	c.direct = src
	c.proxyStep++

	switch c.proxyStep {
	case 1:
		addrs := c.whitelist
		if len(addrs) == 0 {
			addrs = []message.Address{c.local, message.AddressAllNodes}
		}
		if err := c.sendProxyConfigLocked(proxy.AddAddresses(addrs...)); err != nil {
			c.log.Warnf("proxy filter add addresses: %v", err)
			c.completeProxyInitLocked(false)
		}
	case 2:
		c.completeProxyInitLocked(true)
	}
}

func (c *Controller) completeProxyInitLocked(success bool) {
	c.proxyStep = -1
	c.cancel(timerProxyFilter)
	result := ProxyInitResult{Success: success, DirectAddress: c.direct}
	c.log.Infof("proxy filter init complete: success=%v direct=%s", success, c.direct)
	c.emit(func(b Bridge) { b.OnProxyInitComplete(result) })
}

// sendProxyConfigLocked protects and emits a proxy configuration message.
// It bypasses the outbound queue.
func (c *Controller) sendProxyConfigLocked(cfg *proxy.Config) error {
	payload, err := cfg.Encode()
	if err != nil {
		return err
	}
	seq, persist, err := c.seq.Next()
	if err != nil {
		return err
	}
	if persist {
		c.notifyNetworkInfoLocked(c.seq.Sequence(), c.seq.IVIndex())
	}
	data, err := message.EncodeProxyConfigPDU(seq, c.local, payload, c.keys, c.seq.TransmitIVIndex())
	if err != nil {
		return err
	}
	c.metrics.PDUSent(KindProxyConfig)
	c.emitCommand(proxy.PDUTypeProxyConfiguration, data)
	return nil
}
