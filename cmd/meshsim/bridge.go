package main

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/backkem/blemesh/pkg/message"
	"github.com/backkem/blemesh/pkg/networking"
	"github.com/backkem/blemesh/pkg/proxy"
)

// simBridge logs controller events of one node and publishes them to the hub.
type simBridge struct {
	name string
	hub  *Hub
	log  logrus.FieldLogger

	mu        sync.Mutex
	onMessage func(networking.MeshMessageEvent)
}

func newSimBridge(addr message.Address, hub *Hub, log logrus.FieldLogger) *simBridge {
	return &simBridge{
		name: addr.String(),
		hub:  hub,
		log:  log.WithField("node", addr.String()),
	}
}

func (b *simBridge) setOnMessage(fn func(networking.MeshMessageEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onMessage = fn
}

func (b *simBridge) publish(typ string, payload interface{}) {
	if b.hub != nil {
		b.hub.Publish(event{Type: typ, Node: b.name, Time: time.Now(), Payload: payload})
	}
}

func (b *simBridge) OnCommandPrepared(t proxy.PDUType, data []byte) {
	b.log.WithField("type", t.String()).Tracef("tx %x", data)
	b.publish("tx", map[string]interface{}{"pduType": t.String(), "length": len(data)})
}

func (b *simBridge) OnMeshMessageReceived(e networking.MeshMessageEvent) {
	b.log.WithFields(logrus.Fields{
		"src":    e.Source.String(),
		"dst":    e.Destination.String(),
		"opcode": e.Opcode.String(),
	}).Info("mesh message")
	b.publish("message", map[string]interface{}{
		"source":      e.Source.String(),
		"destination": e.Destination.String(),
		"opcode":      e.Opcode.String(),
		"params":      hex.EncodeToString(e.Params),
	})

	b.mu.Lock()
	fn := b.onMessage
	b.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

func (b *simBridge) OnReliableMessageComplete(r networking.ReliableResult) {
	b.log.WithFields(logrus.Fields{
		"success":   r.Success,
		"responses": r.ResponseCount,
		"duration":  r.Duration,
	}).Info("reliable message complete")
	b.publish("reliable", r)
}

func (b *simBridge) OnSegmentMessageComplete(success bool) {
	b.log.WithField("success", success).Info("segmented message complete")
	b.publish("segmented", map[string]bool{"success": success})
}

func (b *simBridge) OnNetworkInfoUpdate(info networking.NetworkInfo) {
	b.log.WithFields(logrus.Fields{"seq": info.SequenceNumber, "ivIndex": info.IVIndex}).Debug("network info")
	b.publish("networkInfo", info)
}

func (b *simBridge) OnProxyInitComplete(r networking.ProxyInitResult) {
	b.log.WithFields(logrus.Fields{"success": r.Success, "direct": r.DirectAddress.String()}).Info("proxy filter")
	b.publish("proxyInit", r)
}

func (b *simBridge) OnHeartbeatMessageReceived(e networking.HeartbeatEvent) {
	b.log.WithFields(logrus.Fields{"src": e.Source.String(), "hops": e.Hops()}).Info("heartbeat")
	b.publish("heartbeat", e)
}

var _ networking.Bridge = (*simBridge)(nil)
