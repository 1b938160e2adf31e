package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/backkem/blemesh/pkg/message"
	"github.com/backkem/blemesh/pkg/networking"
	"github.com/backkem/blemesh/pkg/node"
	"github.com/backkem/blemesh/pkg/store"
	"github.com/backkem/blemesh/pkg/transport"
)

// simulation runs two nodes over an in-memory proxy link. The first node
// sends the configured traffic, the second answers with the response opcode.
type simulation struct {
	cfg     *simConfig
	log     logrus.FieldLogger
	nodes   [2]*node.Node
	bridges [2]*simBridge
	pipe    *transport.Pipe

	mu    sync.Mutex
	onOff byte
}

func newSimulation(cfg *simConfig, st store.Store, reg prometheus.Registerer, hub *Hub, lf logging.LoggerFactory, log logrus.FieldLogger) (*simulation, error) {
	s := &simulation{cfg: cfg, log: log}

	var nodeCfgs [2]node.Config
	for i := range nodeCfgs {
		mesh, err := cfg.meshConfiguration(i)
		if err != nil {
			return nil, err
		}
		s.bridges[i] = newSimBridge(mesh.LocalAddress, hub, log)
		nodeCfgs[i] = node.Config{
			Mesh:          mesh,
			MTU:           cfg.Link.MTU,
			Store:         st,
			Bridge:        s.bridges[i],
			Registerer:    reg,
			ProxyFilter:   cfg.Nodes[i].ProxyFilter,
			LoggerFactory: lf,
		}
	}

	a, b, pipe, err := node.NewPipePair(nodeCfgs[0], nodeCfgs[1])
	if err != nil {
		return nil, err
	}
	s.nodes = [2]*node.Node{a, b}
	s.pipe = pipe
	pipe.SetCondition(transport.NetworkCondition{
		DropRate:      cfg.Link.DropRate,
		DuplicateRate: cfg.Link.DuplicateRate,
		DelayMin:      cfg.Link.DelayMin,
		DelayMax:      cfg.Link.DelayMax,
	})

	s.bridges[1].setOnMessage(s.respond)
	return s, nil
}

// respond answers requests arriving at the second node.
func (s *simulation) respond(e networking.MeshMessageEvent) {
	if e.Opcode != message.Opcode(s.cfg.Traffic.Opcode) {
		return
	}
	s.mu.Lock()
	state := s.onOff
	s.mu.Unlock()

	reply := networking.NewMeshMessage(e.Source, message.Opcode(s.cfg.Traffic.ResponseOpcode), []byte{state})
	if err := s.nodes[1].Send(reply); err != nil {
		s.log.WithError(err).Warn("send response")
	}
}

func (s *simulation) start() error {
	for i, n := range s.nodes {
		if err := n.Start(); err != nil {
			for _, started := range s.nodes[:i] {
				started.Stop()
			}
			return fmt.Errorf("start node %s: %w", n.LocalAddress(), err)
		}
	}
	return nil
}

func (s *simulation) stop() {
	for _, n := range s.nodes {
		if err := n.Stop(); err != nil {
			s.log.WithError(err).WithField("node", n.LocalAddress().String()).Warn("stop node")
		}
	}
	s.pipe.Close()
}

// sendOnce sends one traffic message from the first node to the second.
func (s *simulation) sendOnce() error {
	params, err := decodeHex(s.cfg.Traffic.Params)
	if err != nil {
		return err
	}
	dst := s.nodes[1].LocalAddress()
	op := message.Opcode(s.cfg.Traffic.Opcode)

	var msg *networking.MeshMessage
	if s.cfg.Traffic.Reliable {
		msg = networking.NewReliableMessage(dst, op, params, message.Opcode(s.cfg.Traffic.ResponseOpcode))
	} else {
		msg = networking.NewMeshMessage(dst, op, params)
	}

	s.mu.Lock()
	s.onOff ^= 1
	s.mu.Unlock()

	err = s.nodes[0].Send(msg)
	if errors.Is(err, networking.ErrReliableBusy) {
		s.log.Debug("previous reliable message still pending")
		return nil
	}
	return err
}

// run sends traffic until ctx is done. Every tick also lets each node
// announce its IV state.
func (s *simulation) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Traffic.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sendOnce(); err != nil {
				s.log.WithError(err).Warn("send traffic")
			}
			for _, n := range s.nodes {
				if err := n.Controller().CheckSequenceNumber(); err != nil {
					s.log.WithError(err).Debug("check sequence number")
				}
			}
		}
	}
}

// status is the JSON view of a node served at /status.
type status struct {
	Address        string `json:"address"`
	State          string `json:"state"`
	SequenceNumber uint32 `json:"sequenceNumber"`
	IVIndex        uint32 `json:"ivIndex"`
	IVUpdating     bool   `json:"ivUpdating"`
	DirectAddress  string `json:"directAddress"`
}

func (s *simulation) status() []status {
	out := make([]status, 0, len(s.nodes))
	for _, n := range s.nodes {
		c := n.Controller()
		out = append(out, status{
			Address:        n.LocalAddress().String(),
			State:          n.State().String(),
			SequenceNumber: c.SequenceNumber(),
			IVIndex:        c.IVIndex(),
			IVUpdating:     c.IVUpdating(),
			DirectAddress:  c.DirectAddress().String(),
		})
	}
	return out
}
