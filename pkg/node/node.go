package node

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/backkem/blemesh/pkg/beacon"
	"github.com/backkem/blemesh/pkg/message"
	"github.com/backkem/blemesh/pkg/metrics"
	"github.com/backkem/blemesh/pkg/networking"
	"github.com/backkem/blemesh/pkg/proxy"
	"github.com/backkem/blemesh/pkg/store"
	"github.com/backkem/blemesh/pkg/transport"
)

// Node is a running mesh node.
type Node struct {
	config Config
	state  State
	log    logging.LeveledLogger

	ctrl   *networking.Controller
	bearer *transport.Bearer

	mu sync.RWMutex

	// infoMu guards the last network state reported by the controller.
	infoMu   sync.Mutex
	lastInfo networking.NetworkInfo
	hasInfo  bool
}

// NewNode creates a node. It is not started; call Start to open the bearer.
func NewNode(config Config) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	n := &Node{
		config: config,
		state:  StateUninitialized,
	}
	if config.LoggerFactory != nil {
		n.log = config.LoggerFactory.NewLogger("node")
	}

	var m networking.Metrics
	if config.Registerer != nil {
		c, err := metrics.New(config.Registerer, prometheus.Labels{"node": config.Mesh.LocalAddress.String()})
		if err != nil {
			return nil, fmt.Errorf("node: metrics: %w", err)
		}
		m = c
	}

	var err error
	n.ctrl, err = networking.NewController(networking.Config{
		Bridge:             nodeBridge{n},
		LoggerFactory:      config.LoggerFactory,
		Metrics:            m,
		QueueCapacity:      config.QueueCapacity,
		SequenceUpdateStep: config.SequenceUpdateStep,
		Timing:             config.Timing,
	})
	if err != nil {
		return nil, err
	}

	n.bearer, err = transport.NewBearer(transport.BearerConfig{
		Conn:          config.Conn,
		MTU:           config.MTU,
		Handler:       n.dispatch,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	n.state = StateInitialized
	return n, nil
}

// Start restores network state, opens the bearer and sets up the
// controller. Bridge callbacks raised while starting run without the node
// lock held; Send is accepted once the node reports StateRunning.
func (n *Node) Start() error {
	n.mu.Lock()
	if !n.state.CanStart() {
		running := n.state.IsRunning() || n.state == StateStarting
		n.mu.Unlock()
		if running {
			return ErrAlreadyStarted
		}
		return ErrNotInitialized
	}
	n.state = StateStarting
	n.mu.Unlock()

	mesh, err := n.restoreState()
	if err != nil {
		n.transition(StateInitialized)
		return err
	}

	if err := n.bearer.Start(); err != nil {
		n.transition(StateInitialized)
		return err
	}

	if err := n.ctrl.Setup(mesh); err != nil {
		n.bearer.Stop()
		n.transition(StateStopped)
		return err
	}

	n.setState(StateRunning)
	if n.log != nil {
		n.log.Infof("node %s started seq=%#06x iv=%#08x", mesh.LocalAddress, n.ctrl.SequenceNumber(), n.ctrl.IVIndex())
	}

	if n.config.ProxyFilter {
		if err := n.ctrl.ProxyFilterInit(); err != nil && n.log != nil {
			n.log.Warnf("proxy filter init: %v", err)
		}
	}
	return nil
}

// restoreState merges the stored network state into the configured one.
// A newer IV index wins; within one IV index the larger sequence number wins.
func (n *Node) restoreState() (networking.MeshConfiguration, error) {
	mesh := n.config.Mesh

	st, err := n.config.Store.LoadNetworkState(mesh.LocalAddress)
	if errors.Is(err, store.ErrNotFound) {
		return mesh, nil
	}
	if err != nil {
		return mesh, err
	}

	switch {
	case st.IVIndex > mesh.IVIndex:
		mesh.IVIndex = st.IVIndex
		mesh.SequenceNumber = st.SequenceNumber
	case st.IVIndex == mesh.IVIndex:
		mesh.SequenceNumber = max(mesh.SequenceNumber, st.SequenceNumber)
	}
	if n.log != nil {
		n.log.Debugf("restored seq=%#06x iv=%#08x (stored %s)", mesh.SequenceNumber, mesh.IVIndex, st.UpdatedAt.Format(time.RFC3339))
	}
	return mesh, nil
}

// Stop closes the bearer and the controller and persists the sequence state.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.state.CanStop() {
		stopped := n.state == StateStopped || n.state == StateStopping
		n.mu.Unlock()
		if stopped {
			return ErrAlreadyStopped
		}
		return ErrNotStarted
	}
	n.state = StateStopping
	n.mu.Unlock()

	// Not under mu: the read loop may be inside a bridge callback calling State.
	n.bearer.Stop()
	n.ctrl.Close()
	n.saveState()

	n.setState(StateStopped)
	if n.log != nil {
		n.log.Info("node stopped")
	}
	return nil
}

// saveState writes the highest sequence number known to be reserved.
func (n *Node) saveState() {
	n.infoMu.Lock()
	info := n.lastInfo
	has := n.hasInfo
	n.infoMu.Unlock()

	seq := n.ctrl.SequenceNumber()
	iv := n.config.Mesh.IVIndex
	if has {
		seq = max(seq, info.SequenceNumber)
		iv = info.IVIndex
	}
	err := n.config.Store.SaveNetworkState(n.config.Mesh.LocalAddress, store.NetworkState{
		SequenceNumber: seq,
		IVIndex:        iv,
		UpdatedAt:      time.Now(),
	})
	if err != nil && n.log != nil {
		n.log.Errorf("save network state: %v", err)
	}
}

// setState publishes s and reports it to OnStateChanged outside the lock.
func (n *Node) setState(s State) {
	n.transition(s)
	if n.config.OnStateChanged != nil {
		n.config.OnStateChanged(s)
	}
}

func (n *Node) transition(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// State returns the current node state.
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Controller returns the networking controller.
func (n *Node) Controller() *networking.Controller {
	return n.ctrl
}

// LocalAddress returns the unicast address of the node.
func (n *Node) LocalAddress() message.Address {
	return n.config.Mesh.LocalAddress
}

// Send queues a mesh message.
func (n *Node) Send(msg *networking.MeshMessage) error {
	if !n.State().IsRunning() {
		return ErrNotStarted
	}
	return n.ctrl.SendMeshMessage(msg)
}

// dispatch routes a PDU from the bearer to the controller.
func (n *Node) dispatch(typ proxy.PDUType, pdu []byte) {
	if len(pdu) == 0 {
		return
	}
	var err error
	switch typ {
	case proxy.PDUTypeNetwork:
		err = n.ctrl.ParseNetworkPDU(pdu)
	case proxy.PDUTypeMeshBeacon:
		switch beacon.Type(pdu[0]) {
		case beacon.TypeSecureNetwork:
			err = n.ctrl.ParseSecureBeacon(pdu, nil)
		case beacon.TypePrivate:
			err = n.ctrl.ParsePrivateBeacon(pdu, nil)
		default:
			err = fmt.Errorf("unsupported beacon type %d", pdu[0])
		}
	case proxy.PDUTypeProxyConfiguration:
		err = n.ctrl.ParseProxyConfigurationPDU(pdu)
	default:
		err = fmt.Errorf("unsupported proxy PDU type %s", typ)
	}
	if err != nil && n.log != nil {
		n.log.Debugf("dropped %s PDU: %v", typ, err)
	}
}

// nodeBridge handles controller events before passing them to the
// configured Bridge.
type nodeBridge struct {
	n *Node
}

func (b nodeBridge) OnCommandPrepared(t proxy.PDUType, data []byte) {
	if err := b.n.bearer.Send(t, data); err != nil && b.n.log != nil {
		b.n.log.Warnf("bearer send %s: %v", t, err)
	}
	b.n.config.Bridge.OnCommandPrepared(t, data)
}

func (b nodeBridge) OnNetworkInfoUpdate(info networking.NetworkInfo) {
	b.n.infoMu.Lock()
	b.n.lastInfo = info
	b.n.hasInfo = true
	b.n.infoMu.Unlock()

	err := b.n.config.Store.SaveNetworkState(b.n.config.Mesh.LocalAddress, store.NetworkState{
		SequenceNumber: info.SequenceNumber,
		IVIndex:        info.IVIndex,
		UpdatedAt:      time.Now(),
	})
	if err != nil && b.n.log != nil {
		b.n.log.Errorf("persist network info: %v", err)
	}
	b.n.config.Bridge.OnNetworkInfoUpdate(info)
}

func (b nodeBridge) OnMeshMessageReceived(e networking.MeshMessageEvent) {
	b.n.config.Bridge.OnMeshMessageReceived(e)
}

func (b nodeBridge) OnReliableMessageComplete(r networking.ReliableResult) {
	b.n.config.Bridge.OnReliableMessageComplete(r)
}

func (b nodeBridge) OnSegmentMessageComplete(success bool) {
	b.n.config.Bridge.OnSegmentMessageComplete(success)
}

func (b nodeBridge) OnProxyInitComplete(r networking.ProxyInitResult) {
	b.n.config.Bridge.OnProxyInitComplete(r)
}

func (b nodeBridge) OnHeartbeatMessageReceived(e networking.HeartbeatEvent) {
	b.n.config.Bridge.OnHeartbeatMessageReceived(e)
}
