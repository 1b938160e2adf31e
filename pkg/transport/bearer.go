package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/blemesh/pkg/proxy"
)

// Handler is called for each reassembled proxy PDU.
// Implementations should return quickly; the read loop waits for them.
type Handler func(typ proxy.PDUType, pdu []byte)

// Bearer carries proxy PDUs over a frame-oriented connection such as a GATT
// proxy characteristic. Outbound PDUs are fragmented to the MTU, inbound
// frames are reassembled and passed to the Handler.
type Bearer struct {
	conn    net.Conn
	mtu     int
	handler Handler
	closeCh chan struct{}
	wg      sync.WaitGroup
	log     logging.LeveledLogger

	// writeMu keeps the frames of one PDU together.
	writeMu sync.Mutex

	mu      sync.RWMutex
	started bool
	closed  bool
}

// BearerConfig configures a Bearer.
type BearerConfig struct {
	// Conn delivers one frame per Read and sends one frame per Write.
	// Required.
	Conn net.Conn

	// MTU is the largest frame (default: DefaultMTU).
	MTU int

	// Handler is called for each received PDU.
	// Required.
	Handler Handler

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewBearer creates a bearer with the given configuration.
func NewBearer(config BearerConfig) (*Bearer, error) {
	if config.Handler == nil {
		return nil, ErrNoHandler
	}
	if config.Conn == nil {
		return nil, ErrNoConn
	}
	if config.MTU == 0 {
		config.MTU = DefaultMTU
	}
	if config.MTU < MinMTU || config.MTU > MaxMTU {
		return nil, ErrInvalidMTU
	}

	b := &Bearer{
		conn:    config.Conn,
		mtu:     config.MTU,
		handler: config.Handler,
		closeCh: make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		b.log = config.LoggerFactory.NewLogger("transport")
	}
	return b, nil
}

// Start begins the read loop.
func (b *Bearer) Start() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.started {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.started = true
	b.mu.Unlock()

	if b.log != nil {
		b.log.Infof("starting proxy bearer mtu=%d", b.mtu)
	}

	b.wg.Add(1)
	go b.readLoop()
	return nil
}

// Stop closes the connection and waits for the read loop to exit.
func (b *Bearer) Stop() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.closed = true
	b.mu.Unlock()

	close(b.closeCh)
	b.conn.SetReadDeadline(time.Now())
	b.conn.Close()
	b.wg.Wait()
	return nil
}

// Send fragments pdu and writes its frames.
func (b *Bearer) Send(typ proxy.PDUType, pdu []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	b.mu.RUnlock()

	frames, err := Fragment(typ, pdu, b.mtu)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	for _, f := range frames {
		if _, err := b.conn.Write(f); err != nil {
			if b.log != nil {
				b.log.Warnf("send %s failed: %v", typ, err)
			}
			return err
		}
	}
	if b.log != nil {
		b.log.Tracef("sent %s: %d bytes in %d frames", typ, len(pdu), len(frames))
	}
	return nil
}

// MTU returns the frame size used for outbound PDUs.
func (b *Bearer) MTU() int {
	return b.mtu
}

func (b *Bearer) readLoop() {
	defer b.wg.Done()

	var reasm Reassembler
	buf := make([]byte, MaxMTU)

	for {
		select {
		case <-b.closeCh:
			return
		default:
		}

		n, err := b.conn.Read(buf)
		if err != nil {
			select {
			case <-b.closeCh:
				return
			default:
			}
			if b.log != nil {
				b.log.Warnf("read error: %v", err)
			}
			// A closed peer does not come back.
			return
		}

		typ, pdu, ok, err := reasm.Push(buf[:n])
		if err != nil {
			if b.log != nil {
				b.log.Debugf("dropping frame: %v", err)
			}
			continue
		}
		if !ok {
			continue
		}
		if b.log != nil {
			b.log.Tracef("received %s: %d bytes", typ, len(pdu))
		}
		b.handler(typ, pdu)
	}
}
