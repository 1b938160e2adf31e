package transport

import (
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures link impairment on a Pipe.
type NetworkCondition struct {
	// DropRate is the probability of dropping a frame (0.0 - 1.0).
	DropRate float64

	// DelayMin and DelayMax bound a uniformly distributed per-frame delay.
	DelayMin time.Duration
	DelayMax time.Duration

	// DuplicateRate is the probability of delivering a frame twice (0.0 - 1.0).
	DuplicateRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess delivers frames from a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often queued frames are delivered.
	// Default: 1ms
	ProcessInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: time.Millisecond,
	}
}

// Pipe is an in-memory stand-in for a GATT proxy link between two endpoints.
// Each Write on one end arrives as exactly one Read on the other, the way
// GATT writes and notifications preserve boundaries. It wraps pion's
// test.Bridge.
type Pipe struct {
	bridge *test.Bridge
	conns  [2]*pipeConn

	mu              sync.RWMutex
	condition       NetworkCondition
	rng             *rand.Rand
	closed          bool
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewPipe creates a pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:          test.NewBridge(),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}
	if p.processInterval == 0 {
		p.processInterval = time.Millisecond
	}
	p.conns[0] = &pipeConn{Conn: p.bridge.GetConn0(), pipe: p}
	p.conns[1] = &pipeConn{Conn: p.bridge.GetConn1(), pipe: p}

	if p.autoProcess {
		p.startAutoProcess()
	}
	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go p.deliver(p.stopCh)
}

// deliver drains the bridge every processInterval until stop closes.
func (p *Pipe) deliver(stop <-chan struct{}) {
	defer p.wg.Done()
	t := time.NewTicker(p.processInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			p.Process()
		}
	}
}

// SetAutoProcess enables or disables background delivery. When disabled,
// frames move only on Tick or Process.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.autoProcess == enabled {
		return
	}
	p.autoProcess = enabled

	if enabled {
		p.stopCh = make(chan struct{})
		p.startAutoProcess()
	} else {
		close(p.stopCh)
		p.wg.Wait()
	}
}

// AutoProcess returns whether auto-processing is enabled.
func (p *Pipe) AutoProcess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoProcess
}

// SetCondition configures impairment for frames in both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Condition returns the current impairment configuration.
func (p *Pipe) Condition() NetworkCondition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.condition
}

// Conn0 returns endpoint 0.
func (p *Pipe) Conn0() net.Conn {
	return p.conns[0]
}

// Conn1 returns endpoint 1.
func (p *Pipe) Conn1() net.Conn {
	return p.conns[1]
}

// Tick delivers at most one frame in each direction and returns the count.
// A frame is only handed to a reader already blocked in Read; otherwise it
// stays queued.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers queued frames to blocked readers until none can be
// delivered and returns the count.
func (p *Pipe) Process() int {
	total := 0
	for n := p.bridge.Tick(); n > 0; n = p.bridge.Tick() {
		total += n
	}
	return total
}

// Close stops delivery and closes both endpoints.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	return errors.Join(p.conns[0].Conn.Close(), p.conns[1].Conn.Close())
}

// pipeConn applies the pipe's NetworkCondition to outbound frames.
type pipeConn struct {
	net.Conn
	pipe *Pipe
}

func (c *pipeConn) Write(b []byte) (int, error) {
	drop, dup, delay := c.pipe.roll()
	if drop {
		return len(b), nil
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if dup {
		if _, err := c.Conn.Write(b); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// roll samples the current condition for one frame. The write lock also
// guards rng.
func (p *Pipe) roll() (drop, dup bool, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cond := p.condition
	drop = cond.DropRate > 0 && p.rng.Float64() < cond.DropRate
	dup = cond.DuplicateRate > 0 && p.rng.Float64() < cond.DuplicateRate
	delay = cond.DelayMin
	if cond.DelayMax > cond.DelayMin {
		delay += time.Duration(p.rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
	}
	return drop, dup, delay
}
