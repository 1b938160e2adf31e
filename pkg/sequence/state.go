// Package sequence tracks the local transmit sequence number, the IV index
// state machine and per-source replay protection (Mesh Profile Sections
// 3.8.3, 3.8.8 and 3.10.5).
package sequence

import (
	"errors"
	"sync"
)

// Sequence and IV index constants.
const (
	// MaxSequence is the largest 24-bit sequence number.
	MaxSequence = 0xFFFFFF

	// UpdateThreshold is the sequence number at which the node starts an IV update.
	UpdateThreshold = 0xC00000

	// MaxIVIndexDelta is the largest accepted jump of a received IV index.
	MaxIVIndexDelta = 42

	// IVIndexMissing marks an IV index that has not been learned yet.
	IVIndexMissing uint32 = 0xFFFFFFFF

	// DefaultPersistStep is the sequence number persistence granularity.
	DefaultPersistStep = 0x100
)

var (
	ErrSequenceExhausted = errors.New("sequence: sequence number space exhausted")
	ErrIVIndexStale      = errors.New("sequence: smaller IV index received")
	ErrIVIndexTooFar     = errors.New("sequence: IV index delta too large")
)

// State is the local sequence counter and IV index state.
// It is safe for concurrent use.
type State struct {
	mu sync.Mutex

	seq  uint32
	step uint32

	// ivIndex is the current IV index; while updating it is one ahead of
	// the IV index used for transmission.
	ivIndex uint32

	// committed is the last IV index the sequence counter was reset for.
	committed uint32

	updating bool
}

// NewState creates a state with an unknown IV index.
// A step of 0 or 1 reports every sequence number for persistence.
func NewState(step uint32) *State {
	return &State{
		step:      step,
		ivIndex:   IVIndexMissing,
		committed: IVIndexMissing,
	}
}

// Init loads persisted values. The sequence number is rounded up to the next
// multiple of the persistence step so that numbers used after the last
// persisted value are never reused. It returns the value to persist and
// whether it must be reported.
func (s *State) Init(seq, ivIndex uint32) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ivIndex = ivIndex
	s.committed = ivIndex
	s.updating = false

	if s.step <= 1 {
		s.seq = seq
		return seq, false
	}
	s.seq = (seq/s.step + 1) * s.step
	return s.seq, true
}

// Next allocates a sequence number for one network PDU. persist reports that
// the incremented counter reached a persistence boundary.
func (s *State) Next() (seq uint32, persist bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seq > MaxSequence {
		return 0, false, ErrSequenceExhausted
	}
	seq = s.seq
	s.seq++
	return seq, s.step == 0 || s.seq%s.step == 0, nil
}

// Sequence returns the next sequence number to be allocated.
func (s *State) Sequence() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// IVIndex returns the current IV index.
func (s *State) IVIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ivIndex
}

// CommittedIVIndex returns the IV index the sequence counter belongs to.
func (s *State) CommittedIVIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// Updating reports whether an IV update is in progress.
func (s *State) Updating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updating
}

// TransmitIVIndex returns the IV index used to protect outgoing PDUs.
func (s *State) TransmitIVIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updating {
		return s.ivIndex - 1
	}
	return s.ivIndex
}

// AcceptedIVIndex returns the IV index matching the IVI bit of a received PDU.
func (s *State) AcceptedIVIndex(ivi uint8) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uint8(s.ivIndex&1) == ivi&1 {
		return s.ivIndex
	}
	return s.ivIndex - 1
}

// CheckThreshold enters the IV update procedure when the sequence number
// reached UpdateThreshold. It returns true if the state changed.
func (s *State) CheckThreshold() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updating || s.seq < UpdateThreshold {
		return false
	}
	s.updating = true
	s.ivIndex = s.committed + 1
	return true
}

// StopUpdating leaves the IV update procedure without committing and
// returns to the committed IV index.
func (s *State) StopUpdating() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.updating {
		return
	}
	s.updating = false
	if s.committed != IVIndexMissing {
		s.ivIndex = s.committed
	}
}

// OnIVAnnounced reconciles the local state with an IV index received in a
// beacon. advanced is true when the committed IV index moved forward; the
// sequence counter is then reset to zero and the caller must drop replay
// records and persist the new values.
func (s *State) OnIVAnnounced(remote uint32, updating bool) (advanced bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ivIndex == IVIndexMissing {
		s.updating = updating
		s.ivIndex = remote
		return s.commit(remote), nil
	}

	switch {
	case remote == s.ivIndex:
		if !updating && s.updating {
			s.updating = false
			return s.commit(remote), nil
		}
		return false, nil
	case remote > s.ivIndex:
		if remote-s.ivIndex > MaxIVIndexDelta {
			return false, ErrIVIndexTooFar
		}
		s.updating = updating
		s.ivIndex = remote
		if updating {
			return s.commit(remote - 1), nil
		}
		return s.commit(remote), nil
	default:
		return false, ErrIVIndexStale
	}
}

func (s *State) commit(iv uint32) bool {
	if iv <= s.committed && s.committed != IVIndexMissing {
		return false
	}
	s.committed = iv
	s.seq = 0
	return true
}
