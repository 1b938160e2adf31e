// Package store persists the network information a controller reports
// through OnNetworkInfoUpdate, so a restarted node resumes with a sequence
// number that was never used before.
package store

import (
	"errors"
	"time"

	"github.com/backkem/blemesh/pkg/message"
)

// ErrNotFound is returned when no state is stored for a node.
var ErrNotFound = errors.New("store: not found")

// NetworkState is the persisted network information of one local node.
type NetworkState struct {
	// SequenceNumber is the first sequence number the node may use after a
	// restart.
	SequenceNumber uint32
	IVIndex        uint32
	UpdatedAt      time.Time
}

// Store abstracts persistent storage of network state.
//
// All methods must be safe for concurrent use.
type Store interface {
	LoadNetworkState(node message.Address) (NetworkState, error)
	SaveNetworkState(node message.Address, state NetworkState) error
	DeleteNetworkState(node message.Address) error
	Close() error
}
