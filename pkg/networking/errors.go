package networking

import "errors"

// Package-level errors.
var (
	// ErrNotSetup is returned when an operation requires key material that
	// Setup has not installed yet.
	ErrNotSetup = errors.New("networking: controller not set up")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("networking: controller closed")

	// ErrBridgeRequired is returned when Config.Bridge is nil.
	ErrBridgeRequired = errors.New("networking: bridge is required")

	// ErrInvalidConfig is returned when a configuration value is out of range.
	ErrInvalidConfig = errors.New("networking: invalid configuration")

	// ErrInvalidNetworkKey is returned when the network key is not 16 bytes.
	ErrInvalidNetworkKey = errors.New("networking: invalid network key")

	// ErrInvalidDestination is returned when a message has no destination.
	ErrInvalidDestination = errors.New("networking: invalid destination address")

	// ErrKeyNotFound is returned when no application or device key is
	// available for a message.
	ErrKeyNotFound = errors.New("networking: key not found")

	// ErrReliableBusy is returned when a reliable message is already in flight.
	ErrReliableBusy = errors.New("networking: reliable message busy")

	// ErrSegmentBusy is returned when a segmented message is still awaiting
	// its block acknowledgement.
	ErrSegmentBusy = errors.New("networking: segmented message busy")

	// ErrQueueFull is returned when the outbound queue cannot take the PDUs
	// of a message.
	ErrQueueFull = errors.New("networking: outbound queue full")

	// ErrDecryptionFailed is returned for PDUs that do not authenticate.
	ErrDecryptionFailed = errors.New("networking: decryption failed")

	// ErrReplay is returned for PDUs rejected by replay protection.
	ErrReplay = errors.New("networking: replayed PDU")

	// ErrDropped is returned for PDUs that are valid but not for this node.
	ErrDropped = errors.New("networking: PDU dropped")
)
