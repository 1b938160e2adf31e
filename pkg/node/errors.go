package node

import "errors"

// Package-level errors.
var (
	// ErrNotInitialized is returned when an operation requires an initialized node.
	ErrNotInitialized = errors.New("node: not initialized")

	// ErrAlreadyStarted is returned when Start() is called on a running node.
	ErrAlreadyStarted = errors.New("node: already started")

	// ErrNotStarted is returned when an operation requires a running node.
	ErrNotStarted = errors.New("node: not started")

	// ErrAlreadyStopped is returned when Stop() is called on a stopped node.
	ErrAlreadyStopped = errors.New("node: already stopped")

	// ErrStoreRequired is returned when Store is nil.
	ErrStoreRequired = errors.New("node: store is required")

	// ErrConnRequired is returned when Conn is nil.
	ErrConnRequired = errors.New("node: bearer connection is required")
)
