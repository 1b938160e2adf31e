package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed bearer.
	ErrClosed = errors.New("transport: closed")

	// ErrNoHandler is returned when no PDU handler is configured.
	ErrNoHandler = errors.New("transport: no PDU handler configured")

	// ErrNoConn is returned when no connection is configured.
	ErrNoConn = errors.New("transport: no connection configured")

	// ErrAlreadyStarted is returned when Start is called on a running bearer.
	ErrAlreadyStarted = errors.New("transport: already started")

	// ErrInvalidMTU is returned for an MTU outside MinMTU..MaxMTU.
	ErrInvalidMTU = errors.New("transport: invalid MTU")

	// ErrEmptyPDU is returned when sending a PDU without data.
	ErrEmptyPDU = errors.New("transport: empty PDU")

	// ErrPDUTooLarge is returned when a PDU exceeds MaxPDUSize.
	ErrPDUTooLarge = errors.New("transport: PDU too large")

	// ErrInvalidType is returned for a proxy PDU type that does not fit the
	// 6-bit header field.
	ErrInvalidType = errors.New("transport: invalid proxy PDU type")

	// Reassembly errors
	ErrFrameTooShort = errors.New("transport: frame too short")
	ErrUnexpectedSAR = errors.New("transport: continuation without first segment")
	ErrTypeMismatch  = errors.New("transport: PDU type changed during reassembly")
)
