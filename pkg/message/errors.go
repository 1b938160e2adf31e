package message

import "errors"

// PDU layer errors.
var (
	// Decoding errors
	ErrPDUTooShort     = errors.New("message: PDU too short")
	ErrInvalidField    = errors.New("message: field out of range")
	ErrInvalidOpcode   = errors.New("message: invalid access opcode")
	ErrUnknownOpcode   = errors.New("message: unknown control opcode")
	ErrPayloadTooLong  = errors.New("message: payload too long")
	ErrEmptyPayload    = errors.New("message: empty payload")
	ErrSegmentedHeader = errors.New("message: inconsistent segmentation header")

	// Security errors
	ErrDecryptionFailed = errors.New("message: decryption/authentication failed")
	ErrInvalidKey       = errors.New("message: invalid key")
)

// Wire format constants from the Mesh Profile.
const (
	// MinNetworkPDUSize is IVI|NID (1) + obfuscated header (6) + DST (2) + 1 byte transport PDU + NetMIC (4).
	MinNetworkPDUSize = 14

	// NetMICSizeAccess is the NetMIC length for CTL=0.
	NetMICSizeAccess = 4

	// NetMICSizeControl is the NetMIC length for CTL=1.
	NetMICSizeControl = 8

	// MaxTTL is the largest TTL value.
	MaxTTL = 0x7F

	// MaxSequenceNumber is the largest 24-bit sequence number.
	MaxSequenceNumber = 0xFFFFFF

	// SeqZeroMask selects the 13-bit SeqZero.
	SeqZeroMask = 0x1FFF

	// MaxSegments is the number of segments addressable by SegO/SegN.
	MaxSegments = 32

	// TransMICSizeSmall is the TransMIC length for SZMIC=0.
	TransMICSizeSmall = 4

	// TransMICSizeLarge is the TransMIC length for SZMIC=1.
	TransMICSizeLarge = 8
)
