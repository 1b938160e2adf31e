package message

import (
	"encoding/binary"

	"github.com/backkem/blemesh/pkg/crypto"
)

// NetworkKeys is the key material derived from one NetKey.
type NetworkKeys = crypto.NetworkKeys

// NetworkPDU is a decoded network layer PDU (Mesh Profile Section 3.4.4).
type NetworkPDU struct {
	// IVI is the least significant bit of the IV index used to protect the PDU.
	IVI uint8

	// NID identifies the network key generation.
	NID uint8

	// CTL is set for control messages, which use a 64-bit NetMIC.
	CTL bool

	TTL uint8
	SEQ uint32
	SRC Address
	DST Address

	// TransportPDU is the lower transport PDU carried in the payload.
	TransportPDU []byte
}

// NetMICSize returns the NetMIC length implied by CTL.
func (p *NetworkPDU) NetMICSize() int {
	if p.CTL {
		return NetMICSizeControl
	}
	return NetMICSizeAccess
}

// Validate checks bit-width constraints of the header fields.
func (p *NetworkPDU) Validate() error {
	if p.TTL > MaxTTL || p.SEQ > MaxSequenceNumber {
		return ErrInvalidField
	}
	if len(p.TransportPDU) == 0 {
		return ErrEmptyPayload
	}
	return nil
}

// EncodeNetworkPDU encrypts and obfuscates pdu with keys at ivIndex.
// The IVI and NID fields of pdu are ignored and taken from ivIndex and keys.
func EncodeNetworkPDU(pdu *NetworkPDU, keys *NetworkKeys, ivIndex uint32) ([]byte, error) {
	if err := pdu.Validate(); err != nil {
		return nil, err
	}
	nonce := crypto.NetworkNonce(pdu.CTL, pdu.TTL, pdu.SEQ, uint16(pdu.SRC), ivIndex)
	return sealNetwork(pdu, keys, ivIndex, nonce)
}

// DecodeNetworkPDU deobfuscates and decrypts data with keys at ivIndex.
// ivIndex must already be reconciled with the IVI bit of data (see sequence.State.AcceptedIVIndex).
// Any NID mismatch or authentication failure returns ErrDecryptionFailed.
func DecodeNetworkPDU(data []byte, keys *NetworkKeys, ivIndex uint32) (*NetworkPDU, error) {
	return openNetwork(data, keys, ivIndex, false)
}

// EncodeProxyConfigPDU protects a proxy configuration message.
// The proxy nonce is used and CTL=1, TTL=0, DST=unassigned are implied.
func EncodeProxyConfigPDU(seq uint32, src Address, payload []byte, keys *NetworkKeys, ivIndex uint32) ([]byte, error) {
	pdu := &NetworkPDU{
		CTL:          true,
		SEQ:          seq,
		SRC:          src,
		DST:          AddressUnassigned,
		TransportPDU: payload,
	}
	if err := pdu.Validate(); err != nil {
		return nil, err
	}
	return sealNetwork(pdu, keys, ivIndex, crypto.ProxyNonce(seq, uint16(src), ivIndex))
}

// DecodeProxyConfigPDU opens a proxy configuration message.
func DecodeProxyConfigPDU(data []byte, keys *NetworkKeys, ivIndex uint32) (*NetworkPDU, error) {
	return openNetwork(data, keys, ivIndex, true)
}

// IVIOf returns the IVI bit of a raw network PDU.
func IVIOf(data []byte) uint8 {
	if len(data) == 0 {
		return 0
	}
	return data[0] >> 7
}

func sealNetwork(pdu *NetworkPDU, keys *NetworkKeys, ivIndex uint32, nonce []byte) ([]byte, error) {
	plaintext := make([]byte, 2+len(pdu.TransportPDU))
	binary.BigEndian.PutUint16(plaintext, uint16(pdu.DST))
	copy(plaintext[2:], pdu.TransportPDU)

	ciphertext, err := crypto.AESCCMEncrypt(keys.EncryptionKey, nonce, plaintext, pdu.NetMICSize())
	if err != nil {
		return nil, ErrInvalidKey
	}

	var header [crypto.ObfuscatedHeaderSize]byte
	header[0] = pdu.TTL & MaxTTL
	if pdu.CTL {
		header[0] |= 0x80
	}
	putUint24(header[1:4], pdu.SEQ)
	binary.BigEndian.PutUint16(header[4:6], uint16(pdu.SRC))

	obfuscated, err := crypto.ObfuscateHeader(keys.PrivacyKey, ivIndex, ciphertext, header[:])
	if err != nil {
		return nil, ErrInvalidKey
	}

	out := make([]byte, 0, 1+len(obfuscated)+len(ciphertext))
	out = append(out, byte(ivIndex&1)<<7|keys.NID&0x7F)
	out = append(out, obfuscated...)
	out = append(out, ciphertext...)
	return out, nil
}

func openNetwork(data []byte, keys *NetworkKeys, ivIndex uint32, proxy bool) (*NetworkPDU, error) {
	if len(data) < MinNetworkPDUSize {
		return nil, ErrPDUTooShort
	}
	if data[0]&0x7F != keys.NID {
		return nil, ErrDecryptionFailed
	}

	body := data[1+crypto.ObfuscatedHeaderSize:]
	header, err := crypto.ObfuscateHeader(keys.PrivacyKey, ivIndex, body, data[1:1+crypto.ObfuscatedHeaderSize])
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	pdu := &NetworkPDU{
		IVI: data[0] >> 7,
		NID: data[0] & 0x7F,
		CTL: header[0]&0x80 != 0,
		TTL: header[0] & MaxTTL,
		SEQ: uint24(header[1:4]),
		SRC: Address(binary.BigEndian.Uint16(header[4:6])),
	}
	if proxy && (!pdu.CTL || pdu.TTL != 0) {
		return nil, ErrDecryptionFailed
	}
	if len(body) < 2+1+pdu.NetMICSize() {
		return nil, ErrPDUTooShort
	}

	var nonce []byte
	if proxy {
		nonce = crypto.ProxyNonce(pdu.SEQ, uint16(pdu.SRC), ivIndex)
	} else {
		nonce = crypto.NetworkNonce(pdu.CTL, pdu.TTL, pdu.SEQ, uint16(pdu.SRC), ivIndex)
	}
	plaintext, err := crypto.AESCCMDecrypt(keys.EncryptionKey, nonce, body, pdu.NetMICSize())
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	pdu.DST = Address(binary.BigEndian.Uint16(plaintext))
	pdu.TransportPDU = plaintext[2:]
	return pdu, nil
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
