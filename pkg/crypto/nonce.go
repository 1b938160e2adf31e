// Nonce construction and header obfuscation for mesh message security
// (Mesh Profile Sections 3.8.5 and 3.8.7.3).

package crypto

import (
	"crypto/subtle"
	"encoding/binary"
)

// Nonce types.
const (
	NonceTypeNetwork     byte = 0x00
	NonceTypeApplication byte = 0x01
	NonceTypeDevice      byte = 0x02
	NonceTypeProxy       byte = 0x03
)

// Header obfuscation sizes.
const (
	// PrivacyRandomSize is the number of ciphertext bytes mixed into PECB.
	PrivacyRandomSize = 7

	// ObfuscatedHeaderSize is the size of CTL|TTL || SEQ || SRC.
	ObfuscatedHeaderSize = 6
)

func putSeq(b []byte, seq uint32) {
	b[0] = byte(seq >> 16)
	b[1] = byte(seq >> 8)
	b[2] = byte(seq)
}

// NetworkNonce builds 0x00 || CTL|TTL || SEQ || SRC || 0x0000 || IVIndex.
func NetworkNonce(ctl bool, ttl uint8, seq uint32, src uint16, ivIndex uint32) []byte {
	nonce := make([]byte, AESCCMNonceSize)
	nonce[0] = NonceTypeNetwork
	nonce[1] = ttl & 0x7F
	if ctl {
		nonce[1] |= 0x80
	}
	putSeq(nonce[2:5], seq)
	binary.BigEndian.PutUint16(nonce[5:7], src)
	binary.BigEndian.PutUint32(nonce[9:13], ivIndex)
	return nonce
}

// ProxyNonce builds 0x03 || 0x00 || SEQ || SRC || 0x0000 || IVIndex.
func ProxyNonce(seq uint32, src uint16, ivIndex uint32) []byte {
	nonce := make([]byte, AESCCMNonceSize)
	nonce[0] = NonceTypeProxy
	putSeq(nonce[2:5], seq)
	binary.BigEndian.PutUint16(nonce[5:7], src)
	binary.BigEndian.PutUint32(nonce[9:13], ivIndex)
	return nonce
}

// ApplicationNonce builds the nonce for AppKey-protected upper transport PDUs.
func ApplicationNonce(aszmic bool, seq uint32, src, dst uint16, ivIndex uint32) []byte {
	return transportNonce(NonceTypeApplication, aszmic, seq, src, dst, ivIndex)
}

// DeviceNonce builds the nonce for DevKey-protected upper transport PDUs.
func DeviceNonce(aszmic bool, seq uint32, src, dst uint16, ivIndex uint32) []byte {
	return transportNonce(NonceTypeDevice, aszmic, seq, src, dst, ivIndex)
}

func transportNonce(kind byte, aszmic bool, seq uint32, src, dst uint16, ivIndex uint32) []byte {
	nonce := make([]byte, AESCCMNonceSize)
	nonce[0] = kind
	if aszmic {
		nonce[1] = 0x80
	}
	putSeq(nonce[2:5], seq)
	binary.BigEndian.PutUint16(nonce[5:7], src)
	binary.BigEndian.PutUint16(nonce[7:9], dst)
	binary.BigEndian.PutUint32(nonce[9:13], ivIndex)
	return nonce
}

// ObfuscateHeader XORs the 6-byte CTL|TTL || SEQ || SRC header with
// PECB = e(PrivacyKey, 0x0000000000 || IVIndex || PrivacyRandom).
// privacyRandom is the first 7 bytes of EncDST || EncTransportPDU || NetMIC.
// The operation is its own inverse.
func ObfuscateHeader(privacyKey []byte, ivIndex uint32, privacyRandom, header []byte) ([]byte, error) {
	if len(privacyRandom) < PrivacyRandomSize || len(header) != ObfuscatedHeaderSize {
		return nil, ErrInvalidBlockSize
	}

	var plain [aesBlockSize]byte
	binary.BigEndian.PutUint32(plain[5:9], ivIndex)
	copy(plain[9:], privacyRandom[:PrivacyRandomSize])

	pecb, err := AESECB(privacyKey, plain[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, ObfuscatedHeaderSize)
	subtle.XORBytes(out, header, pecb[:ObfuscatedHeaderSize])
	return out, nil
}
