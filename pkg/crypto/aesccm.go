// AES-CCM for Bluetooth mesh message security.
// This implements AES-128-CCM as defined in NIST 800-38C and RFC 3610 with the
// parameter set used by the mesh profile (Section 3.8.2 of the Mesh Profile):
//   - Key length: 128 bits (16 bytes)
//   - Nonce length: 13 bytes (q = 2)
//   - MIC length: 32 or 64 bits for network/transport PDUs, 64 bits for private beacons

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// AES-CCM constants.
const (
	// AESCCMKeySize is the AES-128 key size in bytes.
	AESCCMKeySize = 16

	// AESCCMNonceSize is the nonce size used by every mesh nonce.
	AESCCMNonceSize = 13

	// MICSize32 is the 32-bit MIC used for access NetMIC and unsegmented TransMIC.
	MICSize32 = 4

	// MICSize64 is the 64-bit MIC used for control NetMIC, SZMIC=1 TransMIC and beacon tags.
	MICSize64 = 8

	aesBlockSize = 16
)

// Errors
var (
	ErrAESCCMInvalidKeySize     = errors.New("aesccm: invalid key size, must be 16 bytes")
	ErrAESCCMInvalidNonceSize   = errors.New("aesccm: invalid nonce size")
	ErrAESCCMInvalidTagSize     = errors.New("aesccm: invalid tag size, must be 4, 6, 8, 10, 12, 14, or 16")
	ErrAESCCMPlaintextTooLong   = errors.New("aesccm: plaintext too long")
	ErrAESCCMCiphertextTooShort = errors.New("aesccm: ciphertext too short")
	ErrAESCCMAuthFailed         = errors.New("aesccm: message authentication failed")
)

// AESCCM is an AES-128-CCM cipher bound to one key and one MIC size.
type AESCCM struct {
	block   cipher.Block
	tagSize int // M
	lenSize int // L = 15 - nonce size
}

// NewAESCCM creates a mesh AES-CCM cipher with a 13-byte nonce and the given MIC size.
func NewAESCCM(key []byte, micSize int) (*AESCCM, error) {
	return NewAESCCMWithParams(key, AESCCMNonceSize, micSize)
}

// NewAESCCMWithParams creates an AES-128-CCM cipher with explicit parameters.
// This allows testing with RFC 3610 vectors which use other nonce sizes.
func NewAESCCMWithParams(key []byte, nonceSize, tagSize int) (*AESCCM, error) {
	if len(key) != AESCCMKeySize {
		return nil, ErrAESCCMInvalidKeySize
	}

	lenSize := 15 - nonceSize
	if lenSize < 2 || lenSize > 8 {
		return nil, ErrAESCCMInvalidNonceSize
	}
	if tagSize < 4 || tagSize > 16 || tagSize%2 != 0 {
		return nil, ErrAESCCMInvalidTagSize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return &AESCCM{block: block, tagSize: tagSize, lenSize: lenSize}, nil
}

// NonceSize returns the required nonce size for this cipher.
func (c *AESCCM) NonceSize() int {
	return 15 - c.lenSize
}

// TagSize returns the MIC size for this cipher.
func (c *AESCCM) TagSize() int {
	return c.tagSize
}

// Seal encrypts and authenticates plaintext. aad may be nil; the mesh only
// uses it for virtual address label UUIDs.
//
// Returns ciphertext || MIC.
func (c *AESCCM) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, ErrAESCCMInvalidNonceSize
	}
	if len(plaintext) > (1<<(8*c.lenSize))-1 {
		return nil, ErrAESCCMPlaintextTooLong
	}

	out := make([]byte, len(plaintext)+c.tagSize)
	tag := c.cbcMAC(nonce, plaintext, aad)
	s0 := c.counterBlock(nonce, 0)
	subtle.XORBytes(out[len(plaintext):], tag[:c.tagSize], s0[:c.tagSize])
	c.ctr(nonce, out[:len(plaintext)], plaintext)
	return out, nil
}

// Open verifies and decrypts ciphertext || MIC.
func (c *AESCCM) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, ErrAESCCMInvalidNonceSize
	}
	if len(ciphertext) < c.tagSize {
		return nil, ErrAESCCMCiphertextTooShort
	}

	body := ciphertext[:len(ciphertext)-c.tagSize]
	mic := ciphertext[len(ciphertext)-c.tagSize:]

	plaintext := make([]byte, len(body))
	c.ctr(nonce, plaintext, body)

	s0 := c.counterBlock(nonce, 0)
	want := c.cbcMAC(nonce, plaintext, aad)
	subtle.XORBytes(want[:c.tagSize], want[:c.tagSize], s0[:c.tagSize])

	if subtle.ConstantTimeCompare(mic, want[:c.tagSize]) != 1 {
		return nil, ErrAESCCMAuthFailed
	}
	return plaintext, nil
}

// cbcMAC computes T over B_0 || encoded AAD || plaintext (NIST 800-38C 6.1).
func (c *AESCCM) cbcMAC(nonce, plaintext, aad []byte) [aesBlockSize]byte {
	var mac [aesBlockSize]byte

	// B_0 flags: Adata | M' | L'
	mac[0] = byte((c.tagSize-2)/2)<<3 | byte(c.lenSize-1)
	if len(aad) > 0 {
		mac[0] |= 1 << 6
	}
	copy(mac[1:], nonce)
	n := len(plaintext)
	for i := aesBlockSize - 1; i > c.NonceSize(); i-- {
		mac[i] = byte(n)
		n >>= 8
	}
	c.block.Encrypt(mac[:], mac[:])

	if len(aad) > 0 {
		// Mesh AAD is at most a 16-byte label UUID, so the two-byte length form always applies.
		prefixed := make([]byte, 2+len(aad))
		binary.BigEndian.PutUint16(prefixed, uint16(len(aad)))
		copy(prefixed[2:], aad)
		c.macBlocks(&mac, prefixed)
	}
	c.macBlocks(&mac, plaintext)
	return mac
}

// macBlocks chains zero-padded 16-byte blocks of data into mac.
func (c *AESCCM) macBlocks(mac *[aesBlockSize]byte, data []byte) {
	for len(data) > 0 {
		var blk [aesBlockSize]byte
		n := copy(blk[:], data)
		data = data[n:]
		subtle.XORBytes(mac[:], mac[:], blk[:])
		c.block.Encrypt(mac[:], mac[:])
	}
}

// counterBlock returns E(K, A_i).
func (c *AESCCM) counterBlock(nonce []byte, i uint64) [aesBlockSize]byte {
	var a [aesBlockSize]byte
	a[0] = byte(c.lenSize - 1)
	copy(a[1:], nonce)
	for j := aesBlockSize - 1; j > c.NonceSize(); j-- {
		a[j] = byte(i)
		i >>= 8
	}
	c.block.Encrypt(a[:], a[:])
	return a
}

// ctr encrypts src into dst with counters starting at 1.
func (c *AESCCM) ctr(nonce []byte, dst, src []byte) {
	for i := 0; i*aesBlockSize < len(src); i++ {
		ks := c.counterBlock(nonce, uint64(i+1))
		start := i * aesBlockSize
		end := min(start+aesBlockSize, len(src))
		subtle.XORBytes(dst[start:end], src[start:end], ks[:end-start])
	}
}

// AESCCMEncrypt is a convenience wrapper around NewAESCCM + Seal.
func AESCCMEncrypt(key, nonce, plaintext []byte, micSize int) ([]byte, error) {
	ccm, err := NewAESCCM(key, micSize)
	if err != nil {
		return nil, err
	}
	return ccm.Seal(nonce, plaintext, nil)
}

// AESCCMDecrypt is a convenience wrapper around NewAESCCM + Open.
func AESCCMDecrypt(key, nonce, ciphertext []byte, micSize int) ([]byte, error) {
	ccm, err := NewAESCCM(key, micSize)
	if err != nil {
		return nil, err
	}
	return ccm.Open(nonce, ciphertext, nil)
}
