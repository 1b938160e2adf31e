// AES-CMAC as defined in RFC 4493.
// The mesh profile builds every key derivation function (s1, k1..k4) and the
// secure network beacon authentication value on top of it (Mesh Profile 3.8.2.2).

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
)

// CMACSize is the AES-CMAC output size in bytes.
const CMACSize = 16

// cmacRb is the R_128 constant used for subkey generation.
const cmacRb = 0x87

// CMAC computes AES-CMAC over one or more message parts with a reusable block cipher.
type CMAC struct {
	block  cipher.Block
	k1, k2 [aesBlockSize]byte
}

// NewCMAC creates an AES-CMAC instance for a 16-byte key.
func NewCMAC(key []byte) (*CMAC, error) {
	if len(key) != AESCCMKeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	c := &CMAC{block: block}
	var l [aesBlockSize]byte
	block.Encrypt(l[:], l[:])
	c.k1 = shiftSubkey(l)
	c.k2 = shiftSubkey(c.k1)
	return c, nil
}

// shiftSubkey doubles a block in GF(2^128).
func shiftSubkey(in [aesBlockSize]byte) [aesBlockSize]byte {
	var out [aesBlockSize]byte
	carry := byte(0)
	for i := aesBlockSize - 1; i >= 0; i-- {
		out[i] = in[i]<<1 | carry
		carry = in[i] >> 7
	}
	if in[0]&0x80 != 0 {
		out[aesBlockSize-1] ^= cmacRb
	}
	return out
}

// Sum returns the 16-byte MAC of the concatenation of parts.
func (c *CMAC) Sum(parts ...[]byte) [CMACSize]byte {
	var msg []byte
	for _, p := range parts {
		msg = append(msg, p...)
	}

	n := (len(msg) + aesBlockSize - 1) / aesBlockSize
	complete := n > 0 && len(msg)%aesBlockSize == 0
	if n == 0 {
		n = 1
	}

	var last [aesBlockSize]byte
	tail := msg[(n-1)*aesBlockSize:]
	copy(last[:], tail)
	if complete {
		subtle.XORBytes(last[:], last[:], c.k1[:])
	} else {
		last[len(tail)] = 0x80
		subtle.XORBytes(last[:], last[:], c.k2[:])
	}

	var x [aesBlockSize]byte
	for i := 0; i < n-1; i++ {
		subtle.XORBytes(x[:], x[:], msg[i*aesBlockSize:(i+1)*aesBlockSize])
		c.block.Encrypt(x[:], x[:])
	}
	subtle.XORBytes(x[:], x[:], last[:])
	c.block.Encrypt(x[:], x[:])
	return x
}

// AESCMAC computes AES-CMAC(key, msg).
func AESCMAC(key, msg []byte) ([]byte, error) {
	c, err := NewCMAC(key)
	if err != nil {
		return nil, err
	}
	sum := c.Sum(msg)
	return sum[:], nil
}

// AESECB encrypts a single 16-byte block: the e() function of the mesh profile.
func AESECB(key, plaintext []byte) ([]byte, error) {
	if len(key) != AESCCMKeySize {
		return nil, ErrInvalidKeySize
	}
	if len(plaintext) != aesBlockSize {
		return nil, ErrInvalidBlockSize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, aesBlockSize)
	block.Encrypt(out, plaintext)
	return out, nil
}
