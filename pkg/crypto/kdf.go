package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// PassphraseIterations is the PBKDF2 iteration count used for passphrase keys.
const PassphraseIterations = 4096

// PBKDF2SHA256 derives a key from a password using PBKDF2-HMAC-SHA256 (NIST 800-132).
func PBKDF2SHA256(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}

// PassphraseKey derives a 16-byte mesh key from a human passphrase.
// The label is hashed with s1 to form the salt, so the same passphrase yields
// unrelated keys for different labels (for example "netkey" and "appkey").
//
// This is a convenience for simulations and tooling; provisioned keys should
// be random.
func PassphraseKey(passphrase, label string) ([]byte, error) {
	salt, err := S1([]byte(label))
	if err != nil {
		return nil, err
	}
	return PBKDF2SHA256([]byte(passphrase), salt, PassphraseIterations, AESCCMKeySize), nil
}
