package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// PBKDF2-HMAC-SHA256 vectors from draft-josefsson-scrypt-kdf-00.
var pbkdf2SHA256TestVectors = []struct {
	name       string
	password   string
	salt       string
	iterations int
	keyLen     int
	expected   string
}{
	{
		name:       "scrypt_kdf_00_TC1",
		password:   "passwd",
		salt:       "salt",
		iterations: 1,
		keyLen:     64,
		expected:   "55ac046e56e3089fec1691c22544b605f94185216dde0465e68b9d57c20dacbc49ca9cccf179b645991664b39d77ef317c71b845b1e30bd509112041d3a19783",
	},
	{
		name:       "scrypt_kdf_00_TC2",
		password:   "Password",
		salt:       "NaCl",
		iterations: 80000,
		keyLen:     64,
		expected:   "4ddcd8f60b98be21830cee5ef22701f9641a4418d04c0414aeff08876b34ab56a1d425a1225833549adb841b51c9b3176a272bdebba1d078478f62b397f33c8d",
	},
}

func TestPBKDF2SHA256(t *testing.T) {
	for _, tc := range pbkdf2SHA256TestVectors {
		t.Run(tc.name, func(t *testing.T) {
			expected, err := hex.DecodeString(tc.expected)
			if err != nil {
				t.Fatalf("failed to decode expected: %v", err)
			}

			result := PBKDF2SHA256([]byte(tc.password), []byte(tc.salt), tc.iterations, tc.keyLen)
			if !bytes.Equal(result, expected) {
				t.Errorf("derived key mismatch\ngot:  %x\nwant: %x", result, expected)
			}
		})
	}
}

func TestPassphraseKey(t *testing.T) {
	net1, err := PassphraseKey("correct horse", "netkey")
	if err != nil {
		t.Fatalf("PassphraseKey failed: %v", err)
	}
	if len(net1) != AESCCMKeySize {
		t.Fatalf("key length = %d, want %d", len(net1), AESCCMKeySize)
	}

	net2, _ := PassphraseKey("correct horse", "netkey")
	if !bytes.Equal(net1, net2) {
		t.Error("PassphraseKey is not deterministic")
	}

	app, _ := PassphraseKey("correct horse", "appkey")
	if bytes.Equal(net1, app) {
		t.Error("different labels produced the same key")
	}
}

func BenchmarkPBKDF2SHA256_1000iter(b *testing.B) {
	password := []byte("password")
	salt := []byte("saltsaltsaltsalt")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		PBKDF2SHA256(password, salt, 1000, 32)
	}
}
