package message

import (
	"github.com/backkem/blemesh/pkg/crypto"
)

// UpperContext carries the nonce inputs of an upper transport access PDU.
// For segmented messages Seq is the sequence number of the first segment.
type UpperContext struct {
	SZMIC   bool
	Seq     uint32
	Src     Address
	Dst     Address
	IVIndex uint32
}

func (c UpperContext) micSize() int {
	if c.SZMIC {
		return TransMICSizeLarge
	}
	return TransMICSizeSmall
}

func (c UpperContext) nonce(akf bool) []byte {
	if akf {
		return crypto.ApplicationNonce(c.SZMIC, c.Seq, uint16(c.Src), uint16(c.Dst), c.IVIndex)
	}
	return crypto.DeviceNonce(c.SZMIC, c.Seq, uint16(c.Src), uint16(c.Dst), c.IVIndex)
}

// AppKey is an application key with its derived AID.
type AppKey struct {
	Index uint16
	Key   []byte
	AID   uint8
}

// NewAppKey derives the AID of key.
func NewAppKey(index uint16, key []byte) (*AppKey, error) {
	if len(key) != crypto.KeySize {
		return nil, ErrInvalidKey
	}
	aid, err := crypto.K4(key)
	if err != nil {
		return nil, err
	}
	return &AppKey{Index: index, Key: append([]byte(nil), key...), AID: aid}, nil
}

// EncryptUpper protects an access PDU with an application key (akf=true) or
// a device key (akf=false). The result is EncAccessPayload || TransMIC.
func EncryptUpper(access, key []byte, akf bool, ctx UpperContext) ([]byte, error) {
	if len(access) == 0 {
		return nil, ErrEmptyPayload
	}
	out, err := crypto.AESCCMEncrypt(key, ctx.nonce(akf), access, ctx.micSize())
	if err != nil {
		return nil, ErrInvalidKey
	}
	return out, nil
}

// DecryptUpper reverses EncryptUpper.
func DecryptUpper(upper, key []byte, akf bool, ctx UpperContext) ([]byte, error) {
	if len(upper) <= ctx.micSize() {
		return nil, ErrPDUTooShort
	}
	out, err := crypto.AESCCMDecrypt(key, ctx.nonce(akf), upper, ctx.micSize())
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return out, nil
}

// DecryptWithAppKeys tries every key whose AID equals aid and returns the
// plaintext with the key that opened it.
func DecryptWithAppKeys(upper []byte, aid uint8, keys []*AppKey, ctx UpperContext) ([]byte, *AppKey, error) {
	for _, k := range keys {
		if k.AID != aid {
			continue
		}
		if plain, err := DecryptUpper(upper, k.Key, true, ctx); err == nil {
			return plain, k, nil
		}
	}
	return nil, nil, ErrDecryptionFailed
}
