// Package beacon implements the secure network beacon and the mesh private
// beacon (Mesh Protocol Sections 3.10.3 and 3.10.4).
package beacon

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"

	"github.com/backkem/blemesh/pkg/crypto"
)

// Type is the beacon type octet.
type Type uint8

const (
	TypeUnprovisioned Type = 0x00
	TypeSecureNetwork Type = 0x01
	TypePrivate       Type = 0x02
)

// Flags carries the Key Refresh and IV Update bits.
type Flags uint8

const (
	FlagKeyRefresh Flags = 0x01
	FlagIVUpdate   Flags = 0x02
)

// KeyRefresh reports whether the Key Refresh flag is set.
func (f Flags) KeyRefresh() bool { return f&FlagKeyRefresh != 0 }

// IVUpdate reports whether the IV Update flag is set.
func (f Flags) IVUpdate() bool { return f&FlagIVUpdate != 0 }

// Beacon sizes.
const (
	SecureNetworkBeaconSize = 22
	PrivateBeaconSize       = 27
	RandomSize              = 13

	authSize        = 8
	privateDataSize = 5
)

var (
	ErrInvalidLength = errors.New("beacon: invalid length")
	ErrInvalidType   = errors.New("beacon: unexpected beacon type")
	ErrAuthFailed    = errors.New("beacon: authentication failed")
)

// SecureNetworkBeacon announces the IV index and key refresh state of a subnet.
type SecureNetworkBeacon struct {
	Flags     Flags
	NetworkID []byte
	IVIndex   uint32
}

// Encode serializes and authenticates the beacon with beaconKey.
func (b *SecureNetworkBeacon) Encode(beaconKey []byte) ([]byte, error) {
	if len(b.NetworkID) != crypto.NetworkIDSize {
		return nil, ErrInvalidLength
	}
	out := make([]byte, SecureNetworkBeaconSize)
	out[0] = byte(TypeSecureNetwork)
	out[1] = byte(b.Flags)
	copy(out[2:10], b.NetworkID)
	binary.BigEndian.PutUint32(out[10:14], b.IVIndex)

	mac, err := crypto.AESCMAC(beaconKey, out[1:14])
	if err != nil {
		return nil, err
	}
	copy(out[14:], mac[:authSize])
	return out, nil
}

// DecodeSecureNetworkBeacon verifies and parses a secure network beacon.
func DecodeSecureNetworkBeacon(data, beaconKey []byte) (*SecureNetworkBeacon, error) {
	if len(data) != SecureNetworkBeaconSize {
		return nil, ErrInvalidLength
	}
	if Type(data[0]) != TypeSecureNetwork {
		return nil, ErrInvalidType
	}
	mac, err := crypto.AESCMAC(beaconKey, data[1:14])
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(mac[:authSize], data[14:]) != 1 {
		return nil, ErrAuthFailed
	}
	return &SecureNetworkBeacon{
		Flags:     Flags(data[1]),
		NetworkID: append([]byte(nil), data[2:10]...),
		IVIndex:   binary.BigEndian.Uint32(data[10:14]),
	}, nil
}

// PrivateBeacon is the privacy-preserving form of the network beacon.
// The flags and IV index are encrypted with AES-CCM using the random as nonce.
type PrivateBeacon struct {
	Flags   Flags
	IVIndex uint32
	Random  [RandomSize]byte
}

// Encode obfuscates and authenticates the beacon with privateBeaconKey.
// A zero Random is replaced with fresh random bytes.
func (b *PrivateBeacon) Encode(privateBeaconKey []byte) ([]byte, error) {
	if b.Random == [RandomSize]byte{} {
		if _, err := rand.Read(b.Random[:]); err != nil {
			return nil, err
		}
	}

	var data [privateDataSize]byte
	data[0] = byte(b.Flags)
	binary.BigEndian.PutUint32(data[1:], b.IVIndex)

	sealed, err := crypto.AESCCMEncrypt(privateBeaconKey, b.Random[:], data[:], crypto.MICSize64)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, PrivateBeaconSize)
	out = append(out, byte(TypePrivate))
	out = append(out, b.Random[:]...)
	out = append(out, sealed...)
	return out, nil
}

// DecodePrivateBeacon authenticates and deobfuscates a private beacon.
func DecodePrivateBeacon(data, privateBeaconKey []byte) (*PrivateBeacon, error) {
	if len(data) != PrivateBeaconSize {
		return nil, ErrInvalidLength
	}
	if Type(data[0]) != TypePrivate {
		return nil, ErrInvalidType
	}

	b := &PrivateBeacon{}
	copy(b.Random[:], data[1:1+RandomSize])

	plain, err := crypto.AESCCMDecrypt(privateBeaconKey, b.Random[:], data[1+RandomSize:], crypto.MICSize64)
	if err != nil {
		if errors.Is(err, crypto.ErrAESCCMAuthFailed) {
			return nil, ErrAuthFailed
		}
		return nil, err
	}
	b.Flags = Flags(plain[0])
	b.IVIndex = binary.BigEndian.Uint32(plain[1:])
	return b, nil
}
