// Mesh key derivation functions (Mesh Profile Section 3.8.2).

package crypto

import "errors"

// Key sizes.
const (
	// KeySize is the size of every mesh NetKey, AppKey and DevKey.
	KeySize = 16

	// NetworkIDSize is the size of the k3 network identifier.
	NetworkIDSize = 8
)

var (
	ErrInvalidKeySize   = errors.New("crypto: invalid key size, must be 16 bytes")
	ErrInvalidBlockSize = errors.New("crypto: invalid block size, must be 16 bytes")
)

var (
	zeroKey   [KeySize]byte
	id128     = []byte("id128\x01")
	id64      = []byte("id64\x01")
	id6       = []byte("id6\x01")
	labelSMK2 = []byte("smk2")
	labelSMK3 = []byte("smk3")
	labelSMK4 = []byte("smk4")
	labelNKBK = []byte("nkbk")
	labelNKPK = []byte("nkpk")
)

// S1 is the salt generation function: AES-CMAC with an all-zero key.
func S1(m []byte) ([]byte, error) {
	return AESCMAC(zeroKey[:], m)
}

// K1 derives a 128-bit key: AES-CMAC(AES-CMAC(salt, n), p).
func K1(n, salt, p []byte) ([]byte, error) {
	t, err := AESCMAC(salt, n)
	if err != nil {
		return nil, err
	}
	return AESCMAC(t, p)
}

// K2 derives the network credentials (NID, EncryptionKey, PrivacyKey) from a NetKey.
// p is 0x00 for the master credentials.
func K2(n, p []byte) (nid byte, encryptionKey, privacyKey []byte, err error) {
	salt, err := S1(labelSMK2)
	if err != nil {
		return 0, nil, nil, err
	}
	t, err := AESCMAC(salt, n)
	if err != nil {
		return 0, nil, nil, err
	}
	c, err := NewCMAC(t)
	if err != nil {
		return 0, nil, nil, err
	}

	t1 := c.Sum(p, []byte{0x01})
	t2 := c.Sum(t1[:], p, []byte{0x02})
	t3 := c.Sum(t2[:], p, []byte{0x03})
	return t1[15] & 0x7F, t2[:], t3[:], nil
}

// K3 derives the 64-bit network ID from a NetKey.
func K3(n []byte) ([]byte, error) {
	salt, err := S1(labelSMK3)
	if err != nil {
		return nil, err
	}
	t, err := K1(n, salt, id64)
	if err != nil {
		return nil, err
	}
	return t[KeySize-NetworkIDSize:], nil
}

// K4 derives the 6-bit AID of an AppKey.
func K4(n []byte) (byte, error) {
	salt, err := S1(labelSMK4)
	if err != nil {
		return 0, err
	}
	t, err := K1(n, salt, id6)
	if err != nil {
		return 0, err
	}
	return t[KeySize-1] & 0x3F, nil
}

// NetworkKeys holds every value derived from one NetKey.
type NetworkKeys struct {
	NetKey           []byte
	NID              byte
	EncryptionKey    []byte
	PrivacyKey       []byte
	NetworkID        []byte
	BeaconKey        []byte
	PrivateBeaconKey []byte
}

// DeriveNetworkKeys runs k2, k3 and the beacon key derivations for netKey.
func DeriveNetworkKeys(netKey []byte) (*NetworkKeys, error) {
	if len(netKey) != KeySize {
		return nil, ErrInvalidKeySize
	}

	nid, enc, priv, err := K2(netKey, []byte{0x00})
	if err != nil {
		return nil, err
	}
	netID, err := K3(netKey)
	if err != nil {
		return nil, err
	}
	beaconKey, err := deriveBeaconKey(netKey, labelNKBK)
	if err != nil {
		return nil, err
	}
	privateBeaconKey, err := deriveBeaconKey(netKey, labelNKPK)
	if err != nil {
		return nil, err
	}

	return &NetworkKeys{
		NetKey:           append([]byte(nil), netKey...),
		NID:              nid,
		EncryptionKey:    enc,
		PrivacyKey:       priv,
		NetworkID:        netID,
		BeaconKey:        beaconKey,
		PrivateBeaconKey: privateBeaconKey,
	}, nil
}

func deriveBeaconKey(netKey, label []byte) ([]byte, error) {
	salt, err := S1(label)
	if err != nil {
		return nil, err
	}
	return K1(netKey, salt, id128)
}
