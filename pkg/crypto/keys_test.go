package crypto

import (
	"encoding/hex"
	"testing"
)

// Sample data from Mesh Profile Section 8.1.
func TestS1(t *testing.T) {
	got, err := S1([]byte("test"))
	if err != nil {
		t.Fatalf("S1 failed: %v", err)
	}
	if want := "b73cefbd641ef2ea598c2b6efb62f79c"; hex.EncodeToString(got) != want {
		t.Errorf("S1(test) = %x, want %s", got, want)
	}
}

func TestK1(t *testing.T) {
	got, err := K1(
		mustHex(t, "3216d1509884b533248541792b877f98"),
		mustHex(t, "2ba14ffa0df84a2831938d57d276cab4"),
		mustHex(t, "5a09d60797eeb4478aada59db3352a0d"),
	)
	if err != nil {
		t.Fatalf("K1 failed: %v", err)
	}
	if want := "f6ed15a8934afbe7d83e8dcb57fcf5d7"; hex.EncodeToString(got) != want {
		t.Errorf("K1 = %x, want %s", got, want)
	}
}

func TestK2(t *testing.T) {
	nid, enc, priv, err := K2(mustHex(t, "f7a2a44f8e8a8029064f173ddc1e2b00"), []byte{0x00})
	if err != nil {
		t.Fatalf("K2 failed: %v", err)
	}
	if nid != 0x7f {
		t.Errorf("NID = %#x, want 0x7f", nid)
	}
	if want := "9f589181a0f50de73c8070c7a6d27f46"; hex.EncodeToString(enc) != want {
		t.Errorf("EncryptionKey = %x, want %s", enc, want)
	}
	if want := "4c715bd4a64b938f99b453351653124f"; hex.EncodeToString(priv) != want {
		t.Errorf("PrivacyKey = %x, want %s", priv, want)
	}
}

func TestK3(t *testing.T) {
	got, err := K3(mustHex(t, "f7a2a44f8e8a8029064f173ddc1e2b00"))
	if err != nil {
		t.Fatalf("K3 failed: %v", err)
	}
	if want := "ff046958233db014"; hex.EncodeToString(got) != want {
		t.Errorf("K3 = %x, want %s", got, want)
	}
}

func TestK4(t *testing.T) {
	got, err := K4(mustHex(t, "3216d1509884b533248541792b877f98"))
	if err != nil {
		t.Fatalf("K4 failed: %v", err)
	}
	if got != 0x38 {
		t.Errorf("K4 = %#x, want 0x38", got)
	}
}

func TestDeriveNetworkKeys(t *testing.T) {
	keys, err := DeriveNetworkKeys(mustHex(t, "7dd7364cd842ad18c17c2b820c84c3d6"))
	if err != nil {
		t.Fatalf("DeriveNetworkKeys failed: %v", err)
	}
	if keys.NID != 0x68 {
		t.Errorf("NID = %#x, want 0x68", keys.NID)
	}
	if want := "0953fa93e7caac9638f58820220a398e"; hex.EncodeToString(keys.EncryptionKey) != want {
		t.Errorf("EncryptionKey = %x, want %s", keys.EncryptionKey, want)
	}
	if want := "8b84eedec100067d670971dd2aa700cf"; hex.EncodeToString(keys.PrivacyKey) != want {
		t.Errorf("PrivacyKey = %x, want %s", keys.PrivacyKey, want)
	}
	if len(keys.NetworkID) != NetworkIDSize {
		t.Errorf("NetworkID length = %d, want %d", len(keys.NetworkID), NetworkIDSize)
	}
	if len(keys.BeaconKey) != KeySize || len(keys.PrivateBeaconKey) != KeySize {
		t.Error("beacon keys have wrong length")
	}
	if hex.EncodeToString(keys.BeaconKey) == hex.EncodeToString(keys.PrivateBeaconKey) {
		t.Error("BeaconKey and PrivateBeaconKey must differ")
	}

	if _, err := DeriveNetworkKeys(make([]byte, 15)); err != ErrInvalidKeySize {
		t.Errorf("short NetKey: got %v, want ErrInvalidKeySize", err)
	}
}
