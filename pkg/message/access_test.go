package message

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestAccessPDU(t *testing.T) {
	tests := []struct {
		name   string
		opcode Opcode
		params []byte
		wire   string
	}{
		{"one byte", 0x04, []byte{0x01}, "0401"},
		{"two byte", 0x8201, []byte{0x01}, "820101"},
		{"two byte no params", 0x8204, nil, "8204"},
		{"vendor", 0xC15900, []byte{0xAA, 0xBB}, "c15900aabb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeAccessPDU(tt.opcode, tt.params)
			if err != nil {
				t.Fatalf("EncodeAccessPDU failed: %v", err)
			}
			if hex.EncodeToString(data) != tt.wire {
				t.Errorf("EncodeAccessPDU = %x, want %s", data, tt.wire)
			}

			pdu, err := DecodeAccessPDU(data)
			if err != nil {
				t.Fatalf("DecodeAccessPDU failed: %v", err)
			}
			if pdu.Opcode != tt.opcode || !bytes.Equal(pdu.Params, tt.params) {
				t.Errorf("decoded = %+v", pdu)
			}
		})
	}
}

func TestAccessPDUInvalid(t *testing.T) {
	for _, op := range []Opcode{OpcodeReserved, 0x80, 0x7FFF, 0xC000, 0x1000000} {
		if _, err := EncodeAccessPDU(op, nil); err != ErrInvalidOpcode {
			t.Errorf("EncodeAccessPDU(%s): got %v, want ErrInvalidOpcode", op, err)
		}
	}
	if _, err := DecodeAccessPDU([]byte{0x7F}); err != ErrInvalidOpcode {
		t.Errorf("reserved opcode: got %v, want ErrInvalidOpcode", err)
	}
	if _, err := DecodeAccessPDU([]byte{0x82}); err != ErrPDUTooShort {
		t.Errorf("truncated two-byte opcode: got %v, want ErrPDUTooShort", err)
	}
	if _, err := DecodeAccessPDU([]byte{0xC1, 0x59}); err != ErrPDUTooShort {
		t.Errorf("truncated vendor opcode: got %v, want ErrPDUTooShort", err)
	}
}
