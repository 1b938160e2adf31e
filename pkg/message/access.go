package message

import "fmt"

// Opcode is an access layer opcode in its natural big-endian wire value:
// 0x00-0x7E (1 byte), 0x8000-0xBFFF (2 bytes) or 0xC00000-0xFFFFFF (3 bytes,
// vendor opcode followed by a 16-bit company identifier).
type Opcode uint32

// OpcodeReserved is the reserved one-byte opcode.
const OpcodeReserved Opcode = 0x7F

// Size returns the encoded opcode length, or 0 for an invalid opcode.
func (o Opcode) Size() int {
	switch {
	case o < OpcodeReserved:
		return 1
	case o >= 0x8000 && o <= 0xBFFF:
		return 2
	case o >= 0xC00000 && o <= 0xFFFFFF:
		return 3
	default:
		return 0
	}
}

// IsValid reports whether o has one of the three encodable forms.
func (o Opcode) IsValid() bool {
	return o.Size() != 0
}

func (o Opcode) String() string {
	switch o.Size() {
	case 1:
		return fmt.Sprintf("0x%02X", uint32(o))
	case 2:
		return fmt.Sprintf("0x%04X", uint32(o))
	default:
		return fmt.Sprintf("0x%06X", uint32(o))
	}
}

// AccessPDU is an opcode with its raw parameters.
type AccessPDU struct {
	Opcode Opcode
	Params []byte
}

// Encode serializes Opcode || Params.
func (p *AccessPDU) Encode() ([]byte, error) {
	n := p.Opcode.Size()
	if n == 0 {
		return nil, ErrInvalidOpcode
	}
	out := make([]byte, n+len(p.Params))
	v := uint32(p.Opcode)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	copy(out[n:], p.Params)
	return out, nil
}

// EncodeAccessPDU is a convenience wrapper around AccessPDU.Encode.
func EncodeAccessPDU(opcode Opcode, params []byte) ([]byte, error) {
	return (&AccessPDU{Opcode: opcode, Params: params}).Encode()
}

// DecodeAccessPDU splits data into opcode and parameters.
func DecodeAccessPDU(data []byte) (*AccessPDU, error) {
	if len(data) == 0 {
		return nil, ErrPDUTooShort
	}

	var n int
	switch {
	case data[0] == byte(OpcodeReserved):
		return nil, ErrInvalidOpcode
	case data[0]&0x80 == 0:
		n = 1
	case data[0]&0xC0 == 0x80:
		n = 2
	default:
		n = 3
	}
	if len(data) < n {
		return nil, ErrPDUTooShort
	}

	var op uint32
	for _, b := range data[:n] {
		op = op<<8 | uint32(b)
	}
	return &AccessPDU{
		Opcode: Opcode(op),
		Params: append([]byte(nil), data[n:]...),
	}, nil
}
