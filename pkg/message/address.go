package message

import "fmt"

// Address is a 16-bit mesh address.
type Address uint16

// Well-known addresses.
const (
	AddressUnassigned Address = 0x0000
	AddressAllProxies Address = 0xFFFC
	AddressAllFriends Address = 0xFFFD
	AddressAllRelays  Address = 0xFFFE
	AddressAllNodes   Address = 0xFFFF
)

// IsUnassigned reports whether a is the unassigned address.
func (a Address) IsUnassigned() bool {
	return a == AddressUnassigned
}

// IsUnicast reports whether a is a unicast element address (0x0001-0x7FFF).
func (a Address) IsUnicast() bool {
	return a != AddressUnassigned && a&0x8000 == 0
}

// IsVirtual reports whether a is a virtual address (0x8000-0xBFFF).
func (a Address) IsVirtual() bool {
	return a&0xC000 == 0x8000
}

// IsGroup reports whether a is a group address (0xC000-0xFFFF), fixed groups included.
func (a Address) IsGroup() bool {
	return a&0xC000 == 0xC000
}

// IsValidDestination reports whether a may be used as a DST field.
func (a Address) IsValidDestination() bool {
	return !a.IsUnassigned()
}

func (a Address) String() string {
	return fmt.Sprintf("0x%04X", uint16(a))
}
