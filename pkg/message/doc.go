// Package message implements the Bluetooth mesh PDU codecs below the access
// model layer, as defined in Mesh Profile Chapter 3.
//
// The package provides:
//   - Network PDU encryption and header obfuscation, including the proxy
//     configuration variant
//   - Lower transport PDUs: unsegmented/segmented access and control,
//     segment acknowledgment and heartbeat
//   - Upper transport encryption with application or device keys
//   - Access PDU opcode framing
package message
