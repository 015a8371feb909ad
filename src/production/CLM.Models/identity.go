package clmmodels

import (
	"fmt"
	"net"
	"strings"
)

// DeviceIdentity is the hardware address of the device, read once at
// startup before any networking component initializes. Immutable per boot.
type DeviceIdentity struct {
	mac [6]byte
}

// NewDeviceIdentity builds an identity from a raw 6-byte hardware address
func NewDeviceIdentity(mac [6]byte) DeviceIdentity {
	return DeviceIdentity{mac: mac}
}

// ParseDeviceIdentity parses a colon-delimited hardware address
func ParseDeviceIdentity(s string) (DeviceIdentity, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return DeviceIdentity{}, fmt.Errorf("invalid hardware address %q: %w", s, err)
	}
	if len(hw) != 6 {
		return DeviceIdentity{}, fmt.Errorf("hardware address %q is not 6 bytes", s)
	}
	var mac [6]byte
	copy(mac[:], hw)
	return DeviceIdentity{mac: mac}, nil
}

// DetectDeviceIdentity reads the hardware address of the first physical
// network interface. The override, when non-empty, wins (used on hosts
// where interface enumeration is unreliable).
func DetectDeviceIdentity(override string) (DeviceIdentity, error) {
	if override != "" {
		return ParseDeviceIdentity(override)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return DeviceIdentity{}, fmt.Errorf("failed to enumerate network interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) != 6 {
			continue
		}
		var mac [6]byte
		copy(mac[:], iface.HardwareAddr)
		return DeviceIdentity{mac: mac}, nil
	}
	return DeviceIdentity{}, fmt.Errorf("no usable network interface found")
}

// String returns the colon-delimited form, e.g. "AA:BB:CC:11:22:33"
func (d DeviceIdentity) String() string {
	parts := make([]string, 6)
	for i, b := range d.mac {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// ClientID returns the concatenated-hex form used as the MQTT client
// identifier, e.g. "AABBCC112233"
func (d DeviceIdentity) ClientID() string {
	return fmt.Sprintf("%02X%02X%02X%02X%02X%02X",
		d.mac[0], d.mac[1], d.mac[2], d.mac[3], d.mac[4], d.mac[5])
}
