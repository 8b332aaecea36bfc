package link

import (
	"net"
	"strings"
)

// NormalizeIdentity renders a hardware address as uppercase colon notation
// (AA:BB:CC:DD:EE:FF). Unparseable input is uppercased as is.
func NormalizeIdentity(addr string) string {
	hw, err := net.ParseMAC(strings.TrimSpace(addr))
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(addr))
	}
	return strings.ToUpper(hw.String())
}
