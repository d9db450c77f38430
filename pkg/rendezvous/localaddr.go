package rendezvous

import (
	"fmt"
	"net"
)

// PrimaryLocalIPv4 enumerates interfaces and returns the first non-loopback
// IPv4 address, used as the "local" half of a candidate set (§4.1 step 1).
func PrimaryLocalIPv4() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("rendezvous: enumerate interfaces: %w", err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("rendezvous: no non-loopback IPv4 address found")
}
