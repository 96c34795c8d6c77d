package inventory

import "net"

// networkAddress returns the network address for ip/netmask, or "" if either
// fails to parse. Interfaces store it derived, never persisted redundantly
// from an untrusted source.
func networkAddress(ip, netmask string) string {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return ""
	}

	maskIP := net.ParseIP(netmask)

	var mask net.IPMask
	if maskIP != nil {
		if v4 := maskIP.To4(); v4 != nil {
			mask = net.IPMask(v4)
		} else {
			mask = net.IPMask(maskIP)
		}
	} else {
		mask = net.CIDRMask(32, 32)
	}

	return parsedIP.Mask(mask).String()
}
