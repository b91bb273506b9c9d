// ABOUTME: Client address anonymization for access logging
// ABOUTME: Masks host bits of IPv4/IPv6 addresses before they reach log sinks

package observability

import (
	"net"
	"net/netip"
)

// Prefix lengths retained when anonymizing client addresses.
const (
	AnonymizeV4Bits = 24
	AnonymizeV6Bits = 48
)

// AnonymizePlaceholder is the replacement text for unparseable addresses.
const AnonymizePlaceholder = "[invalid]"

// AnonymizeAddr zeroes the host bits of an address, keeping a /24 for IPv4
// and a /48 for IPv6. The result identifies a network, not a subscriber.
func AnonymizeAddr(addr netip.Addr) netip.Addr {
	addr = addr.Unmap()

	bits := AnonymizeV6Bits
	if addr.Is4() {
		bits = AnonymizeV4Bits
	}

	prefix, err := addr.Prefix(bits)
	if err != nil {
		return addr
	}
	return prefix.Addr()
}

// AnonymizeString anonymizes a textual address. Unparseable input is
// replaced wholesale so raw client data never leaks through the fallback.
func AnonymizeString(s string) string {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return AnonymizePlaceholder
	}
	return AnonymizeAddr(addr).String()
}

// AnonymizeRemoteAddr anonymizes an http.Request RemoteAddr, which usually
// carries a host:port pair.
func AnonymizeRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return AnonymizeString(host)
}

// ClientIP extracts the bare client address from an http.Request RemoteAddr.
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
