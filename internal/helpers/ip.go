// Package helpers provides common helper functions used across the dpop-oauth
// client library.
package helpers

import "net"

// IPClassification represents the security classification of an IP address.
// This is used for SSRF protection when validating authorization-server and
// protected-resource URLs before the client dials them.
type IPClassification int

const (
	// IPClassificationPublic indicates a publicly routable IP address.
	IPClassificationPublic IPClassification = iota
	// IPClassificationLoopback indicates a loopback address (127.0.0.0/8, ::1).
	IPClassificationLoopback
	// IPClassificationPrivate indicates a private/internal address (RFC 1918, ULA).
	IPClassificationPrivate
	// IPClassificationLinkLocal indicates a link-local address (169.254.x.x, fe80::/10).
	IPClassificationLinkLocal
	// IPClassificationUnspecified indicates an unspecified or "this network"
	// address (0.0.0.0/8, ::).
	IPClassificationUnspecified
)

// String returns a human-readable name for the IP classification.
func (c IPClassification) String() string {
	switch c {
	case IPClassificationPublic:
		return "public"
	case IPClassificationLoopback:
		return "loopback"
	case IPClassificationPrivate:
		return "private"
	case IPClassificationLinkLocal:
		return "link_local"
	case IPClassificationUnspecified:
		return "unspecified"
	default:
		return "unknown"
	}
}

// ClassifyIP returns the security classification of an IP address.
// This is the single source of truth for IP classification used by the
// outbound URL validator.
//
// Classifications:
//   - Unspecified: 0.0.0.0/8, :: (always dangerous, undefined behavior)
//   - Loopback: 127.0.0.0/8, ::1
//   - LinkLocal: 169.254.0.0/16, fe80::/10 (cloud metadata SSRF risk)
//   - Private: RFC 1918 (10/8, 172.16/12, 192.168/16), fc00::/7
//   - Public: all other addresses
func ClassifyIP(ip net.IP) IPClassification {
	if ip == nil {
		return IPClassificationUnspecified
	}

	if ip.IsUnspecified() {
		return IPClassificationUnspecified
	}

	// The whole of 0.0.0.0/8 ("this network", RFC 6890) is undialable, not
	// just the zero address IsUnspecified matches.
	if ip4 := ip.To4(); ip4 != nil && ip4[0] == 0 {
		return IPClassificationUnspecified
	}

	if ip.IsLoopback() {
		return IPClassificationLoopback
	}

	// Catches the cloud metadata address 169.254.169.254 among others.
	if IsLinkLocal(ip) {
		return IPClassificationLinkLocal
	}

	// Covers RFC 1918 (IPv4) and fc00::/7 (IPv6 ULA, i.e. fd00::/8).
	if ip.IsPrivate() {
		return IPClassificationPrivate
	}

	return IPClassificationPublic
}

// IsLinkLocal checks if an IP address is link-local (unicast or multicast).
// This includes:
//   - IPv4 link-local: 169.254.0.0/16
//   - IPv6 link-local unicast: fe80::/10
//   - IPv6 link-local multicast: ff02::/16
func IsLinkLocal(ip net.IP) bool {
	return ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// IsPrivateOrInternal checks if an IP is private, loopback, link-local, or
// unspecified. This is the SSRF gate's admission test: any non-public address
// makes the target URL inadmissible.
func IsPrivateOrInternal(ip net.IP) bool {
	return ClassifyIP(ip) != IPClassificationPublic
}
