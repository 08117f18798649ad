package utils

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// DefaultTrustedProxies covers loopback and the private ranges.
const DefaultTrustedProxies = "127.0.0.1,::1,10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"

// IsTrustedProxyIP reports whether ipStr matches an entry of trustedProxies,
// a comma-separated list of IPs and CIDR ranges.
func IsTrustedProxyIP(ipStr string, trustedProxies string) bool {
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, entry := range strings.Split(trustedProxies, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		if proxy, err := netip.ParseAddr(entry); err == nil && proxy.Unmap() == addr {
			return true
		}
	}
	return false
}

// ExtractIP strips the port from a "host:port" address.
// Bare IPv4 and IPv6 addresses are returned unchanged.
func ExtractIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}

// GetClientIPWithTrust returns the client address for r.
// mode is "true" (always trust X-Forwarded-For / X-Real-IP), "false" (never),
// or "auto" (trust only when the peer is in trustedProxyIPs).
func GetClientIPWithTrust(r *http.Request, mode string, trustedProxyIPs string) string {
	remoteIP := ExtractIP(r.RemoteAddr)

	var trust bool
	switch mode {
	case "true":
		trust = true
	case "false":
		trust = false
	default:
		trust = IsTrustedProxyIP(remoteIP, trustedProxyIPs)
	}
	if !trust {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return remoteIP
}
