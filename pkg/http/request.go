package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ExtractClientIP returns the caller's address. Forwarding headers are only honoured when
// the direct peer is inside a trusted proxy range. X-Forwarded-For is read from the right,
// skipping trusted hops, because proxies append the peer they saw and everything to the left
// of that is client supplied.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if config == nil || !isTrustedProxy(remoteIP, config.TrustedProxies) {
		return remoteIP
	}

	if hops := r.Header.Values("X-Forwarded-For"); len(hops) > 0 {
		if ip, ok := forwardedClient(strings.Split(strings.Join(hops, ","), ","), config.TrustedProxies); ok {
			return ip
		}
	}

	if normalized, ok := NormalizeIP(r.Header.Get("X-Real-IP")); ok {
		return normalized
	}

	return remoteIP
}

// forwardedClient walks hops right to left and returns the first address outside the
// trusted ranges. A malformed hop ends the walk since nothing left of it can be trusted.
// When every hop is trusted the leftmost one is the client.
func forwardedClient(hops []string, trustedProxies []string) (string, bool) {
	client := ""
	for i := len(hops) - 1; i >= 0; i-- {
		ip, ok := NormalizeIP(hops[i])
		if !ok {
			break
		}
		if !isTrustedProxy(ip, trustedProxies) {
			return ip, true
		}
		client = ip
	}
	return client, client != ""
}

// NormalizeIP parses an address and returns its canonical text form. IPv4-mapped IPv6
// addresses collapse to plain IPv4 so the same host never appears under two keys.
func NormalizeIP(raw string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return addr.Unmap().WithZone("").String(), true
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}

	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}

	if normalized, ok := NormalizeIP(host); ok {
		return normalized
	}
	return host
}

// isTrustedProxy checks if an IP address is within any of the trusted proxy CIDR ranges
func isTrustedProxy(ip string, trustedProxies []string) bool {
	if len(trustedProxies) == 0 {
		return false
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}

	for _, cidr := range trustedProxies {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue // Skip invalid CIDR ranges
		}
		if prefix.Contains(addr) {
			return true
		}
	}

	return false
}
