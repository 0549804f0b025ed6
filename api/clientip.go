package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// extractClientIP returns the origin used for lockout and the access log.
func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers are only honoured if the request's RemoteAddr falls within
// one of trustedProxies; otherwise a client could pick its own lockout key.
// With no trusted proxies RemoteAddr is always used.
//
// Priority when proxy headers are trusted:
// 1. First valid entry in X-Forwarded-For
// 2. First valid "for=" value in Forwarded
// 3. X-Real-IP
// 4. RemoteAddr
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)

	if !peerTrusted(remoteIP, trustedProxies) {
		return remoteIP
	}

	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip, ok := parseIPCandidate(part); ok {
				return ip
			}
		}
	}

	if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
		for _, elem := range strings.Split(fwd, ",") {
			for _, param := range strings.Split(elem, ";") {
				param = strings.TrimSpace(param)
				if !strings.HasPrefix(strings.ToLower(param), "for=") {
					continue
				}
				if ip, ok := parseIPCandidate(param[4:]); ok {
					return ip
				}
			}
		}
	}

	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		if ip, ok := parseIPCandidate(xrip); ok {
			return ip
		}
	}

	return remoteIP
}

func peerTrusted(remoteIP string, trustedProxies []netip.Prefix) bool {
	if len(trustedProxies) == 0 || remoteIP == "" {
		return false
	}
	addr, err := netip.ParseAddr(remoteIP)
	if err != nil {
		return false
	}
	for _, prefix := range trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"")
	if s == "" {
		return "", false
	}

	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}

	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
