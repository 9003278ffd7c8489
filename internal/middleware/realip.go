package middleware

import (
	"net"
	"net/http"
	"strings"
)

// RealIP resolves the client address for rate limiting and logging.
// X-Forwarded-For is honored only when the direct peer is a trusted proxy;
// the left-most address not in the trusted set wins.
type RealIP struct {
	trusted map[string]bool
}

// NewRealIP builds a resolver from the trusted_proxies list. Entries are
// plain IPs (the internal mesh does not hand the gateway CIDR ranges).
func NewRealIP(trustedProxies []string) *RealIP {
	trusted := make(map[string]bool, len(trustedProxies))
	for _, ip := range trustedProxies {
		if ip = strings.TrimSpace(ip); ip != "" {
			trusted[ip] = true
		}
	}
	return &RealIP{trusted: trusted}
}

// ClientIP returns the effective client IP for the request.
func (ri *RealIP) ClientIP(r *http.Request) string {
	peer := hostOnly(r.RemoteAddr)

	if !ri.trusted[peer] {
		return peer
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer
	}

	// Left-most address that is not itself a trusted proxy.
	for _, part := range strings.Split(xff, ",") {
		ip := strings.TrimSpace(part)
		if ip == "" || ri.trusted[ip] {
			continue
		}
		if net.ParseIP(ip) != nil {
			return ip
		}
	}
	return peer
}

// hostOnly strips the port from a host:port address.
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
