package api

import (
	"net"
	"net/http"
	"strings"
)

// clientIP returns the address the login limiter keys on. Forwarded headers
// are honoured only when the direct peer is a trusted proxy; the
// X-Forwarded-For chain is walked from the right and the first hop that is not
// itself a trusted proxy wins, so entries a client prepends are ignored.
func (s *Server) clientIP(r *http.Request) string {
	peer := parseIP(r.RemoteAddr)
	if peer == nil {
		return r.RemoteAddr
	}
	if !s.trustedProxy(peer) {
		return peer.String()
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := parseIP(hops[i])
			if hop == nil {
				break
			}
			if !s.trustedProxy(hop) {
				return hop.String()
			}
		}
	}
	if realIP := parseIP(r.Header.Get("X-Real-IP")); realIP != nil {
		return realIP.String()
	}
	return peer.String()
}

func (s *Server) trustedProxy(ip net.IP) bool {
	for _, cidr := range s.deps.TrustedProxies {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func parseIP(addr string) net.IP {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return net.ParseIP(addr)
}
