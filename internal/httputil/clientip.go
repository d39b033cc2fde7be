// Package httputil has small helpers shared by the HTTP surfaces.
package httputil

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP resolves the originating client address for a request
// that may have crossed reverse proxies. Forwarded headers are caller
// controlled on a public webhook endpoint, so a candidate is only
// trusted when it parses as an IP literal; otherwise the next source
// is tried, ending at the socket address.
func GetClientIP(r *http.Request) string {
	for _, candidate := range forwardedCandidates(r) {
		if ip := parseIPLiteral(candidate); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedCandidates lists header-sourced addresses in precedence
// order: the first hop of X-Forwarded-For, then X-Real-IP.
func forwardedCandidates(r *http.Request) []string {
	candidates := make([]string, 0, 2)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		candidates = append(candidates, strings.TrimSpace(first))
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		candidates = append(candidates, strings.TrimSpace(xri))
	}
	return candidates
}

// parseIPLiteral returns the canonical text form of candidate when it
// is a bare IP or a bracketed IPv6 literal, and "" otherwise.
func parseIPLiteral(candidate string) string {
	if strings.HasPrefix(candidate, "[") && strings.HasSuffix(candidate, "]") {
		candidate = candidate[1 : len(candidate)-1]
	}
	ip := net.ParseIP(candidate)
	if ip == nil {
		return ""
	}
	return ip.String()
}
