// Package clientip extracts the caller address used for rate limiting and
// audit records.
package clientip

import (
	"net"
	"net/http"
	"net/netip"
	"regexp"
	"strings"
)

const (
	Unknown = "unknown"
	maxLen  = 45
)

// candidate rejects anything that cannot possibly be an address before it
// reaches the parser.
var candidate = regexp.MustCompile(`^[0-9A-Fa-f:.]+$`)

// Resolve picks the first valid address from the first X-Forwarded-For hop,
// then X-Real-IP, then the socket peer. Invalid values fall through to the
// next source; if none is valid the result is Unknown.
func Resolve(forwardedFor, realIP, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip, ok := parse(first); ok {
			return ip
		}
	}
	if ip, ok := parse(realIP); ok {
		return ip
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if ip, ok := parse(host); ok {
		return ip
	}
	return Unknown
}

func FromRequest(r *http.Request) string {
	return Resolve(r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"), r.RemoteAddr)
}

func parse(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) > maxLen || !candidate.MatchString(s) {
		return "", false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || addr.Zone() != "" {
		return "", false
	}
	return addr.Unmap().String(), true
}
