package security

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ForwardedFor returns the first X-Forwarded-For entry, trimmed.
func ForwardedFor(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return ""
	}
	first, _, _ := strings.Cut(xff, ",")
	return strings.TrimSpace(first)
}

// RemoteIP returns the host part of the connection's remote address.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// CallerIP is the address matched against trust and block lists: the first
// forwarded-for entry when present, otherwise the remote address.
func CallerIP(r *http.Request) string {
	if ip := ForwardedFor(r); ip != "" {
		return ip
	}
	return RemoteIP(r)
}

// ClientKey is the rate limiting bucket for a request: the remote address,
// falling back to the first forwarded-for entry when the address is
// unavailable.
func ClientKey(r *http.Request) string {
	if ip := RemoteIP(r); ip != "" {
		return ip
	}
	return ForwardedFor(r)
}

// RequestOrigin returns the Origin header or, failing that, the
// scheme://host of the Referer. Empty when neither is usable.
func RequestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" && origin != "null" {
		return strings.TrimRight(origin, "/")
	}
	ref := r.Header.Get("Referer")
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
