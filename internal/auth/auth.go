// Package auth gates the verification API.
//
// Authentication model:
// - Server callers present the shared key in the X-API-Key header
// - Browser callers are admitted when their Origin (or Referer origin) is allowlisted
// - Either check passing is sufficient
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/nexshop/nexid/internal/security"
)

// HeaderAPIKey carries the shared API key.
const HeaderAPIKey = "X-API-Key"

// Errors
var (
	ErrNoCredentials = errors.New("API key or allowed origin required")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// Method records how a request was authenticated.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodOrigin Method = "origin"
)

// Authorizer checks requests against the configured key and origins.
// It is immutable after construction and safe for concurrent use.
type Authorizer struct {
	keyHash []byte // SHA256 of the configured key; nil when unset
	origins map[string]struct{}
}

// New creates an authorizer. An empty apiKey disables key authentication;
// an empty origin list disables origin authentication.
func New(apiKey string, allowedOrigins []string) *Authorizer {
	a := &Authorizer{origins: make(map[string]struct{}, len(allowedOrigins))}
	if apiKey != "" {
		a.keyHash = hashKey(apiKey)
	}
	for _, o := range allowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			a.origins[o] = struct{}{}
		}
	}
	return a
}

// Authorize reports how r is authenticated, or why it is not.
func (a *Authorizer) Authorize(r *http.Request) (Method, error) {
	key := r.Header.Get(HeaderAPIKey)
	if key != "" && a.keyHash != nil {
		if subtle.ConstantTimeCompare(hashKey(key), a.keyHash) == 1 {
			return MethodAPIKey, nil
		}
	}

	if origin := security.RequestOrigin(r); origin != "" {
		if _, ok := a.origins[origin]; ok {
			return MethodOrigin, nil
		}
	}

	if key != "" {
		return "", ErrInvalidAPIKey
	}
	return "", ErrNoCredentials
}

// OriginAllowed reports whether origin is allowlisted.
func (a *Authorizer) OriginAllowed(origin string) bool {
	_, ok := a.origins[strings.TrimRight(origin, "/")]
	return ok
}

// hashKey creates a SHA256 digest of a key for constant-length comparison
func hashKey(key string) []byte {
	h := sha256.Sum256([]byte(key))
	return h[:]
}
