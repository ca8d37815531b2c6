// Package identity carries the caller of a request into the core packages.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Identity is who is making a request. An empty UserID means anonymous.
type Identity struct {
	UserID string
	Email  string
	IP     string
}

// Anonymous returns an unauthenticated identity for ip
func Anonymous(ip string) Identity {
	return Identity{IP: ip}
}

// Authenticated reports whether the identity carries a user id
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

type contextKey struct{}

// WithIdentity stores id on ctx
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored on ctx, or an anonymous one without an IP
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(contextKey{}).(Identity)
	return id
}

// ClientIP returns the originating address of r, preferring the first
// X-Forwarded-For hop set by the load balancer
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
