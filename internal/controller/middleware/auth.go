// Package middleware contains HTTP middleware for the status API.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"snakeplane/internal/auth"
)

// clientKey is the context key for the authenticated client.
type clientKey struct{}

// NewContextWithClient returns a context carrying the client identity.
func NewContextWithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, clientKey{}, client)
}

// ClientFromContext extracts the client identity from the context.
func ClientFromContext(ctx context.Context) (string, bool) {
	client, ok := ctx.Value(clientKey{}).(string)
	return client, ok && client != ""
}

// Auth requires a bearer token from keys. With no keys configured every
// request passes and is identified by its remote address.
func Auth(keys *auth.KeySet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keys.Empty() {
				next.ServeHTTP(w, r.WithContext(NewContextWithClient(r.Context(), remoteHost(r))))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			hash, ok := keys.Match(parts[1])
			if !ok {
				http.Error(w, "Invalid authorization token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContextWithClient(r.Context(), "key:"+hash[:12])))
		})
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
