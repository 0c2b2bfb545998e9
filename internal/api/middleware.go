// Package api implements the Mimir REST API using chi.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/starford/mimir/internal/contrib"
)

// IdentityHeader is the trusted reverse-proxy header carrying the
// authenticated user, in the proxy's "issuer:email" form.
const IdentityHeader = "X-Goog-Authenticated-User-Email"

// Anonymous fallback identity used when no upstream identity is available.
const (
	AnonymousName  = "Anonymous Contributor"
	AnonymousEmail = "anonymous@knowledge-agent.local"
)

type identityKey struct{}

// IdentityOptions configures identity resolution.
type IdentityOptions struct {
	// DevName and DevEmail are the development override, consulted when
	// the proxy header is absent.
	DevName  string
	DevEmail string
}

// IdentityMiddleware resolves the contributor identity for each request:
// trusted proxy header first, development override second, anonymous
// fallback last. The resolved identity is stored in the request context;
// downstream code never re-resolves.
func IdentityMiddleware(opts IdentityOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := resolveIdentity(r.Header.Get(IdentityHeader), opts)
			ctx := context.WithValue(r.Context(), identityKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the identity resolved by the middleware,
// or the anonymous identity when the middleware did not run.
func IdentityFromContext(ctx context.Context) contrib.Identity {
	if id, ok := ctx.Value(identityKey{}).(contrib.Identity); ok {
		return id
	}
	return contrib.Identity{Name: AnonymousName, Email: AnonymousEmail}
}

func resolveIdentity(header string, opts IdentityOptions) contrib.Identity {
	if i := strings.Index(header, ":"); i >= 0 {
		email := header[i+1:]
		if email != "" {
			return contrib.Identity{Name: displayName(email), Email: email}
		}
	}
	if opts.DevEmail != "" {
		name := opts.DevName
		if name == "" {
			name = displayName(opts.DevEmail)
		}
		return contrib.Identity{Name: name, Email: opts.DevEmail}
	}
	return contrib.Identity{Name: AnonymousName, Email: AnonymousEmail}
}

// displayName derives a human-readable name from the email local part:
// "jane.doe@org" becomes "Jane Doe".
func displayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	words := strings.Fields(strings.ReplaceAll(local, ".", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	if len(words) == 0 {
		return AnonymousName
	}
	return strings.Join(words, " ")
}
