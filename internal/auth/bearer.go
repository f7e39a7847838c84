// Package auth authenticates the gateway's own callers. Caller
// authentication sits outside the core failover engine per spec.md §6, but
// a concrete scheme is still required for the module to run end to end: a
// single shared-secret bearer token, simplified from the donor's
// session/OIDC/PAT precedence chain down to one comparison.
//
// AI_GATEWAY_TOKEN is not a caller credential — it is carried outbound on
// the upstream call alongside the injected key (see pkg/failover's
// WithGatewayToken), matching a gateway-fronted provider origin's own
// authentication header (e.g. Cloudflare AI Gateway's
// cf-aig-authorization). This package only ever compares against authKey.
package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aikeygate/gateway/internal/httpserver"
)

type ctxKey string

const authenticatedKey ctxKey = "gateway_authenticated"

// Authenticated reports whether the request context carries a successful
// bearer-token authentication.
func Authenticated(ctx context.Context) bool {
	v, _ := ctx.Value(authenticatedKey).(bool)
	return v
}

// Middleware validates the inbound Authorization: Bearer <token> header
// against authKey using a constant-time comparison, so timing differences
// never leak how much of the secret matched. If isLocal is true and authKey
// is unconfigured, requests pass through unauthenticated — local
// development against a local upstream does not require minting a token
// first.
func Middleware(authKey string, isLocal bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authKey == "" {
				if isLocal {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authenticatedKey, true)))
					return
				}
				logger.Error("auth: no AUTH_KEY configured")
				httpserver.RespondError(w, r, http.StatusUnauthorized, "unauthorized", "gateway authentication is not configured")
				return
			}

			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" || !matches(token, authKey) {
				httpserver.RespondError(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}

			ctx := context.WithValue(r.Context(), authenticatedKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

// matches reports whether token equals secret in constant time. An empty
// secret never matches, even against an empty token.
func matches(token, secret string) bool {
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
