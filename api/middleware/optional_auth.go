package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gastonanderson039-glitch/supermarketpro/api/responses"
	pkgAuth "github.com/gastonanderson039-glitch/supermarketpro/pkg/auth"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/config"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
)

// OptionalAuth seeds the context from a bearer token when one is presented
// and lets anonymous requests through untouched. Guest carts identify
// themselves with X-Session-Token instead of a JWT; a token that IS presented
// but does not verify is still rejected.
func OptionalAuth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID.String())
			ctx = context.WithValue(ctx, ctxRole, string(claims.Role))
			if claims.VendorID != nil {
				ctx = context.WithValue(ctx, ctxVendorID, claims.VendorID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
