package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gvirila/portal/kit"
	"github.com/gvirila/portal/shield"
)

type claimsKey struct{}

// Middleware reads the session token from the cookie, or failing that from
// an Authorization Bearer header. Valid claims go into the context along
// with kit.UserIDKey and kit.RoleKey. Missing or invalid tokens are
// ignored here; RequireAuth and RequireAdmin enforce.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := ""
			if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
				tokenStr = c.Value
			} else if h, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				tokenStr = strings.TrimSpace(h)
			}
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := ValidateToken(secret, tokenStr)
			if err != nil {
				ClearTokenCookie(w)
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	ctx = context.WithValue(ctx, claimsKey{}, c)
	ctx = kit.WithUserID(ctx, c.UserID)
	return kit.WithRole(ctx, c.Role)
}

// GetClaims retrieves the session claims from the context, or nil.
func GetClaims(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// RequireAuth answers 401 to requests without a valid session.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r.Context()) == nil {
			shield.WriteError(w, http.StatusUnauthorized, "unauthorized", "საჭიროა ავტორიზაცია")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin answers 401 without a session and 403 for non-admins.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := GetClaims(r.Context())
		if c == nil {
			shield.WriteError(w, http.StatusUnauthorized, "unauthorized", "საჭიროა ავტორიზაცია")
			return
		}
		if !c.IsAdmin() {
			shield.WriteError(w, http.StatusForbidden, "forbidden", "საჭიროა ადმინისტრატორის უფლებები")
			return
		}
		next.ServeHTTP(w, r)
	})
}
