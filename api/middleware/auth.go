package middleware

import (
	"net/http"
	"strings"

	"github.com/modaluna/modaluna-backend/api/responses"
	pkgauth "github.com/modaluna/modaluna-backend/pkg/auth"
	"github.com/modaluna/modaluna-backend/pkg/config"
	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
	"github.com/modaluna/modaluna-backend/pkg/logger"
)

const sessionIDHeader = "X-Session-Id"

// Auth validates a bearer token and seeds the request context with the
// authenticated user. Routes behind it always have a user id.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := claimsFromRequest(cfg, r)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if claims == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			ctx := WithUserID(r.Context(), claims.UserID.String())
			if claims.SessionID != nil && *claims.SessionID != "" {
				ctx = WithSessionID(ctx, *claims.SessionID)
			}
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Identify accepts either a bearer token or an anonymous session header.
// Guest shoppers browse and build carts before they ever sign in, so the
// cart routes sit behind this instead of Auth.
func Identify(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := claimsFromRequest(cfg, r)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := r.Context()
			if claims != nil {
				ctx = WithUserID(ctx, claims.UserID.String())
				if claims.SessionID != nil && *claims.SessionID != "" {
					ctx = WithSessionID(ctx, *claims.SessionID)
				}
				if logg != nil {
					ctx = logg.WithUserID(ctx, claims.UserID.String())
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			sessionID := strings.TrimSpace(r.Header.Get(sessionIDHeader))
			if sessionID == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "a bearer token or session header is required"))
				return
			}
			ctx = WithSessionID(ctx, sessionID)
			if logg != nil {
				ctx = logg.WithSessionID(ctx, sessionID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// claimsFromRequest parses the Authorization header. A missing header
// returns (nil, nil); a present but invalid token is an error.
func claimsFromRequest(cfg config.JWTConfig, r *http.Request) (*pkgauth.AccessTokenClaims, error) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return nil, nil
	}

	token := raw
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}

	claims, err := pkgauth.ParseAccessToken(cfg, token)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	}
	return claims, nil
}
