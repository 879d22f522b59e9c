package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt"
)

// AuthConfig is the per-route configuration for the JWT filter. An empty
// RequiredRole means any authenticated principal passes.
type AuthConfig struct {
	RequiredRole string
}

// Claims is the verified payload the gateway cares about. It lives only for
// the duration of one request's auth check.
type Claims struct {
	UserID    int64
	HasUserID bool
	Email     string
	Role      string
}

// tokenErrorKind tags the outcome of token verification so the filter can map
// each failure to its status and error code with a plain switch.
type tokenErrorKind int

const (
	tokenOK tokenErrorKind = iota
	tokenExpired
	tokenMalformed
	tokenUnsupported
	tokenEmptyClaims
	tokenInvalid
)

var errUnsupportedAlg = errors.New("unexpected signing method")

// verifyToken parses and verifies a compact JWT with the shared HMAC secret
// and returns the extracted claims or a tagged failure kind.
func verifyToken(secret, token string) (Claims, tokenErrorKind) {
	if strings.TrimSpace(token) == "" {
		return Claims{}, tokenEmptyClaims
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnsupportedAlg
		}
		return []byte(secret), nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) {
			switch {
			case ve.Errors&jwt.ValidationErrorMalformed != 0:
				return Claims{}, tokenMalformed
			case ve.Errors&jwt.ValidationErrorExpired != 0:
				return Claims{}, tokenExpired
			case ve.Errors&jwt.ValidationErrorUnverifiable != 0:
				if errors.Is(ve.Inner, errUnsupportedAlg) {
					return Claims{}, tokenUnsupported
				}
				return Claims{}, tokenInvalid
			}
		}
		return Claims{}, tokenInvalid
	}
	if !parsed.Valid {
		return Claims{}, tokenInvalid
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || len(mc) == 0 {
		return Claims{}, tokenEmptyClaims
	}

	var claims Claims
	if sub, ok := mc["sub"].(string); ok {
		claims.Email = sub
	}
	if role, ok := mc["role"].(string); ok {
		claims.Role = role
	}
	// Numeric claims arrive as float64 after JSON decoding.
	if id, ok := mc["id"].(float64); ok {
		claims.UserID = int64(id)
		claims.HasUserID = true
	}
	return claims, tokenOK
}

// NewJWTAuth returns the configured auth filter for one route. The filter
// validates the bearer token, optionally enforces a role, and forwards a
// cloned request enriched with identity headers; the incoming request is
// never mutated.
func NewJWTAuth(secret string, cfg AuthConfig, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path

			// Preflight requests never carry credentials.
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := r.Header["Authorization"]; !ok {
				logger.WarnContext(r.Context(), "auth: missing Authorization header", "path", path)
				writeAuthError(w, r, http.StatusUnauthorized,
					"Missing Authorization header", codeMissingToken)
				return
			}

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			// Exactly one space after "Bearer": a second space is rejected,
			// not trimmed.
			if !ok || token == "" || strings.HasPrefix(token, " ") {
				logger.WarnContext(r.Context(), "auth: invalid Authorization header format", "path", path)
				writeAuthError(w, r, http.StatusUnauthorized,
					"Invalid Authorization header format", codeInvalidTokenFormat)
				return
			}

			claims, kind := verifyToken(secret, token)
			switch kind {
			case tokenOK:
			case tokenExpired:
				logger.WarnContext(r.Context(), "auth: token expired", "path", path)
				writeAuthError(w, r, http.StatusUnauthorized,
					"Token has expired", codeTokenExpired)
				return
			case tokenMalformed:
				logger.WarnContext(r.Context(), "auth: malformed token", "path", path)
				writeAuthError(w, r, http.StatusUnauthorized,
					"Malformed token", codeMalformedToken)
				return
			case tokenUnsupported:
				logger.WarnContext(r.Context(), "auth: unsupported token type", "path", path)
				writeAuthError(w, r, http.StatusUnauthorized,
					"Unsupported token type", codeUnsupportedToken)
				return
			case tokenEmptyClaims:
				logger.WarnContext(r.Context(), "auth: empty token claims", "path", path)
				writeAuthError(w, r, http.StatusUnauthorized,
					"Empty token claims", codeEmptyClaims)
				return
			default:
				logger.WarnContext(r.Context(), "auth: token validation failed", "path", path)
				writeAuthError(w, r, http.StatusUnauthorized,
					"Invalid token", codeInvalidToken)
				return
			}

			if cfg.RequiredRole != "" {
				if claims.Role == "" || !strings.EqualFold(claims.Role, cfg.RequiredRole) {
					logger.WarnContext(r.Context(), "auth: access denied",
						"path", path,
						"required_role", cfg.RequiredRole,
						"user_role", claims.Role,
					)
					writeAuthError(w, r, http.StatusForbidden,
						"Insufficient permissions", codeInsufficientPerms)
					return
				}
			}

			userID := ""
			if claims.HasUserID {
				userID = strconv.FormatInt(claims.UserID, 10)
			}
			out := r.Clone(r.Context())
			out.Header.Set("X-User-Id", userID)
			out.Header.Set("X-User-Email", claims.Email)
			out.Header.Set("X-User-Role", claims.Role)
			next.ServeHTTP(w, out)
		})
	}
}
