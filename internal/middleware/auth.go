// Package middleware provides HTTP middleware for the PINNLO API.
package middleware

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"github.com/pinnlo/service_layer/internal/errors"
	internalhttputil "github.com/pinnlo/service_layer/internal/httputil"
	"github.com/pinnlo/service_layer/internal/logging"
	"github.com/pinnlo/service_layer/internal/supabase"
)

// Claims are the fields PINNLO reads from a Supabase access token.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserLookup resolves an access token through the auth server. It is used
// when no JWT secret is configured.
type UserLookup interface {
	GetUser(ctx context.Context, accessToken string) (*supabase.User, error)
}

// AuthConfig configures AuthMiddleware.
type AuthConfig struct {
	JWTSecret  string
	CookieName string
	Lookup     UserLookup
	SkipPaths  []string
}

// AuthMiddleware authenticates requests with a Supabase access token taken
// from the Authorization header or the auth cookie.
type AuthMiddleware struct {
	secret     []byte
	cookieName string
	lookup     UserLookup
	logger     *logging.Logger
	skipPaths  map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(cfg AuthConfig, logger *logging.Logger) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range cfg.SkipPaths {
		skip[path] = true
	}
	if logger == nil {
		logger = logging.NewDefault("auth")
	}

	return &AuthMiddleware{
		secret:     []byte(cfg.JWTSecret),
		cookieName: cfg.CookieName,
		lookup:     cfg.Lookup,
		logger:     logger,
		skipPaths:  skip,
	}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := m.extractToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		claims, err := m.authenticate(r.Context(), token)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("Token validation failed")
			m.respondError(w, r, err)
			return
		}

		ctx := logging.WithUserID(r.Context(), claims.Subject)
		ctx = context.WithValue(ctx, logging.RoleKey, claims.Role)
		ctx = context.WithValue(ctx, logging.EmailKey, claims.Email)
		setRequestUser(ctx, claims.Subject)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) extractToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", errors.Unauthorized("Invalid Authorization header format")
		}
		return strings.TrimSpace(parts[1]), nil
	}

	if m.cookieName != "" {
		if cookie, err := r.Cookie(m.cookieName); err == nil {
			if token := tokenFromCookie(cookie.Value); token != "" {
				return token, nil
			}
		}
	}
	return "", errors.Unauthorized("Missing access token")
}

// tokenFromCookie accepts a bare JWT, the auth-helpers JSON array form
// ["access","refresh",...] and the "base64-" prefixed session object.
// Browsers send the array percent-encoded since quotes are not valid in a
// cookie value.
func tokenFromCookie(value string) string {
	value = strings.TrimSpace(value)
	if strings.Contains(value, "%") {
		unescaped, err := url.PathUnescape(value)
		if err != nil {
			return ""
		}
		value = unescaped
	}
	if strings.HasPrefix(value, "base64-") {
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimPrefix(value, "base64-"), "="))
		if err != nil {
			return ""
		}
		value = string(raw)
	}
	switch {
	case strings.HasPrefix(value, "["):
		if gjson.Valid(value) {
			return gjson.Get(value, "0").String()
		}
		// quotes stripped in transit: [access,refresh,null]
		first, _, _ := strings.Cut(strings.TrimPrefix(value, "["), ",")
		return strings.TrimSpace(strings.TrimSuffix(first, "]"))
	case strings.HasPrefix(value, "{"):
		return gjson.Get(value, "access_token").String()
	}
	return value
}

func (m *AuthMiddleware) authenticate(ctx context.Context, token string) (*Claims, error) {
	if len(m.secret) > 0 {
		return m.validateToken(token)
	}
	if m.lookup == nil {
		return nil, errors.Unauthorized("Authentication is not configured")
	}

	user, err := m.lookup.GetUser(ctx, token)
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	claims := &Claims{Email: user.Email, Role: user.Role}
	claims.Subject = user.ID
	return claims, nil
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}
	if claims.Subject == "" {
		return nil, errors.Unauthorized("Token has no subject")
	}
	return claims, nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	internalhttputil.WriteError(w, r, err)
}

// GetUserID extracts the user ID from the request context.
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetUserRole extracts the user role from the request context.
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}

// RequireUserID returns the authenticated user id or writes a 401.
func RequireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := GetUserID(r.Context())
	if userID == "" {
		internalhttputil.WriteError(w, r, errors.Unauthorized("Authentication required"))
		return "", false
	}
	return userID, true
}
