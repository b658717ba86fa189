package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"ramm/observability/logging"
)

// Scopes carried in JWT scope claims.
const (
	ScopeTrade = "ramm:trade"
	ScopeAdmin = "ramm:admin"
)

// AuthConfig configures bearer token and JWT authentication.
type AuthConfig struct {
	// BearerToken is an operator token granting every scope.
	BearerToken string
	// JWTSecret enables HS256 tokens. The "sub" claim names the account a
	// trading token may act for.
	JWTSecret string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// Authenticator verifies requests before they reach handlers.
type Authenticator struct {
	bearerToken string
	secret      []byte
	issuer      string
	audience    string
	skew        time.Duration
	logger      *slog.Logger
}

// Principal describes an authenticated caller.
type Principal struct {
	Method  string
	Subject string
	Scopes  []string
}

// Operator reports whether the principal authenticated with the static
// operator token.
func (p *Principal) Operator() bool {
	return p != nil && p.Method == "bearer"
}

func (p *Principal) has(scope string) bool {
	if p == nil {
		return false
	}
	if p.Operator() {
		return true
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type principalContextKey struct{}

// PrincipalFromContext extracts the authenticated principal from the request context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}

// NewAuthenticator constructs an authenticator from configuration.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	token := strings.TrimSpace(cfg.BearerToken)
	secret := strings.TrimSpace(cfg.JWTSecret)
	if token == "" && secret == "" {
		return nil, fmt.Errorf("at least one authentication mechanism must be configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &Authenticator{
		bearerToken: token,
		secret:      []byte(secret),
		issuer:      strings.TrimSpace(cfg.Issuer),
		audience:    strings.TrimSpace(cfg.Audience),
		skew:        skew,
		logger:      logger,
	}, nil
}

// Middleware enforces authentication and the required scope.
func (a *Authenticator) Middleware(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				writeError(w, http.StatusInternalServerError, "authentication unavailable")
				return
			}
			principal, err := a.authenticate(r)
			if err != nil {
				a.logger.WarnContext(r.Context(), "rammd: authentication failed",
					slog.String("path", r.URL.Path),
					slog.String("authorization", logging.MaskBearer(r.Header.Get("Authorization"))),
					slog.String("error", err.Error()))
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if scope != "" && !principal.has(scope) {
				writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) (*Principal, error) {
	token := parseBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil, errors.New("missing bearer token")
	}
	if a.bearerToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.bearerToken)) == 1 {
		return &Principal{Method: "bearer"}, nil
	}
	if len(a.secret) == 0 {
		return nil, errors.New("bearer token mismatch")
	}
	claims, err := a.parseToken(token)
	if err != nil {
		return nil, err
	}
	subject, _ := claims.GetSubject()
	return &Principal{Method: "jwt", Subject: strings.TrimSpace(subject), Scopes: extractScopes(claims)}, nil
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.skew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func extractScopes(claims jwt.MapClaims) []string {
	switch v := claims["scope"].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
