package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shaj13/go-guardian/auth"
	"github.com/shaj13/go-guardian/auth/strategies/bearer"
	"github.com/shaj13/go-guardian/store"
	"go.uber.org/zap"

	"github.com/linesmerrill/casecraft-api/identity"
)

// tokenCacheTTL is how long a verified token is trusted without re-checking its signature
const tokenCacheTTL = time.Minute

// Claims are the identity provider's access token claims
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator resolves the caller of a request. Requests without a bearer token are
// anonymous; requests with a bad one are refused.
type Authenticator struct {
	secret        []byte
	authenticator auth.Authenticator
}

// NewAuthenticator sets up go-guardian with a cached bearer strategy that verifies
// HS256 tokens signed with secret
func NewAuthenticator(secret string) *Authenticator {
	a := &Authenticator{secret: []byte(secret)}
	if secret == "" {
		zap.S().Warnw("JWT_SECRET is not set, every bearer token will be rejected")
	}

	cache := store.NewFIFO(context.Background(), tokenCacheTTL)
	a.authenticator = auth.New()
	a.authenticator.EnableStrategy(bearer.CachedStrategyKey, bearer.New(a.validateToken, cache))
	return a
}

// VerifyToken checks the signature and expiry of an access token and returns its claims
func (a *Authenticator) VerifyToken(token string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("token verification is not configured")
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (a *Authenticator) validateToken(ctx context.Context, r *http.Request, token string) (auth.Info, error) {
	claims, err := a.VerifyToken(token)
	if err != nil {
		return nil, err
	}
	return auth.NewDefaultUser(claims.Email, claims.Subject, nil, nil), nil
}

// Middleware stores the caller's identity on the request context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who := identity.Anonymous(identity.ClientIP(r))

		if strings.TrimSpace(r.Header.Get("Authorization")) != "" {
			user, err := a.authenticator.Authenticate(r)
			if err != nil {
				zap.S().Infow("unauthorized",
					"url", r.URL.Path,
					"error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"response": {"message": "unauthorized", "error": "invalid or expired token"}}`))
				return
			}
			who.UserID = user.ID()
			who.Email = user.UserName()
		}

		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), who)))
	})
}
