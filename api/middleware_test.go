package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linesmerrill/casecraft-api/identity"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(sub string) Claims {
	return Claims{
		Email: sub + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func captureIdentity(got *identity.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = identity.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticator_AnonymousWithoutToken(t *testing.T) {
	var got identity.Identity
	req := httptest.NewRequest("GET", "/api/v1/usage", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	rr := httptest.NewRecorder()

	NewAuthenticator(testSecret).Middleware(captureIdentity(&got)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, got.Authenticated())
	assert.Equal(t, "1.2.3.4", got.IP)
}

func TestAuthenticator_ValidToken(t *testing.T) {
	var got identity.Identity
	req := httptest.NewRequest("GET", "/api/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims("u1")))
	rr := httptest.NewRecorder()

	NewAuthenticator(testSecret).Middleware(captureIdentity(&got)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "u1@example.com", got.Email)
}

func TestAuthenticator_RejectsBadTokens(t *testing.T) {
	expired := validClaims("u1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noSubject := validClaims("")

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "other", validClaims("u1"))},
		{"expired", signToken(t, testSecret, expired)},
		{"no subject", signToken(t, testSecret, noSubject)},
		{"garbage", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
			req := httptest.NewRequest("GET", "/api/v1/usage", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rr := httptest.NewRecorder()

			NewAuthenticator(testSecret).Middleware(next).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.False(t, called)
		})
	}
}

func TestAuthenticator_VerifyTokenWithoutSecret(t *testing.T) {
	_, err := NewAuthenticator("").VerifyToken(signToken(t, testSecret, validClaims("u1")))
	assert.Error(t, err)
}

func TestMetricsMiddleware_TagsRequestAndFlushes(t *testing.T) {
	r := mux.NewRouter()
	r.Use(MetricsMiddleware)
	r.HandleFunc("/api/v1/cases/{case_id}/analyze", func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Flusher)
		assert.True(t, ok)
		w.WriteHeader(http.StatusAccepted)
	})
	req := httptest.NewRequest("POST", "/api/v1/cases/c1/analyze", nil)
	rr := httptest.NewRecorder()

	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
}

func TestMetricsMiddleware_KeepsIncomingRequestID(t *testing.T) {
	r := mux.NewRouter()
	r.Use(MetricsMiddleware)
	r.HandleFunc("/api/v1/usage", func(w http.ResponseWriter, r *http.Request) {})
	req := httptest.NewRequest("GET", "/api/v1/usage", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()

	r.ServeHTTP(rr, req)

	assert.Equal(t, "abc-123", rr.Header().Get(RequestIDHeader))
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	})
	req := httptest.NewRequest("GET", "/api/v1/cases", nil)

	TimeoutMiddleware(2*time.Second)(next).ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, time.Second)
}

func TestWithQueryTimeout(t *testing.T) {
	ctx, cancel := WithQueryTimeout(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(QueryTimeout), deadline, time.Second)
}
