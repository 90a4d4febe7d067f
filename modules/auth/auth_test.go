package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := UserID(r.Context())
		w.Write([]byte(id))
	})
}

func TestMiddlewareAcceptsBearerToken(t *testing.T) {
	token, err := Sign(testSecret, "user-42", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	NewVerifier(testSecret, true).Middleware(echoUser()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", rec.Body.String())
}

func TestMiddlewareAcceptsQueryToken(t *testing.T) {
	token, err := Sign(testSecret, "user-7", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/generate/ws/p1?token="+token, nil)
	rec := httptest.NewRecorder()
	NewVerifier(testSecret, true).Middleware(echoUser()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-7", rec.Body.String())
}

func TestMiddlewareRejects(t *testing.T) {
	expired, err := Sign(testSecret, "user-1", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := Sign("another-secret", "user-1", time.Hour)
	require.NoError(t, err)
	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	cases := map[string]string{
		"missing":   "",
		"malformed": "Bearer not-a-jwt",
		"expired":   "Bearer " + expired,
		"wrong key": "Bearer " + wrongKey,
		"no sub":    "Bearer " + noSub,
		"scheme":    "Basic dXNlcjpwYXNz",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			NewVerifier(testSecret, true).Middleware(echoUser()).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
		})
	}
}

func TestParseRejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewVerifier(testSecret, true).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestOptionalAuthFallsBack(t *testing.T) {
	v := NewVerifier("", false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	id, err := v.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, AnonymousUser, id)

	req.Header.Set("X-User-ID", "dev-user")
	id, err = v.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "dev-user", id)
}

func TestOptionalAuthStillVerifiesPresentedToken(t *testing.T) {
	v := NewVerifier(testSecret, false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")

	_, err := v.Authenticate(req)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewarePassesPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/generate/game", nil)
	rec := httptest.NewRecorder()
	NewVerifier(testSecret, true).Middleware(echoUser()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
