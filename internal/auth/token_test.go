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

var (
	testKey = []byte("test-signing-key")
	issued  = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
)

func TestIssueVerify_RoundTrip(t *testing.T) {
	tok, err := Issue(testKey, "orders-api", 5*time.Minute, issued)
	require.NoError(t, err)

	v := Verify(testKey, tok, issued.Add(4*time.Minute))

	require.True(t, v.Valid(), v.Err)
	assert.Equal(t, "orders-api", v.Claims.Service)
	assert.Equal(t, ServiceType, v.Claims.Type)
}

func TestVerify_Expired(t *testing.T) {
	tok, err := Issue(testKey, "orders-api", 5*time.Minute, issued)
	require.NoError(t, err)

	v := Verify(testKey, tok, issued.Add(5*time.Minute+time.Second))

	assert.Equal(t, StatusExpired, v.Status)
}

func TestVerify_WrongKeyIsMalformed(t *testing.T) {
	tok, err := Issue([]byte("other-key"), "orders-api", time.Minute, issued)
	require.NoError(t, err)

	assert.Equal(t, StatusMalformed, Verify(testKey, tok, issued).Status)
	assert.Equal(t, StatusMalformed, Verify(testKey, "not-a-jwt", issued).Status)
}

func TestVerify_WrongType(t *testing.T) {
	claims := Claims{
		Type:    "user",
		Service: "web",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(issued.Add(time.Minute)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	require.NoError(t, err)

	v := Verify(testKey, tok, issued)

	assert.Equal(t, StatusWrongType, v.Status)
}

func TestVerify_MissingExpiryIsRejected(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Type: ServiceType}).SignedString(testKey)
	require.NoError(t, err)

	assert.False(t, Verify(testKey, tok, issued).Valid())
}

func TestIssue_EmptyKey(t *testing.T) {
	_, err := Issue(nil, "svc", time.Minute, issued)

	assert.Error(t, err)
}

func TestIssuer_MintsFreshTokens(t *testing.T) {
	clock := issued
	iss := NewIssuer(testKey, "orchestrator", time.Minute)
	iss.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	a, err := iss.Token()
	require.NoError(t, err)
	b, err := iss.Token()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestGate(t *testing.T) {
	valid, err := Issue(testKey, "orders-api", time.Minute, issued)
	require.NoError(t, err)
	expired, err := Issue(testKey, "orders-api", time.Minute, issued.Add(-time.Hour))
	require.NoError(t, err)
	forged, err := Issue([]byte("nope"), "orders-api", time.Minute, issued)
	require.NoError(t, err)
	userTok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Type:             "user",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(issued.Add(time.Minute))},
	}).SignedString(testKey)
	require.NoError(t, err)

	var seen *Claims
	h := Gate(testKey, func() time.Time { return issued })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"bad signature", "Bearer " + forged, http.StatusForbidden},
		{"wrong type", "Bearer " + userTok, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/internal/customers/1", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code)
		})
	}
	require.NotNil(t, seen)
	assert.Equal(t, "orders-api", seen.Service)
}
