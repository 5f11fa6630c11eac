package customers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/auth"
)

var signingKey = []byte("customers-test-key")

// registry mimics the internal customer endpoint behind the service gate.
func registry(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/api/internal/customers/", auth.Gate(signingKey, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/internal/customers/1":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(Customer{ID: 1, Name: "Ana", Email: "ana@example.com", Phone: "+52 555"})
		case "/api/internal/customers/500":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type countingTokens struct {
	inner *auth.Issuer
	calls atomic.Int32
}

func (c *countingTokens) Token() (string, error) {
	c.calls.Add(1)
	return c.inner.Token()
}

func TestValidate_Found(t *testing.T) {
	srv := registry(t)
	tokens := &countingTokens{inner: auth.NewIssuer(signingKey, "orders-api", time.Minute)}
	c := NewClient(srv.URL, tokens, time.Second)

	cust, err := c.Validate(context.Background(), 1)
	require.NoError(t, err)
	_, err = c.Validate(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "Ana", cust.Name)
	assert.Equal(t, "ana@example.com", cust.Email)
	assert.EqualValues(t, 2, tokens.calls.Load(), "a credential is minted per call")
}

func TestValidate_NotFound(t *testing.T) {
	srv := registry(t)
	c := NewClient(srv.URL, auth.NewIssuer(signingKey, "orders-api", time.Minute), time.Second)

	err := c.ValidateCustomer(context.Background(), 99)

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Equal(t, "customer not found", e.Message)
	assert.Equal(t, http.StatusNotFound, e.Status)
}

func TestValidate_OtherFailuresAreGeneric(t *testing.T) {
	srv := registry(t)

	cases := []struct {
		name   string
		key    []byte
		id     int64
		status int
	}{
		{"registry error", signingKey, 500, http.StatusInternalServerError},
		{"rejected credential", []byte("wrong-key"), 1, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClient(srv.URL, auth.NewIssuer(tc.key, "orders-api", time.Minute), time.Second)

			_, err := c.Validate(context.Background(), tc.id)

			e, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, apperr.KindValidation, e.Kind)
			assert.Equal(t, "failed to validate customer", e.Message)
			assert.Equal(t, tc.status, e.Status)
		})
	}
}

func TestValidate_TransportFailureIsUpstream(t *testing.T) {
	srv := registry(t)
	url := srv.URL
	srv.Close()
	c := NewClient(url, auth.NewIssuer(signingKey, "orders-api", time.Minute), time.Second)

	_, err := c.Validate(context.Background(), 1)

	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
}

func TestValidate_TimeoutIsGatewayTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	c := NewClient(srv.URL, auth.NewIssuer(signingKey, "orders-api", time.Minute), 100*time.Millisecond)

	_, err := c.Validate(context.Background(), 1)

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindUpstream, e.Kind)
	assert.Equal(t, http.StatusGatewayTimeout, e.Status)
	assert.Equal(t, "customers service timed out", e.Message)
}

type failingTokens struct{}

func (failingTokens) Token() (string, error) { return "", errors.New("no key") }

func TestValidate_TokenFailureFailsClosed(t *testing.T) {
	srv := registry(t)
	c := NewClient(srv.URL, failingTokens{}, time.Second)

	_, err := c.Validate(context.Background(), 1)

	assert.Error(t, err)
}
