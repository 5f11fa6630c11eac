// Package auth issues and verifies the short-lived credentials services use
// to call each other. Issue and Verify are pure functions of a signing key
// and a clock reading.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ServiceType is the only token type accepted on internal routes.
	ServiceType = "service"

	DefaultTTL = 5 * time.Minute
)

type Claims struct {
	Type    string `json:"type"`
	Service string `json:"service"`
	jwt.RegisteredClaims
}

type Status int

const (
	StatusValid Status = iota
	StatusExpired
	StatusMalformed
	StatusWrongType
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	case StatusWrongType:
		return "wrong_type"
	default:
		return "malformed"
	}
}

// Verification is the typed outcome of Verify. Claims is set only when
// Status is StatusValid or StatusWrongType.
type Verification struct {
	Status Status
	Claims *Claims
	Err    error
}

func (v Verification) Valid() bool { return v.Status == StatusValid }

func Issue(key []byte, caller string, ttl time.Duration, now time.Time) (string, error) {
	if len(key) == 0 {
		return "", errors.New("auth: empty signing key")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	claims := Claims{
		Type:    ServiceType,
		Service: caller,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

func Verify(key []byte, token string, now time.Time) Verification {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Verification{Status: StatusExpired, Err: err}
	case err != nil:
		return Verification{Status: StatusMalformed, Err: err}
	case claims.Type != ServiceType:
		return Verification{Status: StatusWrongType, Claims: claims,
			Err: fmt.Errorf("auth: token type %q is not %q", claims.Type, ServiceType)}
	}
	return Verification{Status: StatusValid, Claims: claims}
}

// Issuer mints a fresh token on every call. Tokens are never cached.
type Issuer struct {
	key     []byte
	service string
	ttl     time.Duration
	now     func() time.Time
}

func NewIssuer(key []byte, service string, ttl time.Duration) *Issuer {
	return &Issuer{key: key, service: service, ttl: ttl, now: time.Now}
}

func (i *Issuer) Token() (string, error) {
	return Issue(i.key, i.service, i.ttl, i.now())
}
