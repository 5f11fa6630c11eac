package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type ctxKey struct{}

// ClaimsFrom returns the verified caller claims stored by Gate.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}

// Gate admits only requests bearing a valid service token. Missing and
// expired tokens get 401; forged, malformed or wrong-type tokens get 403.
func Gate(key []byte, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				deny(w, http.StatusUnauthorized, "MISSING_TOKEN", "authorization token required")
				return
			}
			v := Verify(key, raw, now())
			switch v.Status {
			case StatusValid:
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, v.Claims)))
				return
			case StatusExpired:
				deny(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "token expired")
			case StatusWrongType:
				deny(w, http.StatusForbidden, "INVALID_TOKEN_TYPE", "invalid token type")
			default:
				deny(w, http.StatusForbidden, "INVALID_TOKEN", "invalid token")
			}
			slog.WarnContext(r.Context(), "service token rejected", "status", v.Status.String(), "path", r.URL.Path, "err", v.Err)
		})
	}
}

func bearer(h string) (string, bool) {
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

func deny(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": errCode, "message": msg})
}
