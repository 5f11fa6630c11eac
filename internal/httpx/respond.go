package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRaw sends a payload that is already JSON, byte for byte.
func writeRaw(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// writeError maps a tagged error onto the response. Untagged errors are
// logged in full and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status := apperr.HTTPStatus(err)
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		log.ErrorContext(r.Context(), "request failed",
			"request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "INTERNAL", Message: "internal server error"})
		return
	}
	if status >= http.StatusInternalServerError {
		log.WarnContext(r.Context(), "upstream failure",
			"request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: e.Code, Message: e.Message, Details: e.Details})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("INVALID_JSON", "request body is required")
		}
		return apperr.Validation("INVALID_JSON", "request body is not valid JSON")
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("INVALID_ID", name+" must be a positive integer")
	}
	return id, nil
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, apperr.Validation("INVALID_QUERY", name+" must be a non-negative integer")
	}
	return v, nil
}
