package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/carebook/internal/apperr"
	httpmiddleware "github.com/wolfman30/carebook/internal/http/middleware"
	"github.com/wolfman30/carebook/internal/session"
	"github.com/wolfman30/carebook/pkg/logging"
)

const maxBodyBytes = 64 << 10

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   apperr.Kind  `json:"error"`
	Message string       `json:"message"`
	Retry   apperr.Retry `json:"retry"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders err with the status of its kind. Server-side failures are
// logged; the user only ever sees the actionable message.
func writeError(w http.ResponseWriter, logger *logging.Logger, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeJSON(w, status, ErrorResponse{
		Error:   kind,
		Message: apperr.UserMessage(err),
		Retry:   apperr.RetryOf(err),
	})
}

func requireSession(r *http.Request) (session.Session, error) {
	sess, ok := httpmiddleware.SessionFromContext(r.Context())
	if !ok {
		return session.Session{}, apperr.New(apperr.KindAuthExpired, "http.session", "", nil)
	}
	return sess, nil
}

func decodeJSON(r *http.Request, op string, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.KindValidation, op, "Request body is required.", err)
		}
		return apperr.New(apperr.KindValidation, op, "Request body is not valid JSON.", err)
	}
	return nil
}

func parseDate(op, field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, apperr.New(apperr.KindValidation, op, field+" is required (YYYY-MM-DD).", nil)
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, apperr.New(apperr.KindValidation, op, field+" must be a date in YYYY-MM-DD form.", err)
	}
	return d, nil
}
