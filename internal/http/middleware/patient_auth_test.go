package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/carebook/internal/apperr"
	"github.com/wolfman30/carebook/internal/session"
	"github.com/wolfman30/carebook/pkg/logging"
)

func serveAuth(t *testing.T, secret, authHeader string) (*httptest.ResponseRecorder, *session.Session) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/bookings", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	var got *session.Session
	PatientAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFromContext(r.Context())
		require.True(t, ok)
		got = &sess
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	return rec, got
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPatientAuthValidToken(t *testing.T) {
	token, err := IssuePatientToken("secret", "p-1", "pat@example.com", "Pat Doe", 5*time.Minute)
	require.NoError(t, err)

	rec, sess := serveAuth(t, "secret", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, sess)
	assert.Equal(t, "p-1", sess.PatientID)
	assert.Equal(t, "pat@example.com", sess.Email)
	assert.Equal(t, token, sess.AccessToken)
	assert.False(t, sess.ExpiresAt.IsZero())
	assert.NoError(t, sess.Check("test", time.Now()))
}

func TestPatientAuthRejects(t *testing.T) {
	wrong, err := IssuePatientToken("other", "p-1", "", "", time.Minute)
	require.NoError(t, err)
	noSubject, err := IssuePatientToken("secret", "", "", "", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret string
		header string
	}{
		{"disabled", "", "Bearer x"},
		{"missing header", "secret", ""},
		{"not bearer", "secret", "Basic abc"},
		{"bad signature", "secret", "Bearer " + wrong},
		{"no subject", "secret", "Bearer " + noSubject},
		{"garbage", "secret", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, sess := serveAuth(t, tt.secret, tt.header)
			assert.Nil(t, sess)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, apperr.KindAuthExpired, body.Error)
			assert.Equal(t, apperr.RetryAfterLogin, body.Retry)
		})
	}
}

func TestPatientAuthExpiredToken(t *testing.T) {
	claims := PatientClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "p-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	rec, _ := serveAuth(t, "secret", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.DefaultMessage(apperr.KindAuthExpired), decodeError(t, rec).Message)
}

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(0, 2)
	t.Cleanup(limiter.Stop)
	h := RateLimit(limiter)(okHandler(nil))

	do := func(remote string, sess *session.Session) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/bookings", nil)
		req.RemoteAddr = remote
		if sess != nil {
			req = req.WithContext(WithSession(req.Context(), *sess))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1", nil))
	assert.Equal(t, http.StatusOK, do("10.0.0.1", nil))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1", nil))

	// Patients behind the same address get their own buckets.
	assert.Equal(t, http.StatusOK, do("10.0.0.1", &session.Session{PatientID: "p-1"}))
	assert.Equal(t, http.StatusOK, do("10.0.0.1", &session.Session{PatientID: "p-2"}))
}

func TestRateLimiterRefillsAndEvicts(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	t.Cleanup(limiter.Stop)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("k"))
	assert.False(t, limiter.Allow("k"))
	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("k"))

	limiter.evict(now.Add(time.Minute))
	limiter.mu.Lock()
	assert.Empty(t, limiter.buckets)
	limiter.mu.Unlock()
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	h := RequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/checkout", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRequestLoggerRecordsTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("info", &buf)
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	req := httptest.NewRequest(http.MethodGet, "/v1/bookings/bk-1", nil)
	req = req.WithContext(trace.ContextWithSpanContext(req.Context(), sc))
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", line["trace_id"])
	assert.EqualValues(t, http.StatusNotFound, line["status"])
}
