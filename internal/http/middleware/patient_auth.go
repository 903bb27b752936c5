package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/carebook/internal/apperr"
	"github.com/wolfman30/carebook/internal/session"
)

type contextKey string

const sessionKey contextKey = "patientSession"

// PatientClaims are the claims of a patient session token issued by the
// marketplace identity service. Subject is the patient id.
type PatientClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// PatientAuth verifies an HMAC-signed bearer token and places the patient
// session in the request context. The raw token is kept as the session's
// access token and forwarded to the marketplace on every call.
func PatientAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "http.patient_auth"
			if secret == "" {
				writeError(w, apperr.New(apperr.KindAuthExpired, op, "Sign-in is not available right now.", nil))
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, apperr.New(apperr.KindAuthExpired, op, "Please sign in to continue.", nil))
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			claims := PatientClaims{}
			token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				msg := "Please sign in to continue."
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = apperr.DefaultMessage(apperr.KindAuthExpired)
				}
				writeError(w, apperr.New(apperr.KindAuthExpired, op, msg, err))
				return
			}
			if strings.TrimSpace(claims.Subject) == "" {
				writeError(w, apperr.New(apperr.KindAuthExpired, op, "Please sign in to continue.", nil))
				return
			}

			sess := session.Session{
				PatientID:   claims.Subject,
				Email:       claims.Email,
				Name:        claims.Name,
				AccessToken: raw,
			}
			if claims.ExpiresAt != nil {
				sess.ExpiresAt = claims.ExpiresAt.Time
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// WithSession returns a context carrying sess.
func WithSession(ctx context.Context, sess session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext returns the verified patient session if present.
func SessionFromContext(ctx context.Context) (session.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(session.Session)
	return sess, ok
}

// IssuePatientToken signs a session token. It backs local development and tests;
// production tokens come from the identity service.
func IssuePatientToken(secret, patientID, email, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := PatientClaims{
		Email: email,
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   patientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
