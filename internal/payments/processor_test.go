package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/carebook/internal/testutil"
)

func TestHostedProcessorLifecycle(t *testing.T) {
	var deleted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pk_test", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/hosted_sessions":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "client-token", body["authorization"])
			assert.Equal(t, "#payment", body["container"])
			_, _ = io.WriteString(w, `{"id":"hs_1"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/hosted_sessions/hs_1/payment_methods":
			_, _ = io.WriteString(w, `{"nonce":"tok_nonce_1"}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/hosted_sessions/hs_1":
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewHostedProcessor(srv.URL, "pk_test", nil)
	ctx := context.Background()

	widget, err := p.Mount(ctx, "client-token", "#payment")
	require.NoError(t, err)

	nonce, err := widget.RequestPaymentMethod(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok_nonce_1", nonce)

	require.NoError(t, widget.Teardown(ctx))
	assert.True(t, deleted)
}

func TestHostedProcessorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/hosted_sessions" {
			_, _ = io.WriteString(w, `{"id":"hs_2"}`)
			return
		}
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = io.WriteString(w, `{"error":"card_declined"}`)
	}))
	defer srv.Close()

	p := NewHostedProcessor(srv.URL, "", nil)
	ctx := context.Background()

	_, err := p.Mount(ctx, "", "#payment")
	assert.Error(t, err)

	widget, err := p.Mount(ctx, "client-token", "#payment")
	require.NoError(t, err)
	_, err = widget.RequestPaymentMethod(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
	assert.Contains(t, err.Error(), "card_declined")
}

func TestHostedProcessorWithSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/hosted_sessions":
			_, _ = io.WriteString(w, `{"id":"hs_3"}`)
		case "/v1/hosted_sessions/hs_3/payment_methods":
			_, _ = io.WriteString(w, `{"nonce":"n-3"}`)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	s := NewSession(SessionConfig{Tokens: &stubTokens{}, Widgets: NewHostedProcessor(srv.URL, "", nil), ContainerRegion: "#payment"})
	err := Use(context.Background(), s, func(s *Session) error {
		if err := s.Initialize(context.Background(), testutil.Patient()); err != nil {
			return err
		}
		nonce, err := s.RequestAuthorization(context.Background())
		assert.Equal(t, "n-3", nonce)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, StateReleased, s.State())
}
