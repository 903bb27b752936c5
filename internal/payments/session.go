package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wolfman30/carebook/internal/apperr"
	"github.com/wolfman30/carebook/internal/session"
	"github.com/wolfman30/carebook/pkg/logging"
)

// State of a payment session.
type State string

const (
	StateIdle           State = "idle"
	StateTokenRequested State = "token_requested"
	StateWidgetReady    State = "widget_ready"
	StateNonceRequested State = "nonce_requested"
	StateNonceReady     State = "nonce_ready"
	StateConsumed       State = "consumed"
	StateTokenError     State = "token_error"
	StateWidgetError    State = "widget_error"
	StateNonceError     State = "nonce_error"
	StateReleased       State = "released"
)

var (
	// ErrReleased is returned by any operation after Teardown.
	ErrReleased = errors.New("payments: session released")
	// ErrInitializing is returned when Initialize is called while a previous call is still running.
	ErrInitializing = errors.New("payments: session is initializing")
)

// TokenSource issues client tokens for the payment widget.
type TokenSource interface {
	PaymentToken(ctx context.Context, accessToken string) (string, error)
}

// Widget is a mounted, charge-capable payment surface.
type Widget interface {
	RequestPaymentMethod(ctx context.Context) (string, error)
	Teardown(ctx context.Context) error
}

// WidgetFactory mounts a widget bound to a client token into a container region.
type WidgetFactory interface {
	Mount(ctx context.Context, authorization, containerRegion string) (Widget, error)
}

// StateObserver is notified of every transition.
type StateObserver interface {
	ObservePaymentState(state string)
}

// Session drives the token, widget and nonce handshake for one booking attempt.
// It owns the widget exclusively; Teardown must run on every exit path.
type Session struct {
	tokens   TokenSource
	widgets  WidgetFactory
	region   string
	observer StateObserver
	logger   *logging.Logger

	// life is cancelled by Teardown so pending widget calls unblock.
	life     context.Context
	stopLife context.CancelFunc

	mu     sync.Mutex
	state  State
	widget Widget
	nonce  string
	handed map[string]struct{}
	gen    uint64
}

// SessionConfig wires a Session.
type SessionConfig struct {
	Tokens          TokenSource
	Widgets         WidgetFactory
	ContainerRegion string
	Observer        StateObserver
	Logger          *logging.Logger
}

// NewSession returns an idle payment session.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	life, stop := context.WithCancel(context.Background())
	return &Session{
		tokens:   cfg.Tokens,
		widgets:  cfg.Widgets,
		region:   cfg.ContainerRegion,
		observer: cfg.Observer,
		logger:   logger,
		life:     life,
		stopLife: stop,
		state:    StateIdle,
		handed:   make(map[string]struct{}),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState must be called with mu held.
func (s *Session) setState(st State) {
	s.state = st
	if s.observer != nil {
		s.observer.ObservePaymentState(string(st))
	}
}

// opContext ties ctx to the session lifetime.
func (s *Session) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.life, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// Initialize fetches a client token and mounts the widget. Once the widget is
// ready it is a no-op; a mounted widget is never re-initialized.
func (s *Session) Initialize(ctx context.Context, sess session.Session) error {
	const op = "payments.initialize"
	s.mu.Lock()
	switch s.state {
	case StateReleased:
		s.mu.Unlock()
		return apperr.New(apperr.KindPaymentUI, op, "", ErrReleased)
	case StateWidgetReady, StateNonceRequested, StateNonceReady, StateConsumed, StateNonceError:
		s.mu.Unlock()
		return nil
	case StateTokenRequested:
		s.mu.Unlock()
		return apperr.New(apperr.KindBusy, op, "The payment form is still loading.", ErrInitializing)
	}
	s.setState(StateTokenRequested)
	gen := s.gen
	s.mu.Unlock()

	opCtx, done := s.opContext(ctx)
	defer done()

	token, err := s.tokens.PaymentToken(opCtx, sess.AccessToken)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return apperr.New(apperr.KindPaymentUI, op, "", ErrReleased)
	}
	if err != nil {
		s.setState(StateTokenError)
		s.mu.Unlock()
		s.logger.Warn("payment token fetch failed", "error", err)
		if kind := apperr.KindOf(err); kind == apperr.KindAuthExpired || kind == apperr.KindNetwork {
			return err
		}
		return apperr.New(apperr.KindPaymentUI, op, "We could not load the payment form. Please try again.", err)
	}
	s.mu.Unlock()

	widget, err := s.widgets.Mount(opCtx, token, s.region)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		// Torn down while mounting: release what was just created.
		if widget != nil {
			if terr := widget.Teardown(context.WithoutCancel(ctx)); terr != nil {
				s.logger.Warn("late widget teardown failed", "error", terr)
			}
		}
		return apperr.New(apperr.KindPaymentUI, op, "", ErrReleased)
	}
	if err != nil {
		s.setState(StateWidgetError)
		s.mu.Unlock()
		s.logger.Warn("payment widget mount failed", "error", err)
		return apperr.New(apperr.KindPaymentUI, op, "We could not load the payment form. Please try again.", err)
	}
	s.widget = widget
	s.setState(StateWidgetReady)
	s.mu.Unlock()
	return nil
}

// RequestAuthorization asks the widget for a fresh single-use nonce. Any nonce
// obtained earlier and not yet consumed is discarded.
func (s *Session) RequestAuthorization(ctx context.Context) (string, error) {
	const op = "payments.request_authorization"
	s.mu.Lock()
	switch s.state {
	case StateWidgetReady, StateNonceReady, StateNonceError, StateConsumed:
	case StateReleased:
		s.mu.Unlock()
		return "", apperr.New(apperr.KindPaymentUI, op, "", ErrReleased)
	case StateNonceRequested:
		s.mu.Unlock()
		return "", apperr.New(apperr.KindBusy, op, "Your payment method is already being authorized.", nil)
	default:
		st := s.state
		s.mu.Unlock()
		return "", apperr.New(apperr.KindPaymentUI, op, "", fmt.Errorf("payment ui not ready (state %s)", st))
	}
	s.nonce = ""
	s.setState(StateNonceRequested)
	widget := s.widget
	gen := s.gen
	s.mu.Unlock()

	opCtx, done := s.opContext(ctx)
	defer done()

	nonce, err := widget.RequestPaymentMethod(opCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return "", apperr.New(apperr.KindPaymentUI, op, "", ErrReleased)
	}
	if err != nil {
		s.setState(StateNonceError)
		s.logger.Warn("payment authorization failed", "error", err)
		return "", apperr.New(apperr.KindPaymentNonce, op, "", err)
	}
	if _, used := s.handed[nonce]; used || nonce == "" {
		s.setState(StateNonceError)
		return "", apperr.New(apperr.KindPaymentNonce, op, "", fmt.Errorf("processor returned an unusable nonce"))
	}
	s.nonce = nonce
	s.setState(StateNonceReady)
	return nonce, nil
}

// Consume hands the current nonce to the booking coordinator exactly once.
func (s *Session) Consume() (string, error) {
	const op = "payments.consume"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReleased {
		return "", apperr.New(apperr.KindPaymentUI, op, "", ErrReleased)
	}
	if s.state != StateNonceReady || s.nonce == "" {
		return "", apperr.New(apperr.KindPaymentNonce, op, "Please authorize your payment method before booking.", nil)
	}
	nonce := s.nonce
	s.handed[nonce] = struct{}{}
	s.nonce = ""
	s.setState(StateConsumed)
	return nonce, nil
}

// Teardown releases the widget. It is idempotent, and results of widget calls
// still pending when it runs are discarded.
func (s *Session) Teardown(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateReleased {
		s.mu.Unlock()
		return nil
	}
	widget := s.widget
	s.widget = nil
	s.nonce = ""
	s.gen++
	s.setState(StateReleased)
	s.mu.Unlock()

	s.stopLife()
	if widget == nil {
		return nil
	}
	if err := widget.Teardown(ctx); err != nil {
		s.logger.Warn("payment widget teardown failed", "error", err)
		return fmt.Errorf("payments: teardown: %w", err)
	}
	return nil
}

// Use runs fn with s and guarantees Teardown afterwards, whatever fn returns.
func Use(ctx context.Context, s *Session, fn func(*Session) error) (err error) {
	defer func() {
		if terr := s.Teardown(context.WithoutCancel(ctx)); terr != nil && err == nil {
			err = terr
		}
	}()
	return fn(s)
}
