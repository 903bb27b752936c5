package bookings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/carebook/internal/schedule"
)

// Outcome is the recorded result of a submission attempt.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeConflict  Outcome = "conflict"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	// OutcomeUnknown means the request was sent but no response was read.
	OutcomeUnknown Outcome = "unknown"
)

var (
	// ErrNonceReused is returned when a nonce already backs another attempt.
	ErrNonceReused = errors.New("bookings: payment nonce already submitted")
	// ErrAttemptNotFound is returned for an unknown idempotency key.
	ErrAttemptNotFound = errors.New("bookings: attempt not found")
)

// Attempt is one booking-plus-payment submission. The nonce itself is never
// stored, only its hash.
type Attempt struct {
	IdempotencyKey  string
	PatientID       string
	ScheduleID      string
	AppointmentDate time.Time
	SlotStart       schedule.Clock
	NonceHash       string
	Outcome         Outcome
	BookingID       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Ledger records submission attempts so a nonce backs at most one request.
type Ledger interface {
	Claim(ctx context.Context, a *Attempt) error
	Resolve(ctx context.Context, idempotencyKey string, outcome Outcome, bookingID string) error
	Get(ctx context.Context, idempotencyKey string) (*Attempt, error)
}

// HashNonce returns the hex sha256 of a payment nonce.
func HashNonce(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists attempts in booking_attempts.
type Repository struct {
	db  DB
	now func() time.Time
}

// NewRepository creates a ledger backed by db.
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("bookings: db required")
	}
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Claim inserts a pending attempt. A nonce hash seen before yields ErrNonceReused.
func (r *Repository) Claim(ctx context.Context, a *Attempt) error {
	now := r.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Outcome == "" {
		a.Outcome = OutcomePending
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO booking_attempts (idempotency_key, patient_id, schedule_id, appointment_date, slot_start, nonce_hash, outcome, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (nonce_hash) DO NOTHING`,
		a.IdempotencyKey, a.PatientID, a.ScheduleID, a.AppointmentDate, a.SlotStart.String(),
		a.NonceHash, string(a.Outcome), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("bookings: claim attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNonceReused
	}
	return nil
}

// Resolve records the final outcome of an attempt.
func (r *Repository) Resolve(ctx context.Context, idempotencyKey string, outcome Outcome, bookingID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE booking_attempts
		SET outcome = $2, booking_id = NULLIF($3, ''), updated_at = $4
		WHERE idempotency_key = $1`,
		idempotencyKey, string(outcome), bookingID, r.now(),
	)
	if err != nil {
		return fmt.Errorf("bookings: resolve attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// Get loads one attempt.
func (r *Repository) Get(ctx context.Context, idempotencyKey string) (*Attempt, error) {
	var (
		a         Attempt
		slot      string
		outcome   string
		bookingID *string
	)
	err := r.db.QueryRow(ctx, `
		SELECT idempotency_key, patient_id, schedule_id, appointment_date, slot_start, nonce_hash, outcome, booking_id, created_at, updated_at
		FROM booking_attempts
		WHERE idempotency_key = $1`, idempotencyKey,
	).Scan(&a.IdempotencyKey, &a.PatientID, &a.ScheduleID, &a.AppointmentDate, &slot, &a.NonceHash, &outcome, &bookingID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("bookings: get attempt: %w", err)
	}
	clock, err := schedule.ParseClock(slot)
	if err != nil {
		return nil, fmt.Errorf("bookings: get attempt: %w", err)
	}
	a.SlotStart = clock
	a.Outcome = Outcome(outcome)
	if bookingID != nil {
		a.BookingID = *bookingID
	}
	return &a, nil
}

// ForPatient lists the patient's attempts, newest first.
func (r *Repository) ForPatient(ctx context.Context, patientID string, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT idempotency_key, schedule_id, appointment_date, slot_start, outcome, booking_id, created_at
		FROM booking_attempts
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, patientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("bookings: list attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a         Attempt
			slot      string
			outcome   string
			bookingID *string
		)
		if err := rows.Scan(&a.IdempotencyKey, &a.ScheduleID, &a.AppointmentDate, &slot, &outcome, &bookingID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("bookings: scan attempt: %w", err)
		}
		if a.SlotStart, err = schedule.ParseClock(slot); err != nil {
			return nil, fmt.Errorf("bookings: scan attempt: %w", err)
		}
		a.PatientID = patientID
		a.Outcome = Outcome(outcome)
		if bookingID != nil {
			a.BookingID = *bookingID
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: list attempts: %w", err)
	}
	return out, nil
}

// MemoryLedger is a process-local Ledger used when no database is configured.
type MemoryLedger struct {
	mu      sync.Mutex
	byKey   map[string]*Attempt
	byNonce map[string]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{byKey: make(map[string]*Attempt), byNonce: make(map[string]string)}
}

func (m *MemoryLedger) Claim(ctx context.Context, a *Attempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byNonce[a.NonceHash]; ok {
		return ErrNonceReused
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.Outcome == "" {
		a.Outcome = OutcomePending
	}
	cp := *a
	m.byKey[a.IdempotencyKey] = &cp
	m.byNonce[a.NonceHash] = a.IdempotencyKey
	return nil
}

func (m *MemoryLedger) Resolve(ctx context.Context, idempotencyKey string, outcome Outcome, bookingID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byKey[idempotencyKey]
	if !ok {
		return ErrAttemptNotFound
	}
	a.Outcome = outcome
	a.BookingID = bookingID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryLedger) Get(ctx context.Context, idempotencyKey string) (*Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byKey[idempotencyKey]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	cp := *a
	return &cp, nil
}

var (
	_ Ledger = (*Repository)(nil)
	_ Ledger = (*MemoryLedger)(nil)
)
