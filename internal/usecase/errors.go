package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"storefront-backend/internal/domain"
)

// Error kinds exposed to callers. Values are stable and safe to show.
const (
	KindValidation   = "validation"
	KindNotFound     = "not_found"
	KindConflict     = "conflict"
	KindState        = "state"
	KindUnauthorized = "unauthorized"
	KindPersistence  = "persistence"
)

type ErrValidation string

func (e ErrValidation) Error() string { return string(e) }

type ErrNotFound string

func (e ErrNotFound) Error() string { return string(e) + " not found" }

type ErrConflict string

func (e ErrConflict) Error() string { return string(e) }

type ErrState string

func (e ErrState) Error() string { return string(e) }

type ErrUnauthorized string

func (e ErrUnauthorized) Error() string { return string(e) }

var (
	ErrInsufficientStock  = ErrConflict("insufficient stock")
	ErrIdempotencyReuse   = ErrConflict("idempotency key reused with a different request")
	ErrOTPNotFound        = ErrNotFound("active otp")
	ErrOTPExpired         = ErrState("otp expired")
	ErrOTPTooManyAttempts = ErrState("otp attempt limit reached")
	ErrOTPMismatch        = ErrState("otp mismatch")
	ErrOrderNotCancelable = ErrState("order cannot be cancelled in its current status")
	ErrInvalidToken       = ErrUnauthorized("invalid or expired token")
)

// ErrWait is returned when an operation is rate limited.
type ErrWait struct {
	RetryAfter time.Duration
}

func (e *ErrWait) Error() string {
	return fmt.Sprintf("please wait %d seconds before requesting a new code", e.Seconds())
}

// Seconds is RetryAfter rounded up to whole seconds, never below 1.
func (e *ErrWait) Seconds() int {
	return max(int(math.Ceil(e.RetryAfter.Seconds())), 1)
}

// PersistenceError hides the store failure from Error() while keeping it
// available to errors.Is/As and logs.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + " failed" }

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Cause() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &PersistenceError{Op: op + " (timeout)", Err: err}
	}
	return &PersistenceError{Op: op, Err: err}
}

// domainErr passes through errors that already carry a kind and wraps
// everything else as a persistence failure.
func domainErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindPersistence {
		return err
	}
	if errors.Is(err, domain.ErrRecordNotFound) {
		return ErrNotFound(op)
	}
	return persistence(op, err)
}

func KindOf(err error) string {
	var (
		v  ErrValidation
		nf ErrNotFound
		c  ErrConflict
		s  ErrState
		u  ErrUnauthorized
		w  *ErrWait
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &v):
		return KindValidation
	case errors.As(err, &nf):
		return KindNotFound
	case errors.As(err, &c), errors.As(err, &w):
		return KindConflict
	case errors.As(err, &s):
		return KindState
	case errors.As(err, &u):
		return KindUnauthorized
	}
	return KindPersistence
}

// Message returns the text that may be shown to a caller.
func Message(err error) string {
	if KindOf(err) == KindPersistence {
		var pe *PersistenceError
		if errors.As(err, &pe) {
			return pe.Error()
		}
		return "internal error"
	}
	return err.Error()
}
