package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ollama/ollama/api"
)

// ErrUnavailable is wrapped when the backend cannot be reached at all.
var ErrUnavailable = errors.New("inference backend unavailable")

// BackendError is returned for any non-2xx response from the backend.
type BackendError struct {
	Op     string
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		body = http.StatusText(e.Status)
	}
	return fmt.Sprintf("ollama %s: status %d: %s", e.Op, e.Status, body)
}

// Retryable reports whether the failure is server side. Nothing in this
// package retries; callers decide.
func (e *BackendError) Retryable() bool {
	return e.Status >= http.StatusInternalServerError
}

// TimeoutError is returned when a deadline or client timeout expires.
type TimeoutError struct {
	Op    string
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ollama %s: timed out: %v", e.Op, e.Cause)
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// IsTimeout reports whether err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Classify maps transport level failures onto the error taxonomy.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var be *BackendError
	if errors.As(err, &be) {
		return err
	}

	var se api.StatusError
	if errors.As(err, &se) {
		body := se.ErrorMessage
		if body == "" {
			body = se.Status
		}
		return &BackendError{Op: op, Status: se.StatusCode, Body: body}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("ollama %s: %w", op, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("ollama %s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("ollama %s: %w", op, err)
}
