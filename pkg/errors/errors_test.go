package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorUnwrapsToSentinel(t *testing.T) {
	err := Newf(ErrNotFound, 404, "announcement %s", "174000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("AppError should unwrap to its sentinel")
	}
	wrapped := fmt.Errorf("handling request: %w", err)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatal("sentinel should survive further wrapping")
	}
}

func TestValidationErrorMessageStable(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{
		"title":    "title is required",
		"org_name": "organization name is required",
	}}
	// Field order is sorted so the message is deterministic.
	first := err.Error()
	for i := 0; i < 10; i++ {
		if err.Error() != first {
			t.Fatal("validation message ordering is unstable")
		}
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatal("ValidationError should unwrap to ErrValidation")
	}
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Newf(ErrNotFound, 404, "x"), http.StatusNotFound},
		{&ValidationError{Fields: map[string]string{"f": "m"}}, http.StatusBadRequest},
		{ErrAlreadyExists, http.StatusConflict},
		{ErrDivergence, http.StatusInternalServerError},
		{ErrStoreNotLoaded, http.StatusServiceUnavailable},
		{errors.New("opaque"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatusCode(tt.err); got != tt.want {
			t.Errorf("HTTPStatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
