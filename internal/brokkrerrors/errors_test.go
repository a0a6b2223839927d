package brokkrerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusOfMapsKindsToHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{Unauthorized, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{Validation, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Conflict, http.StatusConflict},
		{ResourceExhausted, http.StatusServiceUnavailable},
		{TransientExternal, http.StatusBadGateway},
		{FatalIntegrity, http.StatusUnprocessableEntity},
	}
	for _, c := range cases {
		if got := StatusOf(New(c.kind, "x")); got != c.want {
			t.Errorf("StatusOf(%s) = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestStatusOfUnclassifiedErrorIs500(t *testing.T) {
	if got := StatusOf(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unclassified error, got %d", got)
	}
}

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", Wrap(NotFound, "stack not found", errors.New("pgx: no rows")))
	kind, ok := KindOf(wrapped)
	if !ok || kind != NotFound {
		t.Fatalf("expected NotFound, got %s (ok=%v)", kind, ok)
	}
}

func TestSafeMessageOfNeverLeaksWrappedCause(t *testing.T) {
	cause := errors.New("pq: duplicate key value violates unique constraint")
	err := Wrap(Conflict, "stack name already exists", cause)

	msg, ok := SafeMessageOf(err)
	if !ok {
		t.Fatal("expected SafeMessageOf to recognize a typed error")
	}
	if msg != "stack name already exists" {
		t.Fatalf("unexpected safe message: %q", msg)
	}

	full := err.Error()
	if full == msg {
		t.Fatal("Error() should still include the wrapped cause for logs")
	}
}

func TestSafeMessageOfUnclassifiedErrorIsNotOK(t *testing.T) {
	if _, ok := SafeMessageOf(errors.New("boom")); ok {
		t.Fatal("expected ok=false for an unclassified error")
	}
}

func TestIsMatchesOnlyItsOwnKind(t *testing.T) {
	err := New(Validation, "bad input")
	if !Is(err, Validation) {
		t.Fatal("expected Is to match its own kind")
	}
	if Is(err, NotFound) {
		t.Fatal("expected Is to reject a different kind")
	}
}
