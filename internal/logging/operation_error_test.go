package logging

import (
	"errors"
	"testing"
)

func TestNewOperationErrorNilPassthrough(t *testing.T) {
	if err := NewOperationError("history.append", "s-1", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorMessageAndUnwrap(t *testing.T) {
	base := errors.New("boom")

	err := NewOperationError("history.append", "s-1", base)
	if got := err.Error(); got != "history.append (session_id=s-1): boom" {
		t.Fatalf("unexpected message: %q", got)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to reach the wrapped error")
	}

	err = NewOperationError("history.read", "", base)
	if got := err.Error(); got != "history.read: boom" {
		t.Fatalf("unexpected message: %q", got)
	}
}
