package gvthread

import (
	"errors"
	"testing"
)

func TestInvalidIDPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("invalidID must panic")
		}
		e, ok := r.(*InvalidIDError)
		if !ok {
			t.Fatalf("panic value = %T, want *InvalidIDError", r)
		}
		if e.ID != TaskID(7) {
			t.Errorf("InvalidIDError.ID = %d, want 7", e.ID)
		}
	}()
	invalidID(TaskID(7))
}

func TestMemoryActivationErrorUnwrap(t *testing.T) {
	cause := errors.New("mmap failed")
	err := &MemoryActivationError{ID: TaskID(1), Op: "activate", Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should see through MemoryActivationError.Unwrap to the cause")
	}
}

func TestPanicErrorMessage(t *testing.T) {
	err := newPanicError("boom")
	if err.Error() == "" {
		t.Fatal("PanicError.Error() must not be empty")
	}
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As should recover the *PanicError")
	}
	if pe.Value != "boom" {
		t.Errorf("PanicError.Value = %v, want %q", pe.Value, "boom")
	}
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	if errors.Is(ErrCapacityExceeded, ErrShutdownInProgress) {
		t.Fatal("sentinel errors must be distinct")
	}
}
