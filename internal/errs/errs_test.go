package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestPolicyError_IsAndAs(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("request loan: %w", NewPolicy(CodeLoanLimit, "limite de %d", 3))
	if !errors.Is(err, ErrPolicy) {
		t.Fatalf("want errors.Is(ErrPolicy)")
	}
	var pe *PolicyError
	if !errors.As(err, &pe) {
		t.Fatalf("want errors.As(*PolicyError)")
	}
	if pe.Code != CodeLoanLimit || pe.Message != "limite de 3" {
		t.Fatalf("unexpected policy error: %+v", pe)
	}
	if errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("policy error must not match ErrInsufficientStock")
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want bool
	}{
		{err: ErrInsufficientStock, want: true},
		{err: fmt.Errorf("x: %w", ErrInvalidTransition), want: true},
		{err: ErrVersionConflict, want: true},
		{err: ErrNotFound, want: false},
		{err: NewPolicy(CodeDuplicateLoan, "dup"), want: false},
		{err: errors.New("boom"), want: false},
	}
	for _, c := range cases {
		if got := IsRetryable(c.err); got != c.want {
			t.Fatalf("IsRetryable(%v)=%v want %v", c.err, got, c.want)
		}
	}
}
