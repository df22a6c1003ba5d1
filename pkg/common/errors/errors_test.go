package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrClosed, "resource is closed"},
		{ErrCapacityExceeded, "capacity exceeded"},
		{ErrInvalidConfiguration, "invalid configuration"},
		{ErrCycleDetected, "cycle detected"},
		{ErrDuplicateWorkID, "duplicate work id"},
		{ErrWorkRejected, "work rejected"},
		{ErrWorkNotFound, "work not found"},
		{ErrWorkPending, "work result pending"},
		{ErrDependencyFailed, "dependency failed"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "without hint",
			err:  NewValidationError("powerpool", "MaxThreads", -1, "must be positive"),
			want: "powerpool: invalid MaxThreads=-1 (must be positive)",
		},
		{
			name: "with hint",
			err: NewValidationError("scheduler", "Cron", "* *", "invalid cron expression").
				WithHint("use 5 or 6 fields"),
			want: "scheduler: invalid Cron=* * (invalid cron expression) - use 5 or 6 fields",
		},
		{
			name: "nil value",
			err:  NewValidationError("redisstore", "Redis", nil, "cannot be nil"),
			want: "redisstore: invalid Redis=<nil> (cannot be nil)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !errors.Is(tt.err, ErrInvalidConfiguration) {
				t.Error("validation errors should match ErrInvalidConfiguration")
			}
		})
	}
}

func TestWithHintChains(t *testing.T) {
	err := NewValidationError("powerpool", "MinThreads", 9, "cannot exceed MaxThreads")
	if got := err.WithHint("lower MinThreads"); got != err {
		t.Fatal("WithHint should return the receiver")
	}
	if err.Hint != "lower MinThreads" {
		t.Errorf("Hint = %q", err.Hint)
	}
}

func TestOperationError(t *testing.T) {
	err := NewOperationError("powerpool", "Submit", ErrWorkRejected)
	if got, want := err.Error(), "powerpool.Submit failed: work rejected"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	if err.WithContext("id=7") != err {
		t.Fatal("WithContext should return the receiver")
	}
	if got, want := err.Error(), "powerpool.Submit failed: work rejected (id=7)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	if !errors.Is(err, ErrWorkRejected) {
		t.Error("operation errors should unwrap to their cause")
	}
	if errors.Is(err, ErrWorkPending) {
		t.Error("operation error should not match an unrelated sentinel")
	}
}

func TestCycleError(t *testing.T) {
	err := &CycleError{Graph: "group", Path: []string{"a", "b", "a"}}
	if got, want := err.Error(), "group graph: cycle detected: a -> b -> a"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrCycleDetected) {
		t.Error("cycle errors should match ErrCycleDetected")
	}

	wrapped := NewOperationError("powerpool", "AddChild", err)
	if !IsCycleError(wrapped) {
		t.Error("IsCycleError should see through OperationError")
	}
	var cerr *CycleError
	if !errors.As(wrapped, &cerr) || len(cerr.Path) != 3 {
		t.Errorf("errors.As = %v", cerr)
	}
	if IsCycleError(ErrCycleDetected) {
		t.Error("the bare sentinel is not a CycleError")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rejected", ErrWorkRejected, true},
		{"pending", ErrWorkPending, true},
		{"capacity", ErrCapacityExceeded, true},
		{"wrapped rejection", NewOperationError("powerpool", "Submit", ErrWorkRejected), true},
		{"fmt wrapped pending", fmt.Errorf("fetch: %w", ErrWorkPending), true},
		{"closed", ErrClosed, false},
		{"not found", ErrWorkNotFound, false},
		{"validation", NewValidationError("m", "f", 0, "bad"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsValidationError(t *testing.T) {
	verr := NewValidationError("powerpool", "KeepAlive", -1, "cannot be negative")
	if !IsValidationError(verr) {
		t.Error("direct ValidationError not recognised")
	}
	if !IsValidationError(fmt.Errorf("config: %w", verr)) {
		t.Error("wrapped ValidationError not recognised")
	}
	if IsValidationError(ErrInvalidConfiguration) {
		t.Error("the bare sentinel is not a ValidationError")
	}
	if IsValidationError(nil) {
		t.Error("nil is not a ValidationError")
	}
}
