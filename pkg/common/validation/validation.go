package validation

import (
	"fmt"
	"time"

	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
)

// ValidatePositive rejects values <= 0.
func ValidatePositive(module, field string, value int) error {
	if value <= 0 {
		return gferrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateNonNegative rejects values < 0.
func ValidateNonNegative(module, field string, value int) error {
	if value < 0 {
		return gferrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 or a positive value")
	}
	return nil
}

// ValidateNotGreater rejects value > limit, where limit is the current
// value of limitField.
func ValidateNotGreater(module, field string, value int, limitField string, limit int) error {
	if value > limit {
		return gferrors.NewValidationError(module, field, value, "cannot exceed "+limitField).
			WithHint(fmt.Sprintf("use a value of at most %d", limit))
	}
	return nil
}

// ValidateNonNegativeDuration rejects negative durations. Zero usually means
// "use the default" or "disabled", depending on the field.
func ValidateNonNegativeDuration(module, field string, value time.Duration) error {
	if value < 0 {
		return gferrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 to disable or a positive duration")
	}
	return nil
}

// ValidateNotNil rejects a nil dependency such as a client or store.
func ValidateNotNil(module, field string, value interface{}) error {
	if value == nil {
		return gferrors.NewValidationError(module, field, nil, "cannot be nil").
			WithHint("provide a valid " + field)
	}
	return nil
}

// ValidateNotEmpty rejects the empty string.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return gferrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}
