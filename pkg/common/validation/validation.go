package validation

import (
	"math"
	"strconv"
	"time"

	tferrors "github.com/vnykmshr/tokenflow/pkg/common/errors"
)

// ValidatePositive validates that an integer value is positive (> 0).
// Returns a ValidationError if the value is not positive.
func ValidatePositive(module, field string, value int) error {
	if value <= 0 {
		return tferrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidatePositiveFloat validates that a float64 value is positive (> 0) and finite.
// Returns a ValidationError otherwise.
func ValidatePositiveFloat(module, field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return tferrors.NewValidationError(module, field, value, "must be finite")
	}
	if value <= 0 {
		return tferrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateAtLeast validates that a finite float64 value is >= min.
func ValidateAtLeast(module, field string, value, min float64) error {
	if err := ValidatePositiveFloat(module, field, value); err != nil {
		return err
	}
	if value < min {
		return tferrors.NewValidationError(module, field, value, "too small").
			WithHint("value must be at least " + formatFloat(min))
	}
	return nil
}

// ValidatePositiveDuration validates that a duration is positive (> 0).
func ValidatePositiveDuration(module, field string, value time.Duration) error {
	if value <= 0 {
		return tferrors.NewValidationError(module, field, value, "must be positive").
			WithHint("use a duration greater than 0")
	}
	return nil
}

// ValidateDurationOrder validates that lower <= upper. The error is reported
// against lowerField.
func ValidateDurationOrder(module, lowerField, upperField string, lower, upper time.Duration) error {
	if lower > upper {
		return tferrors.NewValidationError(module, lowerField, lower, "exceeds "+upperField).
			WithHint(lowerField + " must not be greater than " + upperField)
	}
	return nil
}

// ValidateDurationUnit validates that a duration is a whole multiple of unit.
func ValidateDurationUnit(module, field string, value, unit time.Duration) error {
	if value%unit != 0 {
		return tferrors.NewValidationError(module, field, value, "not a whole number of "+unitName(unit)).
			WithHint("round " + field + " to a multiple of " + unit.String())
	}
	return nil
}

// ValidateRange validates that min <= value <= max.
func ValidateRange(module, field string, value, min, max int64) error {
	if value < min || value > max {
		return tferrors.NewValidationError(module, field, value, "out of range").
			WithHint("value must be between " + strconv.FormatInt(min, 10) + " and " + strconv.FormatInt(max, 10))
	}
	return nil
}

// ValidateNotEmpty validates that a string value is not empty.
// Returns a ValidationError if the string is empty.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return tferrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}

func unitName(unit time.Duration) string {
	switch unit {
	case time.Millisecond:
		return "milliseconds"
	case time.Second:
		return "seconds"
	}
	return "units of " + unit.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
