// Package validation provides common validation utilities for configuration
// parameters across the tokenflow library.
//
// Every helper returns a *errors.ValidationError, so constructors can return
// the result directly and callers can match on errors.ErrInvalidConfiguration.
package validation
