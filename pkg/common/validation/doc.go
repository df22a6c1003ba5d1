// Package validation holds the checks that config constructors in powerpool
// run before building anything: pool thread counts, scheduler tick and
// capacity settings, and result store client and TTL settings.
//
// Every failure is a *errors.ValidationError carrying the module and field
// name, so callers can match ErrInvalidConfiguration:
//
//	if err := validation.ValidatePositive("powerpool", "MaxThreads", n); err != nil {
//		return nil, err
//	}
package validation
