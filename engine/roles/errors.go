package roles

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// TransientError indicates network or model unavailability. The caller may
// retry once without consuming a phase attempt.
type TransientError struct {
	Role  Role
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure invoking role '%s': %v", e.Role, e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a new TransientError.
func NewTransientError(role Role, cause error) *TransientError {
	return &TransientError{Role: role, Cause: cause}
}

// MalformedError indicates the role produced output that failed structural
// validation. It counts as one failed attempt, never as structured data.
type MalformedError struct {
	Role   Role
	Detail string
	Cause  error
}

func (e *MalformedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed response from role '%s': %s: %v", e.Role, e.Detail, e.Cause)
	}
	return fmt.Sprintf("malformed response from role '%s': %s", e.Role, e.Detail)
}

func (e *MalformedError) Unwrap() error {
	return e.Cause
}

// NewMalformedError creates a new MalformedError.
func NewMalformedError(role Role, detail string, cause error) *MalformedError {
	return &MalformedError{Role: role, Detail: detail, Cause: cause}
}

// FatalConfigError indicates a required external capability is missing. The
// workflow aborts immediately, no retries.
type FatalConfigError struct {
	Missing string
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("missing required capability: %s", e.Missing)
}

// NewFatalConfigError creates a new FatalConfigError.
func NewFatalConfigError(missing string) *FatalConfigError {
	return &FatalConfigError{Missing: missing}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsMalformed reports whether err is (or wraps) a MalformedError.
func IsMalformed(err error) bool {
	var m *MalformedError
	return errors.As(err, &m)
}

// IsFatalConfig reports whether err is (or wraps) a FatalConfigError.
func IsFatalConfig(err error) bool {
	var f *FatalConfigError
	return errors.As(err, &f)
}
