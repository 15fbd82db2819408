package xerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

const profileNotFound = "profile not found"

func NewProfileNotFoundError() error {
	return errors.New(profileNotFound)
}

func IsProfileNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Cause(err).Error() == profileNotFound
}

// PartialApplyError reports a multi-step apply that failed after earlier
// steps already succeeded. Earlier steps are not rolled back; Step names
// the one that failed.
type PartialApplyError struct {
	Step string
	Err  error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("apply failed at step %q: %v", e.Step, e.Err)
}

func (e *PartialApplyError) Unwrap() error { return e.Err }

func NewPartialApplyError(step string, err error) error {
	return &PartialApplyError{Step: step, Err: err}
}

func IsPartialApplyError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := errors.Cause(err).(*PartialApplyError)
	return ok
}

// AsPartialApplyError returns the typed error when err is one.
func AsPartialApplyError(err error) (*PartialApplyError, bool) {
	if err == nil {
		return nil, false
	}
	pe, ok := errors.Cause(err).(*PartialApplyError)
	return pe, ok
}
