package xerrors

import (
	"github.com/pkg/errors"
)

const (
	deviceUnavailable   = "device unavailable"
	permissionDenied    = "permission denied"
	thermalGuardTripped = "thermal guard tripped"
)

// NewDeviceUnavailableError reports that NVML is not initialized, no
// compatible device exists, or the requested index is out of range.
// Fatal to the calling session.
func NewDeviceUnavailableError() error {
	return errors.New(deviceUnavailable)
}

func IsDeviceUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Cause(err).Error() == deviceUnavailable
}

// NewPermissionDeniedError reports a write attempted without sufficient
// privilege. Recoverable by re-running through the elevated helper.
func NewPermissionDeniedError() error {
	return errors.New(permissionDenied)
}

func IsPermissionDeniedError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Cause(err).Error() == permissionDenied
}

// NewThermalGuardTrippedError reports an offset write refused because the
// GPU is at or above the critical temperature. This is a hard failure,
// never silently downgraded to a clamp.
func NewThermalGuardTrippedError() error {
	return errors.New(thermalGuardTripped)
}

func IsThermalGuardTrippedError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Cause(err).Error() == thermalGuardTripped
}
