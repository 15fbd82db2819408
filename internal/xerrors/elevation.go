package xerrors

import (
	"github.com/pkg/errors"
)

const (
	elevationCancelled = "elevation cancelled"
	elevationTimeout   = "elevation timeout"
	protocolError      = "protocol error"
)

// NewElevationCancelledError reports that the user dismissed the
// authentication dialog. Retryable.
func NewElevationCancelledError() error {
	return errors.New(elevationCancelled)
}

func IsElevationCancelledError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Cause(err).Error() == elevationCancelled
}

// NewElevationTimeoutError reports that the helper did not respond within
// the gateway's timeout. The spawned process is abandoned.
func NewElevationTimeoutError() error {
	return errors.New(elevationTimeout)
}

func IsElevationTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Cause(err).Error() == elevationTimeout
}

// NewProtocolError reports that the helper produced something other than a
// single JSON object on stdout. Treated as a bug signal and surfaced verbatim.
func NewProtocolError() error {
	return errors.New(protocolError)
}

func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Cause(err).Error() == protocolError
}
