package gateway

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvoc-project/nvoc/internal/xerrors"
)

func TestParseHelperResponse_Success(t *testing.T) {
	resp, err := parseHelperResponse(`{"success": true, "power_limit": 250.0}`, "", 0, nil)
	require.NoError(t, err)
	assert.True(t, resp.Success())
	assert.Equal(t, 250.0, resp.Float("power_limit", 0))
	assert.Equal(t, 250, resp.Int("power_limit", 0))
}

func TestParseHelperResponse_HelperReportedError(t *testing.T) {
	_, err := parseHelperResponse(`{"success": false, "error": "set power limit: Insufficient Permissions"}`, "", 1, errors.New("exit status 1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Insufficient Permissions")
}

func TestParseHelperResponse_Dismissed(t *testing.T) {
	// pkexec's dismissal exit code
	_, err := parseHelperResponse("", "", 126, errors.New("exit status 126"))
	require.Error(t, err)
	assert.True(t, xerrors.IsElevationCancelledError(err))

	// some pkexec builds exit 127 but say so on stderr
	_, err = parseHelperResponse("", "Error executing command: Request dismissed", 127, errors.New("exit status 127"))
	require.Error(t, err)
	assert.True(t, xerrors.IsElevationCancelledError(err))
}

func TestParseHelperResponse_Timeout(t *testing.T) {
	_, err := parseHelperResponse("", "", -1, errors.New("command timed out after 30s"))
	require.Error(t, err)
	assert.True(t, xerrors.IsElevationTimeoutError(err))
}

func TestParseHelperResponse_NonJSON(t *testing.T) {
	_, err := parseHelperResponse("Traceback (most recent call last):", "", 0, nil)
	require.Error(t, err)
	assert.True(t, xerrors.IsProtocolError(err))
}

func TestParseHelperResponse_NonZeroWithOutput(t *testing.T) {
	// a helper that ran but failed still answers on stdout
	_, err := parseHelperResponse(`{"success": false, "error": "unknown command: frob"}`, "", 1, errors.New("exit status 1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
	assert.False(t, xerrors.IsElevationCancelledError(err))
}

func TestParseHelperResponse_FailureWithoutOutput(t *testing.T) {
	_, err := parseHelperResponse("", "pkexec: not found", 127, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit code 127")
}

func TestResponseAccessors(t *testing.T) {
	resp := Response{
		"success": true,
		"applied": float64(55),
		"reason":  "crash_recovery",
	}

	assert.Equal(t, 55, resp.Int("applied", 0))
	assert.Equal(t, 55.0, resp.Float("applied", 0))
	assert.Equal(t, "crash_recovery", resp.String("reason", ""))

	// fallbacks for missing or mistyped fields
	assert.Equal(t, 7, resp.Int("missing", 7))
	assert.Equal(t, "x", resp.String("applied", "x"))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'{"name":"My Profile"}'`, shellQuote(`{"name":"My Profile"}`))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
