package routers

type ResCode int64

const (
	CodeSuccess       ResCode = 200
	CodeServeBusy     ResCode = 500
	CodeInvalidParams ResCode = 1000

	CodeGpuGetInfoFailed     ResCode = 1001
	CodeGpuGetStatsFailed    ResCode = 1002
	CodeGpuListFailed        ResCode = 1003
	CodeGpuSetPowerFailed    ResCode = 1004
	CodeGpuSetOffsetsFailed  ResCode = 1005
	CodeGpuThermalGuard      ResCode = 1006
	CodeGpuLockClocksFailed  ResCode = 1007
	CodeGpuResetClocksFailed ResCode = 1008
	CodeGpuResetPeakFailed   ResCode = 1009
	CodeElevationCancelled   ResCode = 1010
	CodeElevationTimeout     ResCode = 1011
	CodeGpuGetPowerFailed    ResCode = 1012
	CodeGpuGetOffsetsFailed  ResCode = 1013

	CodeFanGetStateFailed  ResCode = 1020
	CodeFanSetSpeedFailed  ResCode = 1021
	CodeFanSetAutoFailed   ResCode = 1022
	CodeFanCurveInvalid    ResCode = 1023
	CodeFanCurveStopFailed ResCode = 1024

	CodeProfileNameCannotBeEmpty ResCode = 1030
	CodeProfileNotFound          ResCode = 1031
	CodeProfileSaveFailed        ResCode = 1032
	CodeProfileDeleteFailed      ResCode = 1033
	CodeProfileListFailed        ResCode = 1034
	CodeProfileApplyFailed       ResCode = 1035
	CodeProfileExportFailed      ResCode = 1036
	CodeProfileImportFailed      ResCode = 1037
	CodeBootProfileFailed        ResCode = 1038
)

var codeMsgMap = map[ResCode]string{
	CodeSuccess:       "Success",
	CodeServeBusy:     "Server busy",
	CodeInvalidParams: "Failed to parse body",

	CodeGpuGetInfoFailed:     "Failed to get GPU info",
	CodeGpuGetStatsFailed:    "Failed to get GPU stats",
	CodeGpuListFailed:        "Failed to list GPUs",
	CodeGpuSetPowerFailed:    "Failed to set power limit",
	CodeGpuSetOffsetsFailed:  "Failed to set clock offsets",
	CodeGpuThermalGuard:      "Overclock refused, GPU temperature is at or above the critical threshold",
	CodeGpuLockClocksFailed:  "Failed to lock GPU clocks",
	CodeGpuResetClocksFailed: "Failed to reset GPU clocks",
	CodeGpuResetPeakFailed:   "Failed to reset peak clock",
	CodeElevationCancelled:   "Authorization dialog was dismissed",
	CodeElevationTimeout:     "Authorization timed out",
	CodeGpuGetPowerFailed:    "Failed to get power limits",
	CodeGpuGetOffsetsFailed:  "Failed to get clock offsets",

	CodeFanGetStateFailed:  "Failed to get fan state",
	CodeFanSetSpeedFailed:  "Failed to set fan speed",
	CodeFanSetAutoFailed:   "Failed to return fans to automatic control",
	CodeFanCurveInvalid:    "Fan curve must contain at least one point with temp 0-120 and percent 0-100",
	CodeFanCurveStopFailed: "Failed to stop fan curve loop",

	CodeProfileNameCannotBeEmpty: "Profile name cannot be empty",
	CodeProfileNotFound:          "Profile not found",
	CodeProfileSaveFailed:        "Failed to save profile",
	CodeProfileDeleteFailed:      "Failed to delete profile",
	CodeProfileListFailed:        "Failed to list profiles",
	CodeProfileApplyFailed:       "Failed to apply profile",
	CodeProfileExportFailed:      "Failed to export profile",
	CodeProfileImportFailed:      "Failed to import profile",
	CodeBootProfileFailed:        "Failed to update the boot profile",
}

func (c ResCode) Msg() string {
	msg, ok := codeMsgMap[c]
	if !ok {
		msg = codeMsgMap[CodeServeBusy]
	}
	return msg
}
