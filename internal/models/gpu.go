package models

type SetPowerLimit struct {
	Watts float64 `json:"watts"`
}

// SetClockOffsets carries the requested offsets in MHz. A nil field keeps
// the device's current value for that offset.
type SetClockOffsets struct {
	CoreMHz   *int `json:"coreMHz"`
	MemoryMHz *int `json:"memoryMHz"`
}

type LockClocks struct {
	MinMHz int `json:"minMHz"`
	MaxMHz int `json:"maxMHz"`
}

type SetFanSpeed struct {
	Percent  int  `json:"percent"`
	FanIndex *int `json:"fanIndex,omitempty"`
}

// FanCurveStart optionally overrides the configured curve. Keys are
// temperatures in Celsius as decimal strings, values are fan percent.
type FanCurveStart struct {
	Points map[string]int `json:"points,omitempty"`
}
