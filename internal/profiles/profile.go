// Package profiles persists named tuning profiles as one JSON file per
// record and orchestrates applying them to the device, including the
// crash-safe boot-time apply.
package profiles

import (
	"strings"
	"unicode"
)

// FanMode selects who controls the fans after a profile apply.
type FanMode string

const (
	FanModeAuto   FanMode = "auto"
	FanModeManual FanMode = "manual"
)

// Profile is a named bundle of target hardware settings. Nil pointer
// fields mean "leave unset / skip this step on apply".
type Profile struct {
	Name            string      `json:"name"`
	PowerLimitWatts *float64    `json:"power_limit_watts,omitempty"`
	CoreOffsetMHz   *int        `json:"core_clock_offset_mhz,omitempty"`
	MemoryOffsetMHz *int        `json:"memory_clock_offset_mhz,omitempty"`
	MaxClockMHz     *int        `json:"max_clock_mhz,omitempty"`
	FanMode         FanMode     `json:"fan_mode"`
	FanSpeedPercent *int        `json:"fan_speed_percent,omitempty"`
	FanCurve        map[int]int `json:"fan_curve,omitempty"`
	ApplyOnBoot     bool        `json:"apply_on_boot"`
	CreatedAt       string      `json:"created_at"`
	UpdatedAt       string      `json:"updated_at"`
	Description     string      `json:"description"`
}

// Sanitize derives the stable storage identifier for a profile name:
// alphanumerics, dot, underscore, hyphen and space survive; the result is
// lowercased with spaces turned into underscores. Distinct names can
// collide under this mapping; the last writer wins.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("._- ", r) {
			b.WriteRune(r)
		}
	}
	safe := strings.TrimSpace(b.String())
	safe = strings.ToLower(safe)
	return strings.ReplaceAll(safe, " ", "_")
}

// Builtins are the profiles shipped with the application. They are not
// persisted until explicitly saved.
func Builtins() []*Profile {
	stockCore, stockMem := 0, 0
	quietCore, quietFan := -100, 40
	perfCore, perfMem := 100, 200

	return []*Profile{
		{
			Name:            "Stock",
			CoreOffsetMHz:   &stockCore,
			MemoryOffsetMHz: &stockMem,
			FanMode:         FanModeAuto,
			Description:     "Stock settings - no overclocking",
		},
		{
			Name:            "Quiet",
			CoreOffsetMHz:   &quietCore,
			FanMode:         FanModeManual,
			FanSpeedPercent: &quietFan,
			Description:     "Reduced power and fan noise",
		},
		{
			Name:            "Performance",
			CoreOffsetMHz:   &perfCore,
			MemoryOffsetMHz: &perfMem,
			FanMode:         FanModeAuto,
			Description:     "Moderate overclock for extra performance",
		},
	}
}
