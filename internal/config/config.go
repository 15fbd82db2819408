package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/nvoc-project/nvoc/internal/safety"
)

// Config is the explicit application configuration. It is constructed once
// in main and threaded into components; there is no global config state.
type Config struct {
	GPUIndex          int    `toml:"gpu_index"`
	MonitorIntervalMS int    `toml:"monitor_interval_ms"`
	BootProfileName   string `toml:"boot_profile_name"`

	// Safety overrides for the shipped defaults.
	MaxCoreOffsetMHz    int `toml:"max_core_offset_mhz"`
	MaxMemoryOffsetMHz  int `toml:"max_memory_offset_mhz"`
	MinFanSpeedPercent  int `toml:"min_fan_speed_percent"`
	WarningTempCelsius  int `toml:"warning_temp_celsius"`
	CriticalTempCelsius int `toml:"critical_temp_celsius"`

	// Fan-curve controller tuning.
	FanHysteresisCelsius int `toml:"fan_hysteresis_celsius"`
	FanRampStepPercent   int `toml:"fan_ramp_step_percent"`
	FanIntervalMS        int `toml:"fan_interval_ms"`

	// DefaultFanCurve maps temperature to fan percent. TOML table keys
	// are strings; use FanCurvePoints for the decoded form.
	DefaultFanCurve map[string]int `toml:"default_fan_curve"`

	// ConfigDir holds profiles, the boot-profile record and the crash
	// marker. Derived, not read from the file.
	ConfigDir string `toml:"-"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		GPUIndex:             0,
		MonitorIntervalMS:    1000,
		MaxCoreOffsetMHz:     200,
		MaxMemoryOffsetMHz:   500,
		MinFanSpeedPercent:   30,
		WarningTempCelsius:   80,
		CriticalTempCelsius:  90,
		FanHysteresisCelsius: 3,
		FanRampStepPercent:   5,
		FanIntervalMS:        1500,
		DefaultFanCurve: map[string]int{
			"30": 30,
			"50": 40,
			"60": 50,
			"70": 65,
			"80": 85,
			"85": 100,
		},
		ConfigDir: DefaultConfigDir(),
	}
}

// DefaultConfigDir is ~/.config/nvoc.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/etc", "nvoc")
	}
	return filepath.Join(home, ".config", "nvoc")
}

// NewConfigWithFile loads TOML configuration from name. A missing file is
// not an error; defaults are returned.
func NewConfigWithFile(name string) (*Config, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return NewConfig(string(data))
}

// NewConfig decodes TOML configuration data over the defaults. A curve in
// the file replaces the default curve entirely rather than merging with it.
func NewConfig(data string) (*Config, error) {
	c := Default()
	c.DefaultFanCurve = nil
	md, err := toml.Decode(data, c)
	if err != nil {
		return nil, err
	}
	if !md.IsDefined("default_fan_curve") {
		c.DefaultFanCurve = Default().DefaultFanCurve
	}
	return c, nil
}

// SafetyLimits builds the safety policy value from the configured bounds.
func (c *Config) SafetyLimits() safety.Limits {
	return safety.Limits{
		MaxCoreOffset:   c.MaxCoreOffsetMHz,
		MaxMemoryOffset: c.MaxMemoryOffsetMHz,
		MinFanPercent:   c.MinFanSpeedPercent,
		WarningTemp:     c.WarningTempCelsius,
		CriticalTemp:    c.CriticalTempCelsius,
	}
}

// ProfilesDir is where the profile store keeps its records.
func (c *Config) ProfilesDir() string {
	return filepath.Join(c.ConfigDir, "profiles")
}

// FanCurvePoints returns the default fan curve with integer temperatures.
// Entries with non-numeric keys are skipped.
func (c *Config) FanCurvePoints() map[int]int {
	points := make(map[int]int, len(c.DefaultFanCurve))
	for k, v := range c.DefaultFanCurve {
		t, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		points[t] = v
	}
	return points
}
