// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"strings"
)

// Validate checks cfg. Empty values are accepted, Normalize replaces them
// with the defaults. It does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: empty")
	}

	d := cfg.Display
	for _, p := range []struct{ key, v string }{{"spi", d.SPI}, {"dc", d.DC}, {"cs", d.CS}, {"rst", d.RST}, {"busy", d.Busy}} {
		if p.v == "" {
			return fmt.Errorf("config: display.%s is required", p.key)
		}
	}
	if err := oneOf("display.mode", d.Mode, modes); err != nil {
		return err
	}
	if d.BusyTimeoutMs < 0 {
		return fmt.Errorf("config: display.busy_timeout_ms must not be negative")
	}

	s := cfg.Sensor
	if s.Address > 0x7F {
		return fmt.Errorf("config: sensor.address %#x is not a 7-bit address", s.Address)
	}
	if err := oneOf("sensor.repeatability", s.Repeatability, repeatabilities); err != nil {
		return err
	}
	if s.TempOffset < -20 || s.TempOffset > 20 {
		return fmt.Errorf("config: sensor.temp_offset %g°C is out of range", s.TempOffset)
	}
	if s.HumidityOffset < -50 || s.HumidityOffset > 50 {
		return fmt.Errorf("config: sensor.humidity_offset %g%% is out of range", s.HumidityOffset)
	}

	p := cfg.Power
	if err := oneOf("power.standby_source", p.StandbySource, sources); err != nil {
		return err
	}
	if p.TimerPeriodMs < 0 || p.RetryDelayMs < 0 {
		return fmt.Errorf("config: power durations must not be negative")
	}

	f := cfg.Firmware
	if f.FullRefreshEvery < 0 || f.FullRefreshEvery > 60 {
		return fmt.Errorf("config: firmware.full_refresh_every must be within [0, 60]")
	}
	if f.ButtonReleaseMs < 0 || f.DebounceMs < 0 {
		return fmt.Errorf("config: firmware durations must not be negative")
	}
	return nil
}

func oneOf[T any](key, v string, valid map[string]T) error {
	if v == "" {
		return nil
	}
	if _, ok := valid[strings.ToLower(v)]; !ok {
		return fmt.Errorf("config: %s %q is not valid", key, v)
	}
	return nil
}
