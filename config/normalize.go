// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"strings"

	"github.com/GermanBionicSystems/epdclock/firmware"
	"github.com/GermanBionicSystems/epdclock/gdeh029a1"
	"github.com/GermanBionicSystems/epdclock/power"
	"github.com/GermanBionicSystems/epdclock/sht3x"
)

// Normalize lowercases the keywords and fills the defaults. It must only
// be called after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	d := &cfg.Display
	d.Mode = lower(d.Mode, "fast")
	if d.BusyTimeoutMs == 0 {
		d.BusyTimeoutMs = int(gdeh029a1.GDEH029A1.BusyTimeout.Milliseconds())
	}

	s := &cfg.Sensor
	if s.Address == 0 {
		s.Address = uint16(sht3x.DefaultAddress)
	}
	s.Repeatability = lower(s.Repeatability, "high")

	p := &cfg.Power
	p.StandbySource = lower(p.StandbySource, "alarm")
	if p.TimerPeriodMs == 0 {
		p.TimerPeriodMs = int(power.DefaultOpts.TimerPeriod.Milliseconds())
	}
	if p.RetryDelayMs == 0 {
		p.RetryDelayMs = int(power.DefaultOpts.RetryDelay.Milliseconds())
	}

	f := &cfg.Firmware
	if f.FullRefreshEvery == 0 {
		f.FullRefreshEvery = firmware.DefaultOpts.FullRefreshEvery
	}
	if f.ButtonReleaseMs == 0 {
		f.ButtonReleaseMs = int(firmware.DefaultOpts.ButtonRelease.Milliseconds())
	}
	if f.DebounceMs == 0 {
		f.DebounceMs = int(firmware.DefaultOpts.Debounce.Milliseconds())
	}
}

func lower(v, def string) string {
	if v == "" {
		return def
	}
	return strings.ToLower(v)
}
