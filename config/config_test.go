// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/epdclock/gdeh029a1"
	"github.com/GermanBionicSystems/epdclock/power"
	"github.com/GermanBionicSystems/epdclock/sht3x"
)

const board = `
display:
  spi: SPI0.0
  dc: GPIO25
  cs: GPIO8
  rst: GPIO17
  busy: GPIO24
  mode: Fast
sensor:
  i2c: "1"
  temp_offset: -1.5
  humidity_offset: 2
power:
  standby_source: button
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	require.NoError(t, os.WriteFile(path, []byte(board), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	Normalize(cfg)

	assert.Equal(t, "SPI0.0", cfg.Display.SPI)
	assert.Equal(t, gdeh029a1.Fast, cfg.Mode())
	assert.Equal(t, uint16(0x44), cfg.Sensor.Address)

	d := cfg.DisplayOpts()
	assert.Equal(t, 5*time.Second, d.BusyTimeout)
	assert.Equal(t, 296, d.Width)

	s := cfg.SensorOpts()
	assert.Equal(t, sht3x.High, s.Repeatability)
	assert.Equal(t, -1500*physic.MilliKelvin, s.TempOffset)
	assert.Equal(t, 2*physic.PercentRH, s.HumidityOffset)
	assert.Equal(t, s.TempOffset, cfg.Settings().Temperature)

	p := cfg.PowerOpts()
	assert.Equal(t, power.WakeButton, p.StandbySource)
	assert.Equal(t, 865*time.Millisecond, p.TimerPeriod)
	assert.Equal(t, 999*time.Millisecond, p.RetryDelay)

	f := cfg.FirmwareOpts()
	assert.Equal(t, 60, f.FullRefreshEvery)
	assert.Equal(t, gdeh029a1.Fast, f.Mode)
	assert.Equal(t, 9*time.Millisecond, f.Debounce)
	assert.Equal(t, 10*time.Second, f.ButtonRelease)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	_, err = Parse([]byte("display:\n  colour: red\n"))
	assert.Error(t, err, "unknown keys are rejected")
	_, err = Parse([]byte("display: [\n"))
	assert.Error(t, err)
}

func valid() *Config {
	return &Config{Display: DisplayConfig{SPI: "SPI0.0", DC: "1", CS: "2", RST: "3", Busy: "4"}}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{name: "minimal", mutate: func(c *Config) {}, ok: true},
		{name: "no spi", mutate: func(c *Config) { c.Display.SPI = "" }},
		{name: "no busy", mutate: func(c *Config) { c.Display.Busy = "" }},
		{name: "mode", mutate: func(c *Config) { c.Display.Mode = "slow" }},
		{name: "mode case", mutate: func(c *Config) { c.Display.Mode = "FAST" }, ok: true},
		{name: "busy timeout", mutate: func(c *Config) { c.Display.BusyTimeoutMs = -1 }},
		{name: "address", mutate: func(c *Config) { c.Sensor.Address = 0x80 }},
		{name: "repeatability", mutate: func(c *Config) { c.Sensor.Repeatability = "best" }},
		{name: "temp offset", mutate: func(c *Config) { c.Sensor.TempOffset = 25 }},
		{name: "humidity offset", mutate: func(c *Config) { c.Sensor.HumidityOffset = -60 }},
		{name: "source", mutate: func(c *Config) { c.Power.StandbySource = "timer" }},
		{name: "retry delay", mutate: func(c *Config) { c.Power.RetryDelayMs = -5 }},
		{name: "full refresh", mutate: func(c *Config) { c.Firmware.FullRefreshEvery = 61 }},
		{name: "debounce", mutate: func(c *Config) { c.Firmware.DebounceMs = -1 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			before := *c
			err := Validate(c)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
			assert.Equal(t, before, *c, "Validate must not mutate")
		})
	}
	assert.Error(t, Validate(nil))
}

func TestNormalize(t *testing.T) {
	c := valid()
	c.Display.Mode = "FAST"
	c.Power.StandbySource = "Alarm"
	Normalize(c)
	assert.Equal(t, "fast", c.Display.Mode)
	assert.Equal(t, gdeh029a1.Fast, c.Mode())
	assert.Equal(t, "alarm", c.Power.StandbySource)
	assert.Equal(t, "high", c.Sensor.Repeatability)
	c = valid()
	Normalize(c)
	assert.Equal(t, gdeh029a1.Fast, c.Mode())
	assert.Equal(t, 5000, c.Display.BusyTimeoutMs)
	Normalize(nil)
}
