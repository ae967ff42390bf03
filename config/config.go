// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config reads the board description used by the host runner.
//
// A file is used in three steps: Load decodes it, Validate checks it
// without changing it and Normalize fills the defaults. The Opts methods
// then return the driver configurations.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/epdclock/firmware"
	"github.com/GermanBionicSystems/epdclock/gdeh029a1"
	"github.com/GermanBionicSystems/epdclock/power"
	"github.com/GermanBionicSystems/epdclock/sht3x"
)

// Config is the whole file.
type Config struct {
	Display  DisplayConfig  `yaml:"display"`
	Sensor   SensorConfig   `yaml:"sensor"`
	Power    PowerConfig    `yaml:"power"`
	Firmware FirmwareConfig `yaml:"firmware"`
}

// DisplayConfig describes the panel wiring. Pins are gpioreg names.
type DisplayConfig struct {
	SPI     string `yaml:"spi"`
	DC      string `yaml:"dc"`
	CS      string `yaml:"cs"`
	RST     string `yaml:"rst"`
	Busy    string `yaml:"busy"`
	Power   string `yaml:"power"`    // Optional, active low
	BusyLED string `yaml:"busy_led"` // Optional
	// Mode is the waveform of the refreshes after a wake up: full, partial
	// or fast. Partial needs the panel powered across the wake up and is a
	// full refresh otherwise.
	Mode          string `yaml:"mode"`
	BusyTimeoutMs int    `yaml:"busy_timeout_ms"`
}

// SensorConfig describes the humidity sensor. An empty I2C disables it.
type SensorConfig struct {
	I2C string `yaml:"i2c"`
	// RTC is set when a DS3231 shares the bus.
	RTC           bool   `yaml:"rtc"`
	Address       uint16 `yaml:"address"`
	Repeatability string `yaml:"repeatability"` // high, medium or low
	// Calibration offsets, in °C and %RH.
	TempOffset     float64 `yaml:"temp_offset"`
	HumidityOffset float64 `yaml:"humidity_offset"`
}

// PowerConfig is the power manager configuration.
type PowerConfig struct {
	StandbySource string `yaml:"standby_source"` // alarm or button
	TimerPeriodMs int    `yaml:"timer_period_ms"`
	RetryDelayMs  int    `yaml:"retry_delay_ms"`
}

// FirmwareConfig is the application configuration.
type FirmwareConfig struct {
	FullRefreshEvery int `yaml:"full_refresh_every"`
	ButtonReleaseMs  int `yaml:"button_release_ms"`
	DebounceMs       int `yaml:"debounce_ms"`
}

// Load decodes the file at path. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes raw.
func Parse(raw []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

var modes = map[string]gdeh029a1.Mode{
	"full":    gdeh029a1.Full,
	"partial": gdeh029a1.Partial,
	"fast":    gdeh029a1.Fast,
}

var repeatabilities = map[string]sht3x.Repeatability{
	"high":   sht3x.High,
	"medium": sht3x.Medium,
	"low":    sht3x.Low,
}

var sources = map[string]power.Wake{
	"alarm":  power.WakeAlarm,
	"button": power.WakeButton,
}

// Mode returns the waveform of the refreshes after a wake up.
func (c *Config) Mode() gdeh029a1.Mode {
	return modes[c.Display.Mode]
}

// DisplayOpts returns the panel configuration.
func (c *Config) DisplayOpts() gdeh029a1.Opts {
	o := gdeh029a1.GDEH029A1
	o.BusyTimeout = ms(c.Display.BusyTimeoutMs)
	return o
}

// SensorOpts returns the sensor configuration.
func (c *Config) SensorOpts() sht3x.Opts {
	t, rh := c.offsets()
	return sht3x.Opts{Repeatability: repeatabilities[c.Sensor.Repeatability], TempOffset: t, HumidityOffset: rh}
}

// PowerOpts returns the power manager configuration.
func (c *Config) PowerOpts() power.Opts {
	o := power.DefaultOpts
	o.StandbySource = sources[c.Power.StandbySource]
	o.TimerPeriod = ms(c.Power.TimerPeriodMs)
	o.RetryDelay = ms(c.Power.RetryDelayMs)
	return o
}

// FirmwareOpts returns the application configuration.
func (c *Config) FirmwareOpts() firmware.Opts {
	o := firmware.DefaultOpts
	o.FullRefreshEvery = c.Firmware.FullRefreshEvery
	o.Mode = c.Mode()
	o.ButtonRelease = ms(c.Firmware.ButtonReleaseMs)
	o.Debounce = ms(c.Firmware.DebounceMs)
	return o
}

// Settings returns the calibration offsets.
func (c *Config) Settings() firmware.Offsets {
	t, rh := c.offsets()
	return firmware.Offsets{Temperature: t, Humidity: rh}
}

func (c *Config) offsets() (physic.Temperature, physic.RelativeHumidity) {
	return physic.Temperature(c.Sensor.TempOffset * float64(physic.Kelvin)),
		physic.RelativeHumidity(c.Sensor.HumidityOffset * float64(physic.PercentRH))
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
