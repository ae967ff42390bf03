// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/epdclock/config"
	"github.com/GermanBionicSystems/epdclock/ds3231"
	"github.com/GermanBionicSystems/epdclock/firmware"
	"github.com/GermanBionicSystems/epdclock/gdeh029a1"
	"github.com/GermanBionicSystems/epdclock/sht3x"
	"github.com/GermanBionicSystems/epdclock/tick"
)

// runHost drives the board described in the file at path. There is no
// power manager on a host: the cycle runs once and returns.
func runHost(log logrus.FieldLogger, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	config.Normalize(cfg)

	if _, err := host.Init(); err != nil {
		return err
	}

	port, err := spireg.Open(cfg.Display.SPI)
	if err != nil {
		return fmt.Errorf("failed to open SPI %q: %w", cfg.Display.SPI, err)
	}
	defer port.Close()

	var pins [4]gpio.PinIO
	for i, name := range []string{cfg.Display.DC, cfg.Display.CS, cfg.Display.RST, cfg.Display.Busy} {
		if pins[i], err = pin(name); err != nil {
			return err
		}
	}
	if err := pins[3].In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return err
	}
	ticks := tick.NewClock(clockwork.NewRealClock())
	opts := cfg.DisplayOpts()
	dev, err := gdeh029a1.New(port, pins[0], pins[1], pins[2], pins[3], ticks, &opts)
	if err != nil {
		return err
	}
	if cfg.Display.BusyLED != "" {
		led, err := pin(cfg.Display.BusyLED)
		if err != nil {
			return err
		}
		dev.SetBusyIndicator(gdeh029a1.LEDIndicator(led))
	}

	b := &firmware.Board{Display: dev, Ticks: ticks}
	if cfg.Display.Power != "" {
		if b.DisplayPower, err = pin(cfg.Display.Power); err != nil {
			return err
		}
	}

	if cfg.Sensor.I2C != "" {
		bus, err := i2creg.Open(cfg.Sensor.I2C)
		if err != nil {
			return fmt.Errorf("failed to open I²C %q: %w", cfg.Sensor.I2C, err)
		}
		defer bus.Close()
		so := cfg.SensorOpts()
		if b.Sensor, err = sht3x.New(bus, i2c.Addr(cfg.Sensor.Address), &so); err != nil {
			return err
		}
		if cfg.Sensor.RTC {
			b.RTC = ds3231.New(bus)
		}
	}

	fo := cfg.FirmwareOpts()
	f, err := firmware.New(b, cfg.Settings(), log, &fo)
	if err != nil {
		return err
	}
	return start(f, log)
}

func pin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no pin named %q", name)
	}
	return p, nil
}
