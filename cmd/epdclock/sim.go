// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/GermanBionicSystems/epdclock/adc"
	"github.com/GermanBionicSystems/epdclock/adc/adctest"
	"github.com/GermanBionicSystems/epdclock/bkpr"
	"github.com/GermanBionicSystems/epdclock/common"
	"github.com/GermanBionicSystems/epdclock/ds3231"
	"github.com/GermanBionicSystems/epdclock/firmware"
	"github.com/GermanBionicSystems/epdclock/gdeh029a1"
	"github.com/GermanBionicSystems/epdclock/gdeh029a1/epdtest"
	"github.com/GermanBionicSystems/epdclock/i2cbus"
	"github.com/GermanBionicSystems/epdclock/i2cbus/i2cbustest"
	"github.com/GermanBionicSystems/epdclock/power"
	"github.com/GermanBionicSystems/epdclock/power/powertest"
	"github.com/GermanBionicSystems/epdclock/resetinfo"
	"github.com/GermanBionicSystems/epdclock/sht3x"
	"github.com/GermanBionicSystems/epdclock/tick"
)

// runSim runs one cycle on simulated hardware, as after cause, and prints
// the panel to w.
func runSim(log logrus.FieldLogger, cause string, w io.Writer) error {
	flags := &resetinfo.Registers{}
	rtcRegs := make([]byte, 0x13)
	rtcRegs[0x0E] = 0x1C
	rtcRegs[0x11] = 0x16 // 22°C
	backup := &bkpr.Mem{}
	switch cause {
	case "poweron":
		flags.RCC = resetinfo.CSRPowerOn | resetinfo.CSRPin
		rtcRegs[0x0F] = 0x8B
	case "reset":
		flags.RCC = resetinfo.CSRPin
	case "fullreset":
		flags.RCC = resetinfo.CSRPin
		backup.Store(firmware.FullResetAddr/4, firmware.FullResetValue)
	case "alarm":
		flags.PWR = resetinfo.PWRStandby
		rtcRegs[0x0F] = 0x02
	case "button":
		flags.PWR = resetinfo.PWRStandby
	default:
		return fmt.Errorf("unknown cause %q", cause)
	}

	clk := clockwork.NewRealClock()
	ticks := tick.NewClock(clk)

	// 23.5°C, 41%RH.
	reading := common.AppendWord(common.AppendWord(nil, 0x6434), 0x68F5)
	sim := i2cbustest.New(map[uint16]i2cbustest.Device{
		uint16(sht3x.DefaultAddress):  &i2cbustest.Mem{Reply: reading},
		uint16(ds3231.DefaultAddress): &i2cbustest.Regs{Regs: rtcRegs},
	})
	bus, err := i2cbus.New(sim, sim.SCL(), sim.SDA(), ticks, nil)
	if err != nil {
		return err
	}
	sensor, err := sht3x.New(bus, sht3x.DefaultAddress, nil)
	if err != nil {
		return err
	}

	panel := epdtest.New()
	panel.BusyReads = 3
	display, err := gdeh029a1.New(panel, panel.DC(), panel.CS(), panel.RST(), panel.Busy(), ticks, nil)
	if err != nil {
		return err
	}
	display.SetBusyIndicator(func(busy bool) {
		log.WithField("busy", busy).Debug("display")
	})

	conv, err := adc.New(&adctest.Sim{Channels: map[int]uint16{1: 2730, 17: 1655, 18: 690}}, ticks, nil)
	if err != nil {
		return err
	}

	button := &powertest.Line{N: "BTN_SET", W: power.WakeButton}
	alarm := &powertest.Line{N: "RTC_INT", W: power.WakeAlarm}
	timer := powertest.NewTimer()
	core := powertest.NewCore(button, alarm, timer)
	mgr, err := power.New(core, button, alarm, timer, nil)
	if err != nil {
		return err
	}

	b := &firmware.Board{
		Display:      display,
		DisplayPower: panel.Power(),
		Sensor:       sensor,
		SensorPower:  &gpiotest.Pin{N: "SHT_POWER"},
		SensorReset:  &gpiotest.Pin{N: "SHT_RST"},
		Pullup:       &gpiotest.Pin{N: "I2C_PULLUP"},
		Bus:          bus,
		RTC:          ds3231.New(bus),
		ADC:          conv,
		Power:        mgr,
		Reset:        flags,
		Backup:       bkpr.New(backup),
		Up:           &gpiotest.Pin{N: "BTN_UP", L: gpio.High},
		Down:         &gpiotest.Pin{N: "BTN_DOWN", L: gpio.High},
		Set:          &gpiotest.Pin{N: "BTN_SET", L: gpio.High},
		Ticks:        ticks,
	}
	opts := firmware.DefaultOpts
	opts.Clock = clk
	f, err := firmware.New(b, firmware.Offsets{}, log, &opts)
	if err != nil {
		return err
	}

	var loopErr error
	if powertest.Run(func() {
		loopErr = start(f, log)
	}) {
		return loopErr
	}
	log.WithField("calls", len(core.Calls())).Info("standby entered")
	return panel.Render(w)
}
