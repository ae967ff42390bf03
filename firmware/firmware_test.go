// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package firmware

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/epdclock/adc"
	"github.com/GermanBionicSystems/epdclock/adc/adctest"
	"github.com/GermanBionicSystems/epdclock/bkpr"
	"github.com/GermanBionicSystems/epdclock/common"
	"github.com/GermanBionicSystems/epdclock/ds3231"
	"github.com/GermanBionicSystems/epdclock/fault"
	"github.com/GermanBionicSystems/epdclock/gdeh029a1"
	"github.com/GermanBionicSystems/epdclock/gdeh029a1/epdtest"
	"github.com/GermanBionicSystems/epdclock/i2cbus"
	"github.com/GermanBionicSystems/epdclock/i2cbus/i2cbustest"
	"github.com/GermanBionicSystems/epdclock/power"
	"github.com/GermanBionicSystems/epdclock/power/powertest"
	"github.com/GermanBionicSystems/epdclock/resetinfo"
	"github.com/GermanBionicSystems/epdclock/sht3x"
	"github.com/GermanBionicSystems/epdclock/tick/ticktest"
)

// rig is a simulated clock board.
type rig struct {
	board   *Board
	panel   *epdtest.Panel
	sim     *i2cbustest.Sim
	sensor  *i2cbustest.Mem
	rtc     *i2cbustest.Regs
	adc     *adctest.Sim
	core    *powertest.Core
	backup  *bkpr.Mem
	flags   *resetinfo.Registers
	up      *gpiotest.Pin
	down    *gpiotest.Pin
	set     *gpiotest.Pin
	rail    gpio.PinIO
	clk     clockwork.FakeClock
	log     *logrus.Logger
	hook    *test.Hook
	display *gdeh029a1.Dev
}

// rtcRegisters are the power on values of the DS3231 registers, oscillator
// stop flag set.
func rtcRegisters() []byte {
	r := make([]byte, 0x13)
	r[0x0E] = 0x1C
	r[0x0F] = 0x8B
	r[0x11] = 0x19 // 25°C
	return r
}

func newRig(t *testing.T, flags resetinfo.Registers) *rig {
	t.Helper()
	r := &rig{
		panel:  epdtest.New(),
		sensor: &i2cbustest.Mem{Reply: common.AppendWord(common.AppendWord(nil, 0x6666), 0x8000)},
		rtc:    &i2cbustest.Regs{Regs: rtcRegisters()},
		adc:    &adctest.Sim{Channels: map[int]uint16{1: 2048, 17: 1670, 18: 700}},
		backup: &bkpr.Mem{},
		flags:  &flags,
		up:     &gpiotest.Pin{N: "UP", L: gpio.High},
		down:   &gpiotest.Pin{N: "DOWN", L: gpio.High},
		set:    &gpiotest.Pin{N: "SET", L: gpio.High},
		clk:    clockwork.NewFakeClockAt(time.Date(2024, 3, 9, 12, 34, 0, 0, time.UTC)),
	}
	r.rail = r.panel.Power().(gpio.PinIO)
	r.log, r.hook = test.NewNullLogger()

	r.sim = i2cbustest.New(map[uint16]i2cbustest.Device{0x44: r.sensor, 0x68: r.rtc})
	busOpts := i2cbus.DefaultOpts
	busOpts.Timeout = 20 * time.Millisecond
	busOpts.Settle, busOpts.HalfPeriod, busOpts.StopHold = 0, 0, 0
	bus, err := i2cbus.New(r.sim, r.sim.SCL(), r.sim.SDA(), ticktest.Always(), &busOpts)
	require.NoError(t, err)
	sensor, err := sht3x.New(bus, sht3x.DefaultAddress, nil)
	require.NoError(t, err)

	epdOpts := gdeh029a1.GDEH029A1
	epdOpts.BusyTimeout = 50 * time.Millisecond
	epdOpts.ResetPulse, epdOpts.Settle = 0, 0
	r.display, err = gdeh029a1.New(r.panel, r.panel.DC(), r.panel.CS(), r.panel.RST(), r.panel.Busy(), ticktest.Always(), &epdOpts)
	require.NoError(t, err)

	conv, err := adc.New(r.adc, ticktest.Always(), nil)
	require.NoError(t, err)

	button := &powertest.Line{N: "BTN_SET", W: power.WakeButton}
	alarm := &powertest.Line{N: "RTC_INT", W: power.WakeAlarm}
	timer := powertest.NewTimer()
	r.core = powertest.NewCore(button, alarm, timer)
	powerOpts := power.DefaultOpts
	powerOpts.Clock = r.clk
	mgr, err := power.New(r.core, button, alarm, timer, &powerOpts)
	require.NoError(t, err)

	r.board = &Board{
		Display:      r.display,
		DisplayPower: r.rail,
		Sensor:       sensor,
		SensorPower:  &gpiotest.Pin{N: "SHT_POWER"},
		SensorReset:  &gpiotest.Pin{N: "SHT_RST"},
		Pullup:       &gpiotest.Pin{N: "PULLUP"},
		Bus:          bus,
		RTC:          ds3231.New(bus),
		ADC:          conv,
		Power:        mgr,
		Reset:        r.flags,
		Backup:       bkpr.New(r.backup),
		Up:           r.up,
		Down:         r.down,
		Set:          r.set,
		Ticks:        ticktest.Always(),
	}
	return r
}

func (r *rig) firmware(t *testing.T, mods ...func(o *Opts)) *Firmware {
	t.Helper()
	opts := DefaultOpts
	opts.SensorResetPulse, opts.SensorStartup, opts.Debounce = 0, 0, 0
	opts.ButtonRelease = 20 * time.Millisecond
	opts.Clock = r.clk
	for _, m := range mods {
		m(&opts)
	}
	f, err := New(r.board, Offsets{Temperature: -physic.Kelvin}, r.log, &opts)
	require.NoError(t, err)
	return f
}

// boot runs Init and Loop and reports whether Loop returned.
func (r *rig) boot(t *testing.T, f *Firmware) (returned bool, initErr, loopErr error) {
	t.Helper()
	returned = powertest.Run(func() {
		initErr = f.Init()
		loopErr = f.Loop()
	})
	return returned, initErr, loopErr
}

func indexOf(cmds []epdtest.Command, cmd byte, from int) int {
	for i := from; i < len(cmds); i++ {
		if cmds[i].Cmd == cmd {
			return i
		}
	}
	return -1
}

func TestPowerOnBoot(t *testing.T) {
	r := newRig(t, resetinfo.Registers{RCC: resetinfo.CSRPowerOn | resetinfo.CSRPin})
	f := r.firmware(t)

	returned, initErr, _ := r.boot(t, f)
	require.False(t, returned, "standby returned")
	require.NoError(t, initErr)
	assert.Empty(t, f.Ctx.Faults)

	assert.Equal(t, resetinfo.PowerOn, f.Ctx.Cause)
	assert.Equal(t, resetinfo.Registers{}, *r.flags, "reset flags cleared")
	assert.True(t, f.Ctx.SetTime)
	assert.Equal(t, -physic.Kelvin, f.Ctx.TempOffset)
	assert.Zero(t, r.rtc.Regs[0x0F]&0x80, "oscillator stop flag cleared")
	assert.Equal(t, []byte{0x80, 0x80, 0x80}, r.rtc.Regs[0x0B:0x0E], "alarm 2 every minute")
	assert.Equal(t, byte(0x1E), r.rtc.Regs[0x0E], "alarm 2 interrupt enabled")
	assert.Equal(t, 1, r.adc.Calibrated)

	// Init(Full), full screen window, fill, Show(wait), in that order.
	log := r.panel.Log()
	lut := indexOf(log, 0x32, 0)
	require.NotEqual(t, -1, lut)
	assert.Equal(t, []byte(gdeh029a1.GDEH029A1.Full), log[lut].Data)
	var fill int
	for i := indexOf(log, 0x24, lut); i != -1; i = indexOf(log, 0x24, i+1) {
		fill = i
	}
	assert.Len(t, log[fill].Data, 296*16)
	assert.Equal(t, 0x45, int(log[fill-3].Cmd))
	show := indexOf(log, 0x22, fill)
	require.NotEqual(t, -1, show)
	assert.Equal(t, []byte{0xC4}, log[show].Data)
	assert.Equal(t, byte(0x20), log[show+1].Cmd)
	assert.Equal(t, 1, r.panel.Updates())
	assert.True(t, r.panel.DeepSleep())
	assert.Equal(t, gpio.High, r.rail.Read(), "display rail off")
	assert.Contains(t, r.panel.Image().Pix, byte(0), "face drawn")

	s := r.core.Suspensions()
	require.Len(t, s, 1)
	assert.Equal(t, power.Standby, s[0].State)
	assert.Equal(t, power.WakeAlarm, s[0].Armed)
	assert.False(t, r.sim.Enabled(), "bus suspended")

	last := r.hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "entering standby", last.Message)
	assert.Equal(t, resetinfo.PowerOn, last.Data["cause"])
}

func TestStandbyWake(t *testing.T) {
	for _, tc := range []struct {
		name     string
		status   byte
		wantWake power.Wake
	}{
		{name: "alarm", status: 0x02, wantWake: power.WakeAlarm},
		{name: "button", status: 0x00, wantWake: power.WakeButton},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, resetinfo.Registers{PWR: resetinfo.PWRStandby})
			r.rtc.Regs[0x0F] = tc.status
			r.clk = clockwork.NewFakeClockAt(time.Date(2024, 3, 9, 12, 35, 0, 0, time.UTC))
			f := r.firmware(t)

			returned, _, _ := r.boot(t, f)
			require.False(t, returned)
			assert.Empty(t, f.Ctx.Faults)
			assert.Equal(t, resetinfo.WakeFromStandby, f.Ctx.Cause)
			assert.Equal(t, tc.wantWake, f.Ctx.Wake)
			assert.Zero(t, r.rtc.Regs[0x0F]&0x02, "alarm flag cleared")
			assert.False(t, f.Ctx.SetTime)

			lut := indexOf(r.panel.Log(), 0x32, 0)
			require.NotEqual(t, -1, lut)
			assert.Equal(t, []byte(gdeh029a1.GDEH029A1.Fast), r.panel.Log()[lut].Data)
			assert.Zero(t, r.panel.Stale())
		})
	}
}

func TestPartialFallsBackToFull(t *testing.T) {
	r := newRig(t, resetinfo.Registers{PWR: resetinfo.PWRStandby})
	r.rtc.Regs[0x0F] = 0x02
	r.clk = clockwork.NewFakeClockAt(time.Date(2024, 3, 9, 12, 35, 0, 0, time.UTC))
	f := r.firmware(t, func(o *Opts) { o.Mode = gdeh029a1.Partial })

	// Like every Standby wake, the panel starts without its previous
	// frame.
	returned, _, _ := r.boot(t, f)
	require.False(t, returned)
	assert.Empty(t, f.Ctx.Faults)
	log := r.panel.Log()
	lut := indexOf(log, 0x32, 0)
	require.NotEqual(t, -1, lut)
	assert.Equal(t, []byte(gdeh029a1.GDEH029A1.Full), log[lut].Data)
	assert.NotEqual(t, -1, indexOf(log, 0x12, 0), "software reset")
	assert.Equal(t, 1, r.panel.Updates())
	assert.Zero(t, r.panel.Stale(), "refresh on a lost frame")

	// The panel is suspended again at the end of the update.
	assert.Equal(t, gdeh029a1.Full, f.mode(r.clk.Now()))

	// Partial is only used while the controller keeps the frame.
	require.NoError(t, r.display.Init(gdeh029a1.Full))
	assert.Equal(t, gdeh029a1.Partial, f.mode(r.clk.Now()))
}

func TestButtonHeldTimeout(t *testing.T) {
	r := newRig(t, resetinfo.Registers{PWR: resetinfo.PWRStandby})
	r.rtc.Regs[0x0F] = 0
	r.set.L = gpio.Low
	f := r.firmware(t)

	returned, _, _ := r.boot(t, f)
	require.False(t, returned)
	require.Len(t, f.Ctx.Faults, 1)
	assert.ErrorIs(t, f.Ctx.Faults[0], fault.ErrTimeout)
	assert.Equal(t, 1, r.panel.Updates(), "the face is still updated")
}

func TestExternalReset(t *testing.T) {
	for _, tc := range []struct {
		name     string
		sentinel bool
		held     bool
		want     bool
	}{
		{name: "plain"},
		{name: "sentinel", sentinel: true, want: true},
		{name: "buttons held", held: true, want: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, resetinfo.Registers{RCC: resetinfo.CSRPin})
			r.rtc.Regs[0x00] = 0x42
			r.rtc.Regs[0x0F] = 0
			r.backup.Store(1, 0xDEADBEEF)
			if tc.sentinel {
				r.backup.Store(0, FullResetValue)
			}
			if tc.held {
				r.up.L, r.down.L = gpio.Low, gpio.Low
			}
			f := r.firmware(t)

			returned, _, _ := r.boot(t, f)
			require.False(t, returned)
			assert.Empty(t, f.Ctx.Faults)
			assert.Equal(t, resetinfo.ExternalReset, f.Ctx.Cause)
			assert.Equal(t, tc.want, f.Ctx.FullReset)
			if tc.want {
				assert.Zero(t, r.rtc.Regs[0x00], "rtc reset")
				assert.Zero(t, r.backup.Load(1), "backup registers reset")
				assert.Zero(t, r.backup.Load(0), "request consumed")
			} else {
				assert.Equal(t, byte(0x42), r.rtc.Regs[0x00])
				assert.Equal(t, uint32(0xDEADBEEF), r.backup.Load(1))
			}
		})
	}
}

func TestDegradedBus(t *testing.T) {
	r := newRig(t, resetinfo.Registers{PWR: resetinfo.PWRStandby})
	r.sim.HoldSDA(-1)
	f := r.firmware(t)

	returned, _, _ := r.boot(t, f)
	require.False(t, returned, "standby is reached regardless")
	require.NotEmpty(t, f.Ctx.Faults)
	for _, err := range f.Ctx.Faults {
		assert.ErrorIs(t, err, fault.ErrHardFail)
	}
	// Alarm flag, sense, RTC temperature and alarm arming: one START each,
	// hard failures are not retried.
	assert.Equal(t, len(f.Ctx.Faults), r.sim.Starts)
	assert.Equal(t, 1, r.panel.Updates())

	var kinds []interface{}
	for _, e := range r.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			kinds = append(kinds, e.Data["kind"])
		}
	}
	assert.NotEmpty(t, kinds)
	for _, k := range kinds {
		assert.Equal(t, fault.KindHardFail, k)
	}
}

func TestDegradedSensor(t *testing.T) {
	r := newRig(t, resetinfo.Registers{PWR: resetinfo.PWRStandby})
	delete(r.sim.Devices, 0x44)
	r.rtc.Regs[0x0F] = 0x02
	f := r.firmware(t)

	returned, _, _ := r.boot(t, f)
	require.False(t, returned)
	require.Len(t, f.Ctx.Faults, 1)
	assert.ErrorIs(t, f.Ctx.Faults[0], fault.ErrBusFault)
	assert.Equal(t, 1, r.panel.Updates())
}

func TestDisplayStuckBusy(t *testing.T) {
	r := newRig(t, resetinfo.Registers{RCC: resetinfo.CSRPowerOn})
	r.panel.StuckBusy = true
	f := r.firmware(t)

	returned, _, _ := r.boot(t, f)
	require.False(t, returned)
	require.Len(t, f.Ctx.Faults, 1)
	assert.ErrorIs(t, f.Ctx.Faults[0], fault.ErrTimeout)
	// Init times out on the software reset, once per attempt.
	assert.Equal(t, 2, bytes.Count(r.panel.Commands(), []byte{0x12}))
	assert.Zero(t, r.panel.Updates())
	assert.Equal(t, gpio.High, r.rail.Read(), "display rail off")
}

func TestStandbyLadder(t *testing.T) {
	r := newRig(t, resetinfo.Registers{PWR: resetinfo.PWRStandby})
	r.rtc.Regs[0x0F] = 0x02
	r.core.StandbyFails = 2
	r.core.ResetReturns = true
	f := r.firmware(t)

	go func() {
		r.clk.BlockUntil(1)
		r.clk.Advance(power.DefaultOpts.RetryDelay)
	}()
	returned, _, loopErr := r.boot(t, f)
	require.True(t, returned)
	assert.ErrorIs(t, loopErr, fault.ErrHardFail)
	assert.ErrorIs(t, loopErr, power.ErrStandbyFailed)
	assert.Equal(t, 1, r.core.Resets())
	assert.Len(t, r.core.Suspensions(), 2)
}

func TestWithoutPowerManager(t *testing.T) {
	r := newRig(t, resetinfo.Registers{})
	r.board.Power = nil
	r.board.Reset = nil
	f := r.firmware(t)

	require.NoError(t, f.Init())
	assert.Equal(t, resetinfo.Unknown, f.Ctx.Cause)
	require.NoError(t, f.Loop())
	assert.Equal(t, 1, r.panel.Updates())
	assert.Contains(t, r.panel.Image().Pix, byte(0))
}

type failingSettings struct{}

func (failingSettings) Offsets() (physic.Temperature, physic.RelativeHumidity, error) {
	return 0, 0, errors.New("settings: checksum mismatch")
}

func TestSettingsFailure(t *testing.T) {
	r := newRig(t, resetinfo.Registers{})
	r.board.Power = nil
	f, err := New(r.board, failingSettings{}, r.log, &Opts{Clock: r.clk})
	require.NoError(t, err)
	assert.Error(t, f.Init())
	assert.Zero(t, f.Ctx.TempOffset)
}

func TestNew(t *testing.T) {
	_, err := New(nil, nil, nil, nil)
	assert.Error(t, err)
	_, err = New(&Board{}, nil, nil, nil)
	assert.Error(t, err)
}
