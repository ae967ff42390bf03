// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package firmware ties the drivers of the clock together.
//
// The program runs once per wake up: Init classifies the reset and powers
// the rails, Loop handles the cause, refreshes the panel, arms the next RTC
// alarm and enters Standby. On the board, Loop never returns.
package firmware

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/epdclock/adc"
	"github.com/GermanBionicSystems/epdclock/bkpr"
	"github.com/GermanBionicSystems/epdclock/ds3231"
	"github.com/GermanBionicSystems/epdclock/fault"
	"github.com/GermanBionicSystems/epdclock/gdeh029a1"
	"github.com/GermanBionicSystems/epdclock/power"
	"github.com/GermanBionicSystems/epdclock/resetinfo"
	"github.com/GermanBionicSystems/epdclock/screen"
	"github.com/GermanBionicSystems/epdclock/tick"
)

// Backup register byte holding the full reset request.
const (
	FullResetAddr  = 0
	FullResetValue = 0xA5
)

// Sensor is the humidity and temperature sensor.
type Sensor interface {
	physic.SenseEnv
	SetOffsets(t physic.Temperature, rh physic.RelativeHumidity)
}

// Settings is the persisted configuration read at boot.
type Settings interface {
	Offsets() (physic.Temperature, physic.RelativeHumidity, error)
}

// Offsets is a Settings with fixed calibration offsets.
type Offsets struct {
	Temperature physic.Temperature
	Humidity    physic.RelativeHumidity
}

// Offsets implements Settings.
func (o Offsets) Offsets() (physic.Temperature, physic.RelativeHumidity, error) {
	return o.Temperature, o.Humidity, nil
}

// Board lists the hardware of the clock. Only Display is required; a nil
// field is skipped.
type Board struct {
	Display      *gdeh029a1.Dev
	DisplayPower gpio.PinOut // Active low

	Sensor      Sensor
	SensorPower gpio.PinOut // Active low
	SensorReset gpio.PinOut // Active low
	Pullup      gpio.PinOut // I²C pull-up resistors
	Bus         power.Peripheral

	RTC    *ds3231.Dev
	ADC    *adc.Dev
	Power  *power.Manager
	Reset  resetinfo.Flags
	Backup *bkpr.Dev

	// Buttons, active low.
	Up, Down, Set gpio.PinIn

	Ticks tick.Source
}

// Opts is the firmware configuration.
type Opts struct {
	// SensorResetPulse is the width of the sensor reset pulse.
	SensorResetPulse time.Duration
	// SensorStartup is the delay after the sensor reset.
	SensorStartup time.Duration
	// Debounce is the delay between the two samples of the buttons.
	Debounce time.Duration
	// ButtonRelease bounds the wait for the SET button to be released after
	// a button wake up.
	ButtonRelease time.Duration
	// FullRefreshEvery selects the full waveform when the minute is a
	// multiple of it. Zero disables it.
	FullRefreshEvery int
	// Mode is the waveform of the refreshes that are not forced to Full.
	// Partial falls back to Full when the panel lost the previous frame,
	// which is the case after every Standby.
	Mode gdeh029a1.Mode
	// ADCChannels are converted and logged on every update.
	ADCChannels []int
	// Clock provides the time shown and the delays. Nil selects the real
	// clock.
	Clock clockwork.Clock
}

// DefaultOpts is the configuration of the clock board.
var DefaultOpts = Opts{
	SensorResetPulse: 2 * time.Microsecond,
	SensorStartup:    2 * time.Millisecond,
	Debounce:         9 * time.Millisecond,
	ButtonRelease:    10 * time.Second,
	FullRefreshEvery: 60,
	Mode:             gdeh029a1.Fast,
	ADCChannels:      []int{17, 18, 1}, // VREFINT, temperature sensor, battery
}

// SystemContext is the state gathered at boot.
type SystemContext struct {
	Log   logrus.FieldLogger
	Cause resetinfo.Cause

	TempOffset     physic.Temperature
	HumidityOffset physic.RelativeHumidity

	// FullReset is set when the RTC and the backup registers were reset.
	FullReset bool
	// SetTime is set when the RTC lost the time.
	SetTime bool
	// Wake is the source of a wake up from Standby.
	Wake power.Wake
	// Faults are the errors met so far. None of them stops the boot.
	Faults []error
}

// Firmware is the program of the clock.
type Firmware struct {
	Ctx SystemContext

	b        *Board
	settings Settings
	face     *screen.Face
	clk      clockwork.Clock
	opts     Opts
}

// New returns the program driving b. The peripherals of b are registered
// with its power manager.
func New(b *Board, s Settings, log logrus.FieldLogger, opts *Opts) (*Firmware, error) {
	if b == nil || b.Display == nil {
		return nil, errors.New("firmware: a display is required")
	}
	if s == nil {
		s = Offsets{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	face, err := screen.New(b.Display.Bounds())
	if err != nil {
		return nil, fmt.Errorf("firmware: %w", err)
	}
	f := &Firmware{
		Ctx:      SystemContext{Log: log},
		b:        b,
		settings: s,
		face:     face,
		clk:      opts.Clock,
		opts:     *opts,
	}
	if f.clk == nil {
		f.clk = clockwork.NewRealClock()
	}
	if b.Power != nil {
		b.Power.Register("epd", b.Display)
		if b.Bus != nil {
			b.Power.Register("i2c", b.Bus)
		}
		if b.ADC != nil {
			b.Power.Register("adc", b.ADC)
		}
	}
	return f, nil
}

// Init classifies the reset, loads the settings and powers the rails:
// display off, sensor and bus on, converter calibrated.
//
// The returned error joins the faults met; the boot goes on regardless.
func (f *Firmware) Init() error {
	f.Ctx.Log.Info("system reset")
	if f.b.Reset != nil {
		f.Ctx.Cause = resetinfo.Classify(f.b.Reset)
	}
	f.Ctx.Log = f.Ctx.Log.WithField("cause", f.Ctx.Cause)
	f.Ctx.Log.Info("reset classified")

	t, rh, err := f.settings.Offsets()
	f.fault("settings", err)
	if err == nil {
		f.Ctx.TempOffset, f.Ctx.HumidityOffset = t, rh
	}
	if f.b.Sensor != nil {
		f.b.Sensor.SetOffsets(f.Ctx.TempOffset, f.Ctx.HumidityOffset)
	}

	f.fault("display off", f.displayOff())
	f.fault("sensor on", f.sensorOn())
	f.fault("adc on", f.adcOn())
	return errors.Join(f.Ctx.Faults...)
}

// Loop handles the reset cause, refreshes the panel, arms the RTC alarm and
// enters Standby.
//
// Without a power manager it returns the faults met. Otherwise it only
// returns when even the system reset failed.
func (f *Firmware) Loop() error {
	switch f.Ctx.Cause {
	case resetinfo.PowerOn:
		f.powerOn()
	case resetinfo.ExternalReset:
		f.externalReset()
	case resetinfo.WakeFromStandby:
		f.standbyWake()
	}

	f.fault("update", f.UpdateDisplay())

	if f.b.RTC != nil {
		f.fault("alarm", f.b.RTC.ArmEveryMinute())
	}
	if f.b.Power == nil {
		return errors.Join(f.Ctx.Faults...)
	}
	f.Ctx.Log.Info("ready to enter standby")
	return f.b.Power.Shutdown(f.Ctx.Log)
}

// UpdateDisplay reads the sensors and redraws the whole face.
//
// A failed sensor read leaves its fields blank. A failed refresh is retried
// once when the driver recovered; the panel keeps the previous image
// otherwise.
func (f *Firmware) UpdateDisplay() error {
	r := screen.Reading{Time: f.clk.Now()}
	log := f.Ctx.Log.WithField("time", r.Time.Format(time.DateTime))
	if f.b.Sensor != nil {
		var env physic.Env
		err := f.b.Sensor.Sense(&env)
		f.fault("sense", err)
		if err == nil {
			r.Temperature, r.Humidity, r.SensorOK = env.Temperature, env.Humidity, true
			log = log.WithFields(logrus.Fields{"temperature": env.Temperature, "humidity": env.Humidity})
		}
	}
	if f.b.RTC != nil {
		t, err := f.b.RTC.Temperature()
		f.fault("rtc temperature", err)
		if err == nil {
			log = log.WithField("rtc", t)
		}
	}
	if f.b.ADC != nil && len(f.opts.ADCChannels) != 0 {
		counts, err := f.b.ADC.Convert(f.opts.ADCChannels...)
		f.fault("convert", err)
		if err == nil {
			log = log.WithField("adc", counts)
		}
	}
	log.Info("readings")

	mode := f.mode(r.Time)
	img := f.face.Render(r)
	err := fault.Retry(func() error {
		return f.refresh(mode, img)
	})
	return errors.Join(err, f.displayOff())
}

func (f *Firmware) mode(now time.Time) gdeh029a1.Mode {
	switch {
	case f.Ctx.Cause != resetinfo.WakeFromStandby, f.Ctx.FullReset:
		return gdeh029a1.Full
	case f.opts.FullRefreshEvery > 0 && now.Minute()%f.opts.FullRefreshEvery == 0:
		return gdeh029a1.Full
	case f.opts.Mode == gdeh029a1.Partial && !f.b.Display.Retained():
		return gdeh029a1.Full
	default:
		return f.opts.Mode
	}
}

func (f *Firmware) refresh(mode gdeh029a1.Mode, img image.Image) error {
	d := f.b.Display
	if err := out(f.b.DisplayPower, gpio.Low); err != nil {
		return err
	}
	if err := d.Init(mode); err != nil {
		return err
	}
	if err := d.Draw(d.Bounds(), img, image.Point{}); err != nil {
		return err
	}
	return d.Show(true)
}

func (f *Firmware) powerOn() {
	if f.b.RTC == nil {
		return
	}
	stopped, err := f.b.RTC.OscillatorStopped()
	f.fault("oscillator", err)
	if !stopped {
		return
	}
	f.Ctx.SetTime = true
	f.Ctx.Log.Warn("rtc oscillator stopped, the time must be set")
	f.fault("oscillator", f.b.RTC.ClearOscillatorStopped())
}

func (f *Firmware) externalReset() {
	requested := false
	if f.b.Backup != nil {
		v, err := f.b.Backup.ReadByte(FullResetAddr)
		f.fault("full reset request", err)
		requested = err == nil && v == FullResetValue
	}
	if !requested && f.bothHeld() {
		f.sleep(f.opts.Debounce)
		requested = f.bothHeld()
	}
	if requested {
		f.fullReset()
	}
}

func (f *Firmware) bothHeld() bool {
	if f.b.Up == nil || f.b.Down == nil {
		return false
	}
	return f.b.Up.Read() == gpio.Low && f.b.Down.Read() == gpio.Low
}

// fullReset restores the RTC and the backup registers to their defaults.
func (f *Firmware) fullReset() {
	log := f.Ctx.Log
	log.Warn("erasing all data")
	if f.b.RTC != nil {
		f.fault("rtc reset", f.b.RTC.Reset())
		regs, err := f.b.RTC.Dump()
		f.fault("rtc dump", err)
		if err == nil {
			log.WithField("regs", fmt.Sprintf("% X", regs)).Info("rtc registers")
		}
	}
	if f.b.Backup != nil {
		f.fault("bkpr reset", f.b.Backup.ResetAll())
	}
	f.Ctx.FullReset = true
	f.Ctx.SetTime = true
	log.Info("all data erased")
}

func (f *Firmware) standbyWake() {
	if f.b.RTC != nil {
		fired, err := f.b.RTC.Alarm2Fired()
		f.fault("alarm flag", err)
		if fired {
			f.Ctx.Wake = power.WakeAlarm
			f.fault("alarm flag", f.b.RTC.ClearAlarm2())
			return
		}
	}
	f.Ctx.Wake = power.WakeButton
	f.Ctx.Log.Info("button wake up")
	if f.b.Set == nil || f.b.Ticks == nil {
		return
	}
	f.sleep(f.opts.Debounce)
	err := tick.Wait(f.b.Ticks, tick.Budget(f.opts.ButtonRelease), func() bool {
		return f.b.Set.Read() == gpio.Low
	})
	f.fault("button release", fault.Wrap("set", "release", err))
}

func (f *Firmware) displayOff() error {
	return errors.Join(f.b.Display.Suspend(), out(f.b.DisplayPower, gpio.High))
}

func (f *Firmware) sensorOn() error {
	eh := railHandler{f: f}
	eh.out(f.b.SensorPower, gpio.Low)
	eh.out(f.b.Pullup, gpio.High)
	eh.out(f.b.SensorReset, gpio.High)
	eh.sleep(f.opts.SensorResetPulse)
	eh.out(f.b.SensorReset, gpio.Low)
	eh.sleep(f.opts.SensorResetPulse)
	eh.out(f.b.SensorReset, gpio.High)
	eh.sleep(f.opts.SensorStartup)
	if eh.err == nil && f.b.Bus != nil {
		eh.err = f.b.Bus.Resume()
	}
	return eh.err
}

func (f *Firmware) adcOn() error {
	if f.b.ADC == nil {
		return nil
	}
	if err := f.b.ADC.Disable(); err != nil {
		return err
	}
	if err := f.b.ADC.Calibrate(); err != nil {
		return err
	}
	return f.b.ADC.Enable()
}

// fault records and logs err.
func (f *Firmware) fault(op string, err error) {
	if err == nil {
		return
	}
	f.Ctx.Faults = append(f.Ctx.Faults, err)
	f.Ctx.Log.WithFields(logrus.Fields{"op": op, "kind": fault.KindOf(err)}).WithError(err).Error("operation failed")
}

func (f *Firmware) sleep(d time.Duration) {
	if d > 0 {
		f.clk.Sleep(d)
	}
}

// railHandler drives the power rails and remembers the first error.
type railHandler struct {
	f   *Firmware
	err error
}

func (eh *railHandler) out(p gpio.PinOut, l gpio.Level) {
	if eh.err != nil {
		return
	}
	eh.err = out(p, l)
}

func (eh *railHandler) sleep(d time.Duration) {
	if eh.err != nil {
		return
	}
	eh.f.sleep(d)
}

func out(p gpio.PinOut, l gpio.Level) error {
	if p == nil {
		return nil
	}
	return p.Out(l)
}
