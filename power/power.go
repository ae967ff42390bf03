// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package power

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/GermanBionicSystems/epdclock/fault"
)

// State is a power state of the chip.
type State int

const (
	// Active is the running state.
	Active State = iota
	// LightSleep stops the CPU clock only. Wake up is the fastest.
	LightSleep
	// Stop halts every clock but the low speed ones. RAM and I/O states are
	// kept.
	Stop
	// Standby powers the core domain down. Wake up restarts the program.
	Standby
)

func (s State) String() string {
	switch s {
	case Active:
		return "Active"
	case LightSleep:
		return "LightSleep"
	case Stop:
		return "Stop"
	case Standby:
		return "Standby"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Wake is a set of wake sources.
type Wake uint8

const (
	// WakeButton is the level sensitive button line.
	WakeButton Wake = 1 << iota
	// WakeAlarm is the RTC alarm output.
	WakeAlarm
	// WakeTimer is the compare match of the low-power timer.
	WakeTimer
)

// String returns the sources in the set, like "button|alarm".
func (w Wake) String() string {
	if w == 0 {
		return "none"
	}
	var parts []string
	for _, s := range []struct {
		w    Wake
		name string
	}{{WakeButton, "button"}, {WakeAlarm, "alarm"}, {WakeTimer, "timer"}} {
		if w&s.w != 0 {
			parts = append(parts, s.name)
			w &^= s.w
		}
	}
	if w != 0 {
		parts = append(parts, fmt.Sprintf("0x%02x", uint8(w)))
	}
	return strings.Join(parts, "|")
}

// Core is the part of the chip that sequences the power states.
type Core interface {
	// DisableInterrupts masks every interrupt. Wake lines still wake the
	// core up.
	DisableInterrupts()
	EnableInterrupts()
	// SetUltraLowPower turns the internal voltage reference off while
	// sleeping.
	SetUltraLowPower(on bool)
	// SetFastWakeUp lets the core run before the voltage reference is back.
	SetFastWakeUp(on bool)
	// UseHSI16AfterStop selects the 16MHz oscillator as the clock after a
	// wake up from Stop.
	UseHSI16AfterStop()
	SetLowPowerRegulator(on bool)
	// SetFlashPowerDown powers the flash down during LightSleep.
	SetFlashPowerDown(on bool)
	// SetStandbyWakePin enables the pin that wakes the chip from Standby.
	SetStandbyWakePin(on bool)
	// ClearWakeUpFlag clears the flag set by the Standby wake pin.
	ClearWakeUpFlag()
	// ClearStandbyFlag clears the flag recording a wake up from Standby.
	ClearStandbyFlag()
	// StopLowSpeedClocks gates the RTC clock and stops the internal and
	// external low speed oscillators.
	StopLowSpeedClocks()
	// Suspend waits for an interrupt with the deep sleep configuration of s.
	// It returns on wake up from LightSleep and Stop. It does not return
	// when Standby is entered successfully.
	Suspend(s State)
	// SystemReset restarts the chip. It does not return on hardware.
	SystemReset()
}

// Line is a wake source input.
type Line interface {
	String() string
	Arm()
	Disarm()
	// ClearPending acknowledges the line without running its handler.
	ClearPending()
	Pending() bool
}

// Timer is the low-power timer. Its compare match is a wake line.
type Timer interface {
	Line
	// Start runs the timer once for counts periods and arms its line.
	Start(counts uint16) error
	// Stop disarms the line and stops the timer.
	Stop()
}

// Peripheral is a device that must be quiesced before sleeping.
type Peripheral interface {
	Suspend() error
	Resume() error
}

// ErrStandbyFailed is returned when control came back after the Standby
// instruction.
var ErrStandbyFailed = errors.New("power: standby was not entered")

// Opts configures the Manager.
type Opts struct {
	// TimerPeriod is the duration of one count of the low-power timer.
	TimerPeriod time.Duration
	// StandbySource is the single source armed in Standby: WakeButton or
	// WakeAlarm.
	StandbySource Wake
	// RetryDelay is the wait between two Standby attempts in Shutdown.
	RetryDelay time.Duration
	// Clock is used for RetryDelay. Nil selects the real clock.
	Clock clockwork.Clock
}

// DefaultOpts is the configuration of the clock board: the RTC alarm
// shares the Standby wake pin.
var DefaultOpts = Opts{
	TimerPeriod:   865 * time.Millisecond,
	StandbySource: WakeAlarm,
	RetryDelay:    999 * time.Millisecond,
}

type peripheral struct {
	name string
	p    Peripheral
}

// Manager sequences the power states.
type Manager struct {
	core   Core
	button Line
	alarm  Line
	timer  Timer
	clk    clockwork.Clock
	opts   Opts

	state  State
	periph []peripheral
}

// New returns a Manager. timer may be nil when the board has no low-power
// timer; timeouts are then refused.
func New(core Core, button, alarm Line, timer Timer, opts *Opts) (*Manager, error) {
	if core == nil || button == nil || alarm == nil {
		return nil, errors.New("power: core, button and alarm lines are required")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.StandbySource != WakeButton && opts.StandbySource != WakeAlarm {
		return nil, fmt.Errorf("power: standby source must be button or alarm, not %s", opts.StandbySource)
	}
	if opts.TimerPeriod <= 0 {
		return nil, errors.New("power: timer period must be positive")
	}
	m := &Manager{
		core:   core,
		button: button,
		alarm:  alarm,
		timer:  timer,
		clk:    opts.Clock,
		opts:   *opts,
	}
	if m.clk == nil {
		m.clk = clockwork.NewRealClock()
	}
	return m, nil
}

// State returns the state the Manager is in. It is Active whenever a call
// returned.
func (m *Manager) State() State {
	return m.state
}

// Register adds a peripheral suspended before every sleep.
func (m *Manager) Register(name string, p Peripheral) {
	m.periph = append(m.periph, peripheral{name: name, p: p})
}

// PowerUp resumes the registered peripherals in registration order. It is
// called once at boot.
func (m *Manager) PowerUp() error {
	return m.restore(0)
}

// EnterLight enters LightSleep until the button, the RTC alarm or, when
// timeout is not zero, the low-power timer fires. It returns the sources
// that were pending on wake up.
func (m *Manager) EnterLight(timeout time.Duration) (Wake, error) {
	counts, err := m.counts(timeout)
	if err != nil {
		return 0, err
	}
	if err := m.quiesce(); err != nil {
		return 0, err
	}
	m.core.DisableInterrupts()
	if err := m.arm(WakeButton|WakeAlarm, counts); err != nil {
		m.core.EnableInterrupts()
		return 0, m.join(err, m.restore(0))
	}
	m.core.SetFlashPowerDown(true)

	m.state = LightSleep
	m.core.Suspend(LightSleep)
	w := m.disarm(counts != 0)
	m.state = Active

	m.core.EnableInterrupts()
	return w, m.restore(0)
}

// EnterStop enters Stop until the button, the RTC alarm or, when timeout
// is not zero, the low-power timer fires. The I²C peripheral must be
// registered so it is idle before the clocks stop.
func (m *Manager) EnterStop(timeout time.Duration) (Wake, error) {
	counts, err := m.counts(timeout)
	if err != nil {
		return 0, err
	}
	if err := m.quiesce(); err != nil {
		return 0, err
	}
	m.core.DisableInterrupts()
	m.core.SetStandbyWakePin(false)
	m.core.ClearWakeUpFlag()
	if err := m.arm(WakeButton|WakeAlarm, counts); err != nil {
		m.core.EnableInterrupts()
		return 0, m.join(err, m.restore(0))
	}
	m.core.SetUltraLowPower(true)
	m.core.SetFastWakeUp(false)
	m.core.UseHSI16AfterStop()
	m.core.SetLowPowerRegulator(true)

	m.state = Stop
	m.core.Suspend(Stop)
	w := m.disarm(counts != 0)
	m.core.SetUltraLowPower(false)
	m.state = Active

	m.core.EnableInterrupts()
	return w, m.restore(0)
}

// EnterStandby enters Standby with only Opts.StandbySource armed. It does
// not return on success: the next wake up restarts the program.
//
// When control comes back, the peripherals are resumed and an error
// wrapping ErrStandbyFailed is returned.
func (m *Manager) EnterStandby() error {
	if err := m.quiesce(); err != nil {
		return err
	}
	m.core.DisableInterrupts()
	if err := m.arm(m.opts.StandbySource, 0); err != nil {
		m.core.EnableInterrupts()
		return m.join(err, m.restore(0))
	}
	m.core.SetStandbyWakePin(false)
	m.core.ClearWakeUpFlag()
	m.core.ClearStandbyFlag()
	m.core.SetStandbyWakePin(true)
	m.core.StopLowSpeedClocks()
	m.core.SetUltraLowPower(true)

	m.state = Standby
	m.core.Suspend(Standby)

	m.disarm(false)
	m.core.SetUltraLowPower(false)
	m.state = Active
	m.core.EnableInterrupts()
	return m.join(fault.Wrap("power", "standby", ErrStandbyFailed), m.restore(0))
}

// Shutdown enters Standby. When it fails, it waits Opts.RetryDelay and
// tries once more, then resets the chip.
//
// It only returns when even the reset returned, with an error wrapping
// fault.ErrHardFail.
func (m *Manager) Shutdown(log logrus.FieldLogger) error {
	log.WithField("source", m.opts.StandbySource).Info("entering standby")
	err := m.EnterStandby()
	log.WithError(err).Warn("standby failed")

	m.clk.Sleep(m.opts.RetryDelay)
	log.Info("entering standby again")
	err = m.EnterStandby()
	log.WithError(err).Warn("standby failed")

	log.Warn("resetting the system")
	m.core.SystemReset()
	return fault.Wrap("power", "shutdown", fmt.Errorf("%w: reset returned after: %w", fault.ErrHardFail, err))
}

func (m *Manager) counts(timeout time.Duration) (uint16, error) {
	if timeout <= 0 {
		return 0, nil
	}
	if m.timer == nil {
		return 0, errors.New("power: no low-power timer for the timeout")
	}
	n := (timeout + m.opts.TimerPeriod - 1) / m.opts.TimerPeriod
	if n > 0xFFFF {
		return 0, fmt.Errorf("power: timeout %s exceeds the low-power timer range", timeout)
	}
	return uint16(n), nil
}

func (m *Manager) lines() []Line {
	l := []Line{m.button, m.alarm}
	if m.timer != nil {
		l = append(l, m.timer)
	}
	return l
}

// arm disarms and clears every line, then arms the ones in valid. The
// timer is started when counts is not zero.
func (m *Manager) arm(valid Wake, counts uint16) error {
	for _, l := range m.lines() {
		l.Disarm()
		l.ClearPending()
	}
	if valid&WakeButton != 0 {
		m.button.Arm()
	}
	if valid&WakeAlarm != 0 {
		m.alarm.Arm()
	}
	if counts != 0 {
		if err := m.timer.Start(counts); err != nil {
			m.disarm(true)
			return fault.Wrap("power", "timer", err)
		}
	}
	return nil
}

// disarm returns the pending sources, then disarms and clears every line.
func (m *Manager) disarm(stopTimer bool) Wake {
	var w Wake
	if m.button.Pending() {
		w |= WakeButton
	}
	if m.alarm.Pending() {
		w |= WakeAlarm
	}
	if m.timer != nil && m.timer.Pending() {
		w |= WakeTimer
	}
	for _, l := range m.lines() {
		l.Disarm()
		l.ClearPending()
	}
	if stopTimer {
		m.timer.Stop()
	}
	return w
}

// quiesce suspends the peripherals in reverse order. On failure the ones
// already suspended are resumed and the sleep is abandoned.
func (m *Manager) quiesce() error {
	for i := len(m.periph) - 1; i >= 0; i-- {
		p := m.periph[i]
		if err := p.p.Suspend(); err != nil {
			err = fmt.Errorf("power: suspending %s: %w", p.name, err)
			return m.join(err, m.restore(i+1))
		}
	}
	return nil
}

// restore resumes the peripherals from index from, in order.
func (m *Manager) restore(from int) error {
	var errs []error
	for _, p := range m.periph[from:] {
		if err := p.p.Resume(); err != nil {
			errs = append(errs, fmt.Errorf("power: resuming %s: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) join(err, other error) error {
	if other == nil {
		return err
	}
	return errors.Join(err, other)
}
