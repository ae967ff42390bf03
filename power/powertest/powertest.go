// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package powertest implements a simulated chip for package power.
//
// A successful Standby and a system reset end the calling goroutine with
// runtime.Goexit, like the chip restarting from its entry point. Run the
// code under test with Run to observe it.
package powertest

import (
	"errors"
	"runtime"

	"github.com/GermanBionicSystems/epdclock/internal/syncutil"
	"github.com/GermanBionicSystems/epdclock/power"
)

// Run calls f on a new goroutine and reports whether f returned. It returns
// false when f entered Standby or reset the chip.
func Run(f func()) bool {
	done := make(chan bool)
	go func() {
		returned := false
		defer func() { done <- returned }()
		f()
		returned = true
	}()
	return <-done
}

// Line is a simulated wake line.
type Line struct {
	N string
	W power.Wake

	mu      syncutil.Mutex
	armed   bool
	pending bool
	arms    int
}

func (l *Line) String() string {
	return l.N
}

// Source returns the wake source of the line.
func (l *Line) Source() power.Wake {
	return l.W
}

// Arm implements power.Line.
func (l *Line) Arm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.armed = true
	l.arms++
}

// Disarm implements power.Line.
func (l *Line) Disarm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.armed = false
}

// ClearPending implements power.Line.
func (l *Line) ClearPending() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = false
}

// Pending implements power.Line.
func (l *Line) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

// Armed reports whether the line can wake the chip.
func (l *Line) Armed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.armed
}

// Arms returns the number of calls to Arm.
func (l *Line) Arms() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arms
}

// Fire latches an event on the line, armed or not.
func (l *Line) Fire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = true
}

// Timer is a simulated low-power timer.
type Timer struct {
	Line
	// StartErr is returned by Start.
	StartErr error

	counts  uint16
	running bool
}

// NewTimer returns a stopped timer.
func NewTimer() *Timer {
	return &Timer{Line: Line{N: "LPTIM", W: power.WakeTimer}}
}

// Start implements power.Timer.
func (t *Timer) Start(counts uint16) error {
	if t.StartErr != nil {
		return t.StartErr
	}
	t.mu.Lock()
	t.counts = counts
	t.running = true
	t.mu.Unlock()
	t.Arm()
	return nil
}

// Stop implements power.Timer.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	t.Disarm()
}

// Running reports whether the timer counts, and its reload value.
func (t *Timer) Running() (bool, uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running, t.counts
}

// Expire fires the compare match if the timer runs.
func (t *Timer) Expire() {
	t.mu.Lock()
	running := t.running
	t.mu.Unlock()
	if running {
		t.Fire()
	}
}

// Waker is a wake line watched by Core.
type Waker interface {
	Source() power.Wake
	Armed() bool
	Pending() bool
}

// Suspension is the configuration of the chip when Suspend was called.
type Suspension struct {
	State      power.State
	Armed      power.Wake
	Pending    power.Wake
	Interrupts bool

	UltraLowPower     bool
	FastWakeUp        bool
	HSI16AfterStop    bool
	LowPowerRegulator bool
	FlashPowerDown    bool
	StandbyWakePin    bool
	LowSpeedClocks    bool
}

// Core is a simulated chip.
type Core struct {
	// Watch are the lines snapshotted on Suspend.
	Watch []Waker
	// WakeUp is called on Suspend for LightSleep and Stop, standing in for
	// the event that wakes the chip.
	WakeUp func(s power.State)
	// StandbyFails is the number of Standby attempts that return.
	StandbyFails int
	// ResetReturns makes SystemReset return.
	ResetReturns bool

	mu          syncutil.Mutex
	cfg         Suspension
	wakeFlag    bool
	standbyFlag bool
	calls       []string
	suspensions []Suspension
	resets      int
}

// NewCore returns a chip with interrupts enabled and low speed clocks
// running, watching lines.
func NewCore(lines ...Waker) *Core {
	return &Core{
		Watch: lines,
		cfg:   Suspension{Interrupts: true, FastWakeUp: true, LowSpeedClocks: true},
	}
}

// SetFlags sets the wake up and standby flags, as left by a previous
// Standby.
func (c *Core) SetFlags(wakeUp, standby bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wakeFlag, c.standbyFlag = wakeUp, standby
}

// Flags returns the wake up and standby flags.
func (c *Core) Flags() (wakeUp, standby bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wakeFlag, c.standbyFlag
}

// Calls returns the names of the calls received, in order.
func (c *Core) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Suspensions returns the snapshots taken at each Suspend.
func (c *Core) Suspensions() []Suspension {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Suspension(nil), c.suspensions...)
}

// Interrupts reports whether interrupts are enabled.
func (c *Core) Interrupts() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Interrupts
}

// UltraLowPower reports whether the ultra-low-power mode is on.
func (c *Core) UltraLowPower() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.UltraLowPower
}

// Resets returns the number of calls to SystemReset.
func (c *Core) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

func (c *Core) set(name string, f func(s *Suspension)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
	if f != nil {
		f(&c.cfg)
	}
}

// DisableInterrupts implements power.Core.
func (c *Core) DisableInterrupts() {
	c.set("DisableInterrupts", func(s *Suspension) { s.Interrupts = false })
}

// EnableInterrupts implements power.Core.
func (c *Core) EnableInterrupts() {
	c.set("EnableInterrupts", func(s *Suspension) { s.Interrupts = true })
}

// SetUltraLowPower implements power.Core.
func (c *Core) SetUltraLowPower(on bool) {
	c.set("SetUltraLowPower", func(s *Suspension) { s.UltraLowPower = on })
}

// SetFastWakeUp implements power.Core.
func (c *Core) SetFastWakeUp(on bool) {
	c.set("SetFastWakeUp", func(s *Suspension) { s.FastWakeUp = on })
}

// UseHSI16AfterStop implements power.Core.
func (c *Core) UseHSI16AfterStop() {
	c.set("UseHSI16AfterStop", func(s *Suspension) { s.HSI16AfterStop = true })
}

// SetLowPowerRegulator implements power.Core.
func (c *Core) SetLowPowerRegulator(on bool) {
	c.set("SetLowPowerRegulator", func(s *Suspension) { s.LowPowerRegulator = on })
}

// SetFlashPowerDown implements power.Core.
func (c *Core) SetFlashPowerDown(on bool) {
	c.set("SetFlashPowerDown", func(s *Suspension) { s.FlashPowerDown = on })
}

// SetStandbyWakePin implements power.Core.
func (c *Core) SetStandbyWakePin(on bool) {
	c.set("SetStandbyWakePin", func(s *Suspension) { s.StandbyWakePin = on })
}

// ClearWakeUpFlag implements power.Core.
func (c *Core) ClearWakeUpFlag() {
	c.set("ClearWakeUpFlag", nil)
	c.mu.Lock()
	c.wakeFlag = false
	c.mu.Unlock()
}

// ClearStandbyFlag implements power.Core.
func (c *Core) ClearStandbyFlag() {
	c.set("ClearStandbyFlag", nil)
	c.mu.Lock()
	c.standbyFlag = false
	c.mu.Unlock()
}

// StopLowSpeedClocks implements power.Core.
func (c *Core) StopLowSpeedClocks() {
	c.set("StopLowSpeedClocks", func(s *Suspension) { s.LowSpeedClocks = false })
}

// Suspend implements power.Core.
//
// LightSleep and Stop call WakeUp and return. Standby returns while
// StandbyFails is positive and calls runtime.Goexit otherwise.
func (c *Core) Suspend(s power.State) {
	c.mu.Lock()
	c.calls = append(c.calls, "Suspend("+s.String()+")")
	snap := c.cfg
	snap.State = s
	for _, l := range c.Watch {
		if l.Armed() {
			snap.Armed |= l.Source()
		}
		if l.Pending() {
			snap.Pending |= l.Source()
		}
	}
	c.suspensions = append(c.suspensions, snap)
	fail := false
	if s == power.Standby {
		if c.StandbyFails > 0 {
			c.StandbyFails--
			fail = true
		}
	}
	wake := c.WakeUp
	c.mu.Unlock()

	if s != power.Standby {
		if wake != nil {
			wake(s)
		}
		return
	}
	if fail {
		return
	}
	runtime.Goexit()
}

// SystemReset implements power.Core. It calls runtime.Goexit unless
// ResetReturns is set.
func (c *Core) SystemReset() {
	c.mu.Lock()
	c.calls = append(c.calls, "SystemReset")
	c.resets++
	returns := c.ResetReturns
	c.mu.Unlock()
	if !returns {
		runtime.Goexit()
	}
}

// Peripheral records the calls it receives into a shared log.
type Peripheral struct {
	N          string
	Log        *[]string
	SuspendErr error
	ResumeErr  error
}

// Suspend implements power.Peripheral.
func (p *Peripheral) Suspend() error {
	*p.Log = append(*p.Log, "suspend "+p.N)
	return p.SuspendErr
}

// Resume implements power.Peripheral.
func (p *Peripheral) Resume() error {
	*p.Log = append(*p.Log, "resume "+p.N)
	return p.ResumeErr
}

// ErrInjected is an error used to simulate failing peripherals.
var ErrInjected = errors.New("powertest: injected failure")

var _ power.Core = &Core{}
var _ power.Line = &Line{}
var _ power.Timer = &Timer{}
var _ power.Peripheral = &Peripheral{}
