// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gdeh029a1

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/GermanBionicSystems/epdclock/bandimage"
	"github.com/GermanBionicSystems/epdclock/fault"
	"github.com/GermanBionicSystems/epdclock/tick"
)

// Commands
const (
	driverOutputControl            byte = 0x01
	boosterSoftStartControl        byte = 0x0C
	deepSleepMode                  byte = 0x10
	dataEntryModeSetting           byte = 0x11
	swReset                        byte = 0x12
	masterActivation               byte = 0x20
	displayUpdateControl2          byte = 0x22
	writeRAM                       byte = 0x24
	writeVcomRegister              byte = 0x2C
	writeLutRegister               byte = 0x32
	setDummyLinePeriod             byte = 0x3A
	setGateTime                    byte = 0x3B
	borderWaveformControl          byte = 0x3C
	setRAMXAddressStartEndPosition byte = 0x44
	setRAMYAddressStartEndPosition byte = 0x45
	setRAMXAddressCounter          byte = 0x4E
	setRAMYAddressCounter          byte = 0x4F
)

// Display update sequences for displayUpdateControl2.
const (
	updateShow      byte = 0xC4
	updateSleep     byte = 0x02
	updateDeepSleep byte = 0x03
)

// Mode selects the waveform table.
type Mode int

const (
	// Full refreshes every pixel with the high quality waveform.
	Full Mode = iota
	// Partial keeps the RAM across Init and only drives changed pixels. It
	// needs the previous frame retained by the controller: it is refused
	// after a deep sleep or a power down until a Full or Fast Init.
	Partial
	// Fast uses a shorter waveform than Full.
	Fast
)

func (m Mode) String() string {
	switch m {
	case Full:
		return "Full"
	case Partial:
		return "Partial"
	case Fast:
		return "Fast"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// LUT contains the waveform that is used to program the display.
type LUT []byte

// LUTSize is the size of a waveform table.
const LUTSize = 30

// Opts defines the structure of the display configuration.
type Opts struct {
	Width  int // Columns, along the long axis
	Height int // Rows, a multiple of 8

	Full    LUT
	Partial LUT
	Fast    LUT

	// BusyTimeout bounds every wait on the busy line.
	BusyTimeout time.Duration
	// ResetPulse is the duration of each level of the reset pulse.
	ResetPulse time.Duration
	// Settle is the delay after the control lines are first driven high.
	Settle time.Duration
	// Clock is used for the delays. Nil selects the real clock.
	Clock clockwork.Clock
}

// GDEH029A1 contains the display configuration of the Good Display 2.9"
// panel.
var GDEH029A1 = Opts{
	Width:  296,
	Height: 128,
	Full: LUT{
		0x00, 0x00, 0xA6, 0x65, 0x66,
		0x6A, 0x9A, 0x98, 0x66, 0x64,
		0x66, 0x00, 0x55, 0x99, 0x11,
		0x88, 0x11, 0x88, 0x11, 0x88,
		0x00, 0xFF, 0xFF, 0xFF, 0xFF,
		0x2F, 0xFF, 0xFF, 0xFF, 0xFF,
	},
	Partial: LUT{
		0x10, 0x18, 0x18, 0x08, 0x18,
		0x18, 0x08, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00,
		0x13, 0x14, 0x44, 0x12, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00,
	},
	Fast: LUT{
		0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x66, 0x64,
		0x66, 0x00, 0x55, 0x99, 0x11,
		0x88, 0x11, 0x88, 0x11, 0x88,
		0x00, 0x00, 0x00, 0x00, 0x77,
		0x17, 0x77, 0x77, 0x77, 0x77,
	},
	BusyTimeout: 5 * time.Second,
	ResetPulse:  time.Millisecond,
	Settle:      10 * time.Microsecond,
}

func (o *Opts) lut(m Mode) LUT {
	switch m {
	case Partial:
		return o.Partial
	case Fast:
		return o.Fast
	default:
		return o.Full
	}
}

func (o *Opts) validate() error {
	if o.Width <= 0 || o.Width > 512 {
		return errors.New("gdeh029a1: width must be between 1 and 512")
	}
	if o.Height <= 0 || o.Height%8 != 0 || o.Height > 256 {
		return errors.New("gdeh029a1: height must be a multiple of 8 up to 256")
	}
	for _, l := range []LUT{o.Full, o.Partial, o.Fast} {
		if len(l) != LUTSize {
			return fmt.Errorf("gdeh029a1: waveform tables must be %d bytes", LUTSize)
		}
	}
	if o.BusyTimeout <= 0 {
		return errors.New("gdeh029a1: busy timeout must be positive")
	}
	return nil
}

type state int

const (
	stateUninit state = iota
	stateReady
	stateSleep
	stateDeepSleep
)

// Dev defines the handler which is used to access the display.
type Dev struct {
	port spi.Port
	c    conn.Conn

	dc   gpio.PinOut
	cs   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn

	ticks tick.Source
	clk   clockwork.Clock
	opts  *Opts

	state     state
	mode      Mode
	retained  bool
	linesIdle bool
	indicator func(busy bool)
	buffer    *bandimage.VerticalMSB
}

// New creates new handler which is used to access the display.
//
// The SPI port is connected on the first Init.
func New(p spi.Port, dc, cs, rst gpio.PinOut, busy gpio.PinIn, ticks tick.Source, opts *Opts) (*Dev, error) {
	if p == nil || dc == nil || cs == nil || rst == nil || busy == nil || ticks == nil {
		return nil, errors.New("gdeh029a1: port, pins and tick source are required")
	}
	if opts == nil {
		opts = &GDEH029A1
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	d := &Dev{
		port:   p,
		dc:     dc,
		cs:     cs,
		rst:    rst,
		busy:   busy,
		ticks:  ticks,
		clk:    clk,
		opts:   opts,
		buffer: bandimage.NewVerticalMSB(image.Rect(0, 0, opts.Width, opts.Height)),
	}
	return d, nil
}

// SetBusyIndicator registers f, called with true when a wait on the busy
// line starts and with false when it ends, on success and on timeout.
func (d *Dev) SetBusyIndicator(f func(busy bool)) {
	d.indicator = f
}

// LEDIndicator returns a busy indicator that turns the LED on p off while
// the panel is busy.
func LEDIndicator(p gpio.PinOut) func(busy bool) {
	return func(busy bool) {
		if busy {
			_ = p.Out(gpio.Low)
		} else {
			_ = p.Out(gpio.High)
		}
	}
}

// Init resets the controller, configures the panel with the waveform table
// of mode and clears the RAM to white.
//
// Partial returns an error wrapping fault.ErrNotReady when Retained is
// false; nothing is sent to the controller in that case.
func (d *Dev) Init(mode Mode) error {
	if mode < Full || mode > Fast {
		return fmt.Errorf("gdeh029a1: invalid mode %d", int(mode))
	}
	if mode == Partial && !d.retained {
		return d.wrap("init", fmt.Errorf("%w: previous frame lost, partial refresh needs a full Init first", fault.ErrNotReady))
	}
	if d.c == nil {
		c, err := d.port.Connect(5*physic.MegaHertz, spi.Mode0, 8)
		if err != nil {
			return d.wrap("init", err)
		}
		d.c = c
	}

	eh := errorHandler{d: d}

	// All lines reset low; leaving them there leaks current through the
	// controller.
	if !d.linesIdle {
		eh.csOut(gpio.High)
		eh.dcOut(gpio.High)
		eh.rstOut(gpio.High)
		eh.delay(d.opts.Settle)
	}

	// Hardware reset
	eh.rstOut(gpio.Low)
	eh.delay(d.opts.ResetPulse)
	eh.rstOut(gpio.High)
	eh.delay(d.opts.ResetPulse)
	if eh.err == nil {
		d.linesIdle = true
	}

	initDisplay(&eh, d.opts, mode)
	clearRAM(&eh, d.opts)

	if eh.err != nil {
		d.state = stateUninit
		d.retained = false
		return d.wrap("init", eh.err)
	}
	d.mode = mode
	d.state = stateReady
	d.retained = true
	d.fillBuffer()
	return nil
}

// Mode returns the waveform table selected by the last Init.
func (d *Dev) Mode() Mode {
	return d.mode
}

// Retained reports whether the controller still holds the previous frame,
// that is whether Init(Partial) is allowed.
func (d *Dev) Retained() bool {
	return d.retained
}

// SetWindow selects the RAM region the next SendRAM fills: w columns from x
// and h8 bands of 8 rows from band y8.
func (d *Dev) SetWindow(x, y8, w, h8 int) error {
	if err := d.ready("window"); err != nil {
		return err
	}
	if err := d.checkWindow(x, y8, w, h8); err != nil {
		return err
	}
	eh := errorHandler{d: d}
	setWindow(&eh, d.opts, x, y8, w, h8)
	return d.wrap("window", eh.err)
}

// SetCursor moves the RAM write pointer to band y8 of the controller column
// x. Controller columns count down from the right edge of the panel: column
// x shows the logical column Width-1-x. SetWindow already leaves the cursor
// on the first column of the window.
func (d *Dev) SetCursor(x, y8 int) error {
	if err := d.ready("cursor"); err != nil {
		return err
	}
	if x < 0 || x >= d.opts.Width || y8 < 0 || y8 >= d.opts.Height/8 {
		return fmt.Errorf("gdeh029a1: cursor (%d, %d) outside of the panel", x, y8)
	}
	eh := errorHandler{d: d}
	setCursor(&eh, x, y8)
	return d.wrap("cursor", eh.err)
}

// SendRAM writes data at the cursor. Bytes are consumed band first, one
// column after the other, the most significant bit being the top row and a
// set bit being white.
//
// Data sent this way bypasses the frame buffer used by Draw.
func (d *Dev) SendRAM(data []byte) error {
	if err := d.ready("send"); err != nil {
		return err
	}
	eh := errorHandler{d: d}
	eh.sendCommand(writeRAM)
	eh.sendData(data)
	return d.wrap("send", eh.err)
}

// ClearRAM fills the RAM with white and selects the whole panel.
func (d *Dev) ClearRAM() error {
	if err := d.ready("clear"); err != nil {
		return err
	}
	eh := errorHandler{d: d}
	clearRAM(&eh, d.opts)
	if eh.err != nil {
		return d.wrap("clear", eh.err)
	}
	d.fillBuffer()
	return nil
}

// Show refreshes the panel from the RAM. When wait is true it returns once
// the panel is idle again.
//
// A failed refresh leaves the previous image on the panel.
func (d *Dev) Show(wait bool) error {
	if err := d.ready("show"); err != nil {
		return err
	}
	eh := errorHandler{d: d}
	update(&eh, updateShow, wait)
	if eh.err != nil {
		return d.wrap("show", eh.err)
	}
	d.state = stateReady
	return nil
}

// EnterSleep turns the analog part off. The RAM is retained and Show can be
// called without Init.
func (d *Dev) EnterSleep() error {
	if err := d.ready("sleep"); err != nil {
		return err
	}
	eh := errorHandler{d: d}
	update(&eh, updateSleep, true)
	if eh.err != nil {
		return d.wrap("sleep", eh.err)
	}
	d.state = stateSleep
	return nil
}

// EnterDeepSleep turns the controller off. Init must be called before the
// next drawing operation.
func (d *Dev) EnterDeepSleep() error {
	if err := d.ready("deep sleep"); err != nil {
		return err
	}
	eh := errorHandler{d: d}
	deepSleep(&eh)
	if eh.err != nil {
		return d.wrap("deep sleep", eh.err)
	}
	d.state = stateDeepSleep
	d.retained = false
	return nil
}

// PowerDown drives the control lines low so no current flows into an
// unpowered controller. The lines are driven high again on the next Init.
func (d *Dev) PowerDown() error {
	eh := errorHandler{d: d}
	eh.rstOut(gpio.Low)
	eh.dcOut(gpio.Low)
	eh.csOut(gpio.Low)
	d.linesIdle = false
	d.state = stateUninit
	d.retained = false
	return d.wrap("power down", eh.err)
}

// Suspend puts the controller in deep sleep and releases the lines, before
// the clock enters a low-power state.
func (d *Dev) Suspend() error {
	if d.state == stateReady || d.state == stateSleep {
		if err := d.EnterDeepSleep(); err != nil {
			return err
		}
	}
	return d.PowerDown()
}

// Resume does nothing: the panel is brought back by Init when there is
// something to draw.
func (d *Dev) Resume() error {
	return nil
}

// Halt implements conn.Resource. The panel keeps its image.
func (d *Dev) Halt() error {
	if d.state == stateReady || d.state == stateSleep {
		return d.EnterDeepSleep()
	}
	return nil
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return image1bit.BitModel
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.opts.Width, d.opts.Height)
}

// String returns a string containing configuration information.
func (d *Dev) String() string {
	return fmt.Sprintf("gdeh029a1.Dev{%s, %s, Width: %d, Height: %d}", d.port, d.dc, d.opts.Width, d.opts.Height)
}

func (d *Dev) waitUntilIdle() error {
	if d.indicator != nil {
		d.indicator(true)
		defer d.indicator(false)
	}
	return tick.Wait(d.ticks, tick.Budget(d.opts.BusyTimeout), func() bool {
		return d.busy.Read() == gpio.High
	})
}

func (d *Dev) ready(op string) error {
	switch d.state {
	case stateReady, stateSleep:
		return nil
	case stateDeepSleep:
		return d.wrap(op, fmt.Errorf("%w: controller is in deep sleep", fault.ErrNotReady))
	default:
		return d.wrap(op, fmt.Errorf("%w: Init was not called", fault.ErrNotReady))
	}
}

func (d *Dev) checkWindow(x, y8, w, h8 int) error {
	bands := d.opts.Height / 8
	if x < 0 || x >= d.opts.Width || w <= 0 || w > d.opts.Width-x {
		return fmt.Errorf("gdeh029a1: invalid window columns x=%d w=%d", x, w)
	}
	if y8 < 0 || h8 <= 0 || y8+h8 > bands {
		return fmt.Errorf("gdeh029a1: invalid window bands y8=%d h8=%d", y8, h8)
	}
	return nil
}

func (d *Dev) fillBuffer() {
	for i := range d.buffer.Pix {
		d.buffer.Pix[i] = 0xFF
	}
}

func (d *Dev) wrap(op string, err error) error {
	return fault.Wrap("gdeh029a1", op, err)
}

var _ display.Drawer = &Dev{}
