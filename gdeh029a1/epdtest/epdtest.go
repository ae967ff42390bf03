// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package epdtest implements a simulated GDEH029A1 controller.
//
// Panel is an spi.Port and owns the DC, CS, RST and BUSY lines. Bytes sent
// while CS is low are decoded as commands or data depending on DC; RAM
// writes follow the window, cursor and data entry mode the way the
// controller does.
//
// The controller forgets the previous frame in deep sleep and when its
// supply, the active low Power line, is cut. Only a software reset brings
// it back to a known state; refreshes run before that are counted by
// Stale.
package epdtest

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/GermanBionicSystems/epdclock/bandimage"
	"github.com/GermanBionicSystems/epdclock/internal/syncutil"
)

// Command is one decoded command and its parameters.
type Command struct {
	Cmd  byte
	Data []byte
}

// Panel simulates the controller and its 296x128 panel.
type Panel struct {
	// BusyReads is the number of reads of the busy line that return High
	// after an update is activated or a software reset is issued.
	BusyReads int
	// StuckBusy keeps the busy line High forever.
	StuckBusy bool

	mu        syncutil.Mutex
	width     int
	bands     int
	connected bool
	dc        *gpiotest.Pin
	cs        *gpiotest.Pin
	rst       *resetLine
	busy      *busyLine
	power     *powerLine
	log       []Command
	ram       []byte // [band][long]
	shown     *bandimage.VerticalMSB
	xStart    int
	xEnd      int
	yStart    int
	yEnd      int
	x, y      int
	entry     byte
	busyLeft  int
	resets    int
	deepSleep bool
	lost      bool
	updates   int
	stale     int
}

// New returns a simulated 296x128 panel.
func New() *Panel {
	p := &Panel{
		width: 296,
		bands: 16,
		dc:    &gpiotest.Pin{N: "DC"},
		cs:    &gpiotest.Pin{N: "CS"},
		entry: 0x03,
		lost:  true,
	}
	p.rst = &resetLine{Pin: gpiotest.Pin{N: "RST"}, p: p}
	p.busy = &busyLine{Pin: gpiotest.Pin{N: "BUSY"}, p: p}
	p.power = &powerLine{Pin: gpiotest.Pin{N: "EPD_PWR", L: gpio.High}, p: p}
	p.ram = bytes.Repeat([]byte{0xFF}, p.width*p.bands)
	p.shown = bandimage.NewVerticalMSB(image.Rect(0, 0, p.width, p.bands*8))
	return p
}

// DC returns the data/command line.
func (p *Panel) DC() gpio.PinOut { return p.dc }

// CS returns the chip select line.
func (p *Panel) CS() gpio.PinOut { return p.cs }

// RST returns the reset line.
func (p *Panel) RST() gpio.PinOut { return p.rst }

// Busy returns the busy line.
func (p *Panel) Busy() gpio.PinIn { return p.busy }

// Power returns the active low supply switch. It starts off.
func (p *Panel) Power() gpio.PinOut { return p.power }

func (p *Panel) String() string {
	return "epdtest"
}

// Connect implements spi.Port.
func (p *Panel) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return nil, errors.New("epdtest: Connect cannot be called twice")
	}
	if mode != spi.Mode0 || bits != 8 {
		return nil, fmt.Errorf("epdtest: unsupported mode %s, %d bits", mode, bits)
	}
	p.connected = true
	return &panelConn{p: p}, nil
}

// Log returns the commands received since the last reset of the log.
func (p *Panel) Log() []Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Command(nil), p.log...)
}

// ResetLog clears the command log.
func (p *Panel) ResetLog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = nil
}

// Commands returns the command bytes of the log.
func (p *Panel) Commands() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.log))
	for i, c := range p.log {
		out[i] = c.Cmd
	}
	return out
}

// Resets returns the number of hardware reset pulses seen.
func (p *Panel) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

// Updates returns the number of refreshes performed.
func (p *Panel) Updates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updates
}

// Stale returns the number of refreshes run after the previous frame was
// lost, without a software reset in between.
func (p *Panel) Stale() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stale
}

// DeepSleep returns true when the controller was put in deep sleep.
func (p *Panel) DeepSleep() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deepSleep
}

// RAM returns the controller RAM as a logical image.
func (p *Panel) RAM() *bandimage.VerticalMSB {
	p.mu.Lock()
	defer p.mu.Unlock()
	img := bandimage.NewVerticalMSB(image.Rect(0, 0, p.width, p.bands*8))
	for x := 0; x < p.width; x++ {
		col := img.Column(x)
		for b := range col {
			col[b] = p.ram[b*p.width+(p.width-1-x)]
		}
	}
	return img
}

// Image returns what the panel shows, as of the last refresh.
func (p *Panel) Image() *bandimage.VerticalMSB {
	p.mu.Lock()
	defer p.mu.Unlock()
	img := *p.shown
	img.Pix = append([]byte(nil), p.shown.Pix...)
	return &img
}

// Render writes the shown image to w using ANSI colors, one character per
// 2x4 pixels. A nil w selects stdout.
func (p *Panel) Render(w io.Writer) error {
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	img := p.Image()
	r := img.Bounds()
	var buf bytes.Buffer
	for y := r.Min.Y; y < r.Max.Y; y += 4 {
		_, _ = buf.WriteString("\r\033[0m")
		for x := r.Min.X; x < r.Max.X; x += 2 {
			c := color.NRGBA{0xFF, 0xFF, 0xFF, 0xFF}
			if img.BitAt(x, y) == image1bit.Off || img.BitAt(x, y+2) == image1bit.Off {
				c = color.NRGBA{0, 0, 0, 0xFF}
			}
			_, _ = io.WriteString(&buf, ansi256.Default.Block(c))
		}
		_, _ = buf.WriteString("\033[0m\n")
	}
	_, err := buf.WriteTo(w)
	return err
}

func (p *Panel) tx(w []byte) error {
	if p.cs.Read() != gpio.Low {
		return errors.New("epdtest: transfer with CS high")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dc.Read() == gpio.Low {
		for _, c := range w {
			p.command(c)
		}
		return nil
	}
	if len(p.log) == 0 {
		return errors.New("epdtest: data without a command")
	}
	cur := &p.log[len(p.log)-1]
	if cur.Cmd == 0x24 {
		for _, v := range w {
			p.writeRAM(v)
		}
		cur.Data = append(cur.Data, w...)
		return nil
	}
	cur.Data = append(cur.Data, w...)
	p.parameters(cur)
	return nil
}

func (p *Panel) command(c byte) {
	p.log = append(p.log, Command{Cmd: c})
	switch c {
	case 0x12:
		p.entry = 0x03
		p.lost = false
		p.busyLeft = p.BusyReads
	case 0x20:
		p.activate()
	}
}

// parameters applies the data received so far for cur.
func (p *Panel) parameters(cur *Command) {
	d := cur.Data
	if len(d) == 0 {
		return
	}
	switch cur.Cmd {
	case 0x11:
		p.entry = d[0]
	case 0x44:
		if len(d) >= 2 {
			p.xStart, p.xEnd = int(d[0]), int(d[1])
		}
	case 0x45:
		if len(d) >= 4 {
			p.yStart = int(d[0]) | int(d[1]&1)<<8
			p.yEnd = int(d[2]) | int(d[3]&1)<<8
		}
	case 0x4E:
		p.x = int(d[0])
	case 0x4F:
		if len(d) >= 2 {
			p.y = int(d[0]) | int(d[1]&1)<<8
		}
	case 0x10:
		if d[0]&1 != 0 {
			p.deepSleep = true
			p.lost = true
		}
	}
}

func (p *Panel) activate() {
	var seq byte
	for i := len(p.log) - 2; i >= 0; i-- {
		if p.log[i].Cmd == 0x22 && len(p.log[i].Data) != 0 {
			seq = p.log[i].Data[0]
			break
		}
	}
	p.busyLeft = p.BusyReads
	if seq&0x04 == 0 {
		return
	}
	p.updates++
	if p.lost {
		p.stale++
	}
	for x := 0; x < p.width; x++ {
		col := p.shown.Column(x)
		for b := range col {
			col[b] = p.ram[b*p.width+(p.width-1-x)]
		}
	}
}

func (p *Panel) writeRAM(v byte) {
	if p.x >= 0 && p.x < p.bands && p.y >= 0 && p.y < p.width {
		p.ram[p.x*p.width+p.y] = v
	}
	// Only the X first address mode is modeled.
	if p.entry&0x01 != 0 {
		p.x++
	} else {
		p.x--
	}
	if p.x == p.xEnd+step(p.entry&0x01 != 0) {
		p.x = p.xStart
		if p.entry&0x02 != 0 {
			p.y++
		} else {
			p.y--
		}
		if p.y == p.yEnd+step(p.entry&0x02 != 0) {
			p.y = p.yStart
		}
	}
}

func step(inc bool) int {
	if inc {
		return 1
	}
	return -1
}

func (p *Panel) reset() {
	p.resets++
	p.deepSleep = false
	p.entry = 0x03
	p.xStart, p.xEnd = 0, p.bands-1
	p.yStart, p.yEnd = 0, p.width-1
	p.x, p.y = 0, 0
}

func (p *Panel) readBusy() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.StuckBusy {
		return gpio.High
	}
	if p.busyLeft > 0 {
		p.busyLeft--
		return gpio.High
	}
	return gpio.Low
}

type panelConn struct {
	p *Panel
}

func (c *panelConn) String() string {
	return c.p.String()
}

func (c *panelConn) Duplex() conn.Duplex {
	return conn.Half
}

func (c *panelConn) Tx(w, r []byte) error {
	if len(r) != 0 {
		return errors.New("epdtest: the controller is write only")
	}
	return c.p.tx(w)
}

func (c *panelConn) TxPackets(pkts []spi.Packet) error {
	for _, pkt := range pkts {
		if err := c.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

// resetLine resets the controller on a rising edge.
type resetLine struct {
	gpiotest.Pin
	p *Panel
}

func (l *resetLine) Out(lvl gpio.Level) error {
	prev := l.Pin.Read()
	if err := l.Pin.Out(lvl); err != nil {
		return err
	}
	if prev == gpio.Low && lvl == gpio.High {
		l.p.mu.Lock()
		l.p.reset()
		l.p.mu.Unlock()
	}
	return nil
}

// powerLine loses the controller state when the supply is switched off.
type powerLine struct {
	gpiotest.Pin
	p *Panel
}

func (l *powerLine) Out(lvl gpio.Level) error {
	if err := l.Pin.Out(lvl); err != nil {
		return err
	}
	if lvl == gpio.High {
		l.p.mu.Lock()
		l.p.lost = true
		l.p.mu.Unlock()
	}
	return nil
}

type busyLine struct {
	gpiotest.Pin
	p *Panel
}

func (l *busyLine) Read() gpio.Level {
	return l.p.readBusy()
}

var _ spi.Port = &Panel{}
var _ spi.Conn = &panelConn{}
