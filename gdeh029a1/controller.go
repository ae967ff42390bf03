// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gdeh029a1

import "bytes"

type controller interface {
	sendCommand(byte)
	sendData([]byte)
	waitUntilIdle()
}

func initDisplay(ctrl controller, opts *Opts, mode Mode) {
	if mode != Partial {
		ctrl.sendCommand(swReset)
		ctrl.waitUntilIdle()
	}

	ctrl.sendCommand(driverOutputControl)
	ctrl.sendData([]byte{
		byte((opts.Width - 1) & 0xFF),
		byte((opts.Width - 1) >> 8),
		0x00,
	})

	ctrl.sendCommand(boosterSoftStartControl)
	ctrl.sendData([]byte{0xD7, 0xD6, 0x9D})

	// X increment, Y decrement, counter moves along X first.
	ctrl.sendCommand(dataEntryModeSetting)
	ctrl.sendData([]byte{0x01})

	ctrl.sendCommand(writeVcomRegister)
	ctrl.sendData([]byte{0x9A})

	ctrl.sendCommand(setDummyLinePeriod)
	ctrl.sendData([]byte{0x1A})

	ctrl.sendCommand(setGateTime)
	ctrl.sendData([]byte{0x08})

	ctrl.sendCommand(borderWaveformControl)
	if mode == Partial {
		ctrl.sendData([]byte{0x01})
	} else {
		ctrl.sendData([]byte{0x33})
	}

	ctrl.sendCommand(writeLutRegister)
	ctrl.sendData(opts.lut(mode))
}

// window is a RAM window in controller coordinates.
type window struct {
	shortStart, shortEnd int // Bands
	longStart, longEnd   int // Columns, counting down from the panel edge
}

// windowAddress translates a logical window. Arguments must have been
// validated by checkWindow.
func windowAddress(opts *Opts, x, y8, w, h8 int) window {
	start := opts.Width - 1 - x
	return window{
		shortStart: y8,
		shortEnd:   y8 + h8 - 1,
		longStart:  start,
		longEnd:    start - w + 1,
	}
}

func setWindow(ctrl controller, opts *Opts, x, y8, w, h8 int) {
	win := windowAddress(opts, x, y8, w, h8)

	ctrl.sendCommand(setRAMXAddressStartEndPosition)
	ctrl.sendData([]byte{byte(win.shortStart), byte(win.shortEnd & 0x1F)})

	ctrl.sendCommand(setRAMYAddressStartEndPosition)
	ctrl.sendData([]byte{
		byte(win.longStart & 0xFF),
		byte((win.longStart >> 8) & 0x01),
		byte(win.longEnd & 0xFF),
		byte((win.longEnd >> 8) & 0x01),
	})

	setCursor(ctrl, win.longStart, y8)
}

// setCursor takes the column in controller coordinates.
func setCursor(ctrl controller, long, y8 int) {
	ctrl.sendCommand(setRAMXAddressCounter)
	ctrl.sendData([]byte{byte(y8)})

	ctrl.sendCommand(setRAMYAddressCounter)
	ctrl.sendData([]byte{byte(long & 0xFF), byte((long >> 8) & 0x01)})
}

func clearRAM(ctrl controller, opts *Opts) {
	bands := opts.Height / 8
	setWindow(ctrl, opts, 0, 0, opts.Width, bands)
	ctrl.sendCommand(writeRAM)
	ctrl.sendData(bytes.Repeat([]byte{0xFF}, opts.Width*bands))
	setWindow(ctrl, opts, 0, 0, opts.Width, bands)
}

func update(ctrl controller, sequence byte, wait bool) {
	ctrl.sendCommand(displayUpdateControl2)
	ctrl.sendData([]byte{sequence})
	ctrl.sendCommand(masterActivation)
	if wait {
		ctrl.waitUntilIdle()
	}
}

func deepSleep(ctrl controller) {
	update(ctrl, updateDeepSleep, true)
	ctrl.sendCommand(deepSleepMode)
	ctrl.sendData([]byte{0x01})
}
