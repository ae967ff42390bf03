// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gdeh029a1

import (
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// errorHandler is a wrapper for error management. The first error stops
// every following bus and pin access.
type errorHandler struct {
	d   *Dev
	err error
}

func (eh *errorHandler) rstOut(l gpio.Level) {
	if eh.err != nil {
		return
	}
	eh.err = eh.d.rst.Out(l)
}

// cTx splits w in chunks the connection accepts.
func (eh *errorHandler) cTx(w []byte, r []byte) {
	if eh.err != nil {
		return
	}
	max := 0
	if l, ok := eh.d.c.(conn.Limits); ok {
		max = l.MaxTxSize()
	}
	if max <= 0 || len(w) <= max || r != nil {
		eh.err = eh.d.c.Tx(w, r)
		return
	}
	for len(w) > 0 && eh.err == nil {
		n := len(w)
		if n > max {
			n = max
		}
		eh.err = eh.d.c.Tx(w[:n], nil)
		w = w[n:]
	}
}

func (eh *errorHandler) dcOut(l gpio.Level) {
	if eh.err != nil {
		return
	}
	eh.err = eh.d.dc.Out(l)
}

func (eh *errorHandler) csOut(l gpio.Level) {
	if eh.err != nil {
		return
	}
	eh.err = eh.d.cs.Out(l)
}

func (eh *errorHandler) delay(d time.Duration) {
	if eh.err != nil || d <= 0 {
		return
	}
	eh.d.clk.Sleep(d)
}

func (eh *errorHandler) waitUntilIdle() {
	if eh.err != nil {
		return
	}
	eh.err = eh.d.waitUntilIdle()
}

func (eh *errorHandler) sendCommand(cmd byte) {
	if eh.err != nil {
		return
	}

	eh.dcOut(gpio.Low)
	eh.csOut(gpio.Low)
	eh.cTx([]byte{cmd}, nil)
	eh.csOut(gpio.High)
}

func (eh *errorHandler) sendData(data []byte) {
	if eh.err != nil {
		return
	}

	eh.dcOut(gpio.High)
	eh.csOut(gpio.Low)
	eh.cTx(data, nil)
	eh.csOut(gpio.High)
}
