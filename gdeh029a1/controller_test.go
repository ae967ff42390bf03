// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gdeh029a1

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type record struct {
	cmd  byte
	data []byte
	wait bool
}

type fakeController []record

func (r *fakeController) sendCommand(cmd byte) {
	*r = append(*r, record{
		cmd: cmd,
	})
}

func (r *fakeController) sendData(data []byte) {
	cur := &(*r)[len(*r)-1]
	cur.data = append(cur.data, data...)
}

func (r *fakeController) waitUntilIdle() {
	if len(*r) != 0 {
		(*r)[len(*r)-1].wait = true
	}
}

func diffRecords(got fakeController, want []record) string {
	return cmp.Diff([]record(got), want, cmpopts.EquateEmpty(), cmp.AllowUnexported(record{}))
}

func TestInitDisplay(t *testing.T) {
	common := func(border byte, lut LUT) []record {
		return []record{
			{cmd: driverOutputControl, data: []byte{0x27, 0x01, 0x00}},
			{cmd: boosterSoftStartControl, data: []byte{0xD7, 0xD6, 0x9D}},
			{cmd: dataEntryModeSetting, data: []byte{0x01}},
			{cmd: writeVcomRegister, data: []byte{0x9A}},
			{cmd: setDummyLinePeriod, data: []byte{0x1A}},
			{cmd: setGateTime, data: []byte{0x08}},
			{cmd: borderWaveformControl, data: []byte{border}},
			{cmd: writeLutRegister, data: lut},
		}
	}
	for _, tc := range []struct {
		name string
		mode Mode
		want []record
	}{
		{
			name: "full",
			mode: Full,
			want: append([]record{{cmd: swReset, wait: true}}, common(0x33, GDEH029A1.Full)...),
		},
		{
			name: "partial keeps the RAM",
			mode: Partial,
			want: common(0x01, GDEH029A1.Partial),
		},
		{
			name: "fast",
			mode: Fast,
			want: append([]record{{cmd: swReset, wait: true}}, common(0x33, GDEH029A1.Fast)...),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got fakeController

			initDisplay(&got, &GDEH029A1, tc.mode)

			if diff := diffRecords(got, tc.want); diff != "" {
				t.Errorf("initDisplay() difference (-got +want):\n%s", diff)
			}
		})
	}
}

func TestLUTs(t *testing.T) {
	for _, m := range []Mode{Full, Partial, Fast} {
		if n := len(GDEH029A1.lut(m)); n != LUTSize {
			t.Errorf("%s table is %d bytes", m, n)
		}
	}
}

func TestWindowAddressBoundary(t *testing.T) {
	opts := &GDEH029A1
	for x := 0; x < opts.Width; x++ {
		for _, w := range []int{1, 2, 7, 8, 128, opts.Width - x} {
			if w > opts.Width-x {
				continue
			}
			for _, h := range [][2]int{{0, 16}, {3, 1}, {15, 1}} {
				win := windowAddress(opts, x, h[0], w, h[1])
				lo, hi := win.longEnd, win.longStart
				if lo != opts.Width-1-x-w+1 || hi != opts.Width-1-x {
					t.Fatalf("SetWindow(%d, %d, %d, %d) long axis (%d, %d)", x, h[0], w, h[1], lo, hi)
				}
				if lo < 0 || hi >= opts.Width || lo > hi {
					t.Fatalf("SetWindow(%d, %d, %d, %d) long axis (%d, %d) out of range", x, h[0], w, h[1], lo, hi)
				}
				if win.shortStart != h[0] || win.shortEnd != h[0]+h[1]-1 {
					t.Fatalf("SetWindow(%d, %d, %d, %d) short axis (%d, %d)", x, h[0], w, h[1], win.shortStart, win.shortEnd)
				}
			}
		}
	}

	full := windowAddress(opts, 0, 0, 296, 16)
	if full.longEnd != 0 || full.longStart != 295 || full.shortStart != 0 || full.shortEnd != 15 {
		t.Errorf("full panel window = %+v", full)
	}
}

func TestSetWindow(t *testing.T) {
	for _, tc := range []struct {
		name          string
		x, y8, w, h8  int
		want          []record
	}{
		{
			name: "full panel",
			x:    0, y8: 0, w: 296, h8: 16,
			want: []record{
				{cmd: setRAMXAddressStartEndPosition, data: []byte{0x00, 0x0F}},
				{cmd: setRAMYAddressStartEndPosition, data: []byte{0x27, 0x01, 0x00, 0x00}},
				{cmd: setRAMXAddressCounter, data: []byte{0x00}},
				{cmd: setRAMYAddressCounter, data: []byte{0x27, 0x01}},
			},
		},
		{
			name: "inner",
			x:    10, y8: 2, w: 20, h8: 3,
			want: []record{
				{cmd: setRAMXAddressStartEndPosition, data: []byte{0x02, 0x04}},
				{cmd: setRAMYAddressStartEndPosition, data: []byte{0x1D, 0x01, 0x0A, 0x01}},
				{cmd: setRAMXAddressCounter, data: []byte{0x02}},
				{cmd: setRAMYAddressCounter, data: []byte{0x1D, 0x01}},
			},
		},
		{
			name: "last column",
			x:    295, y8: 15, w: 1, h8: 1,
			want: []record{
				{cmd: setRAMXAddressStartEndPosition, data: []byte{0x0F, 0x0F}},
				{cmd: setRAMYAddressStartEndPosition, data: []byte{0x00, 0x00, 0x00, 0x00}},
				{cmd: setRAMXAddressCounter, data: []byte{0x0F}},
				{cmd: setRAMYAddressCounter, data: []byte{0x00, 0x00}},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got fakeController

			setWindow(&got, &GDEH029A1, tc.x, tc.y8, tc.w, tc.h8)

			if diff := diffRecords(got, tc.want); diff != "" {
				t.Errorf("setWindow() difference (-got +want):\n%s", diff)
			}
		})
	}
}

func TestClearRAM(t *testing.T) {
	var got fakeController
	clearRAM(&got, &GDEH029A1)

	window := []record{
		{cmd: setRAMXAddressStartEndPosition, data: []byte{0x00, 0x0F}},
		{cmd: setRAMYAddressStartEndPosition, data: []byte{0x27, 0x01, 0x00, 0x00}},
		{cmd: setRAMXAddressCounter, data: []byte{0x00}},
		{cmd: setRAMYAddressCounter, data: []byte{0x27, 0x01}},
	}
	want := append(append(append([]record{}, window...), record{cmd: writeRAM, data: bytes.Repeat([]byte{0xFF}, 4736)}), window...)
	if diff := diffRecords(got, want); diff != "" {
		t.Errorf("clearRAM() difference (-got +want):\n%s", diff)
	}
}

func TestUpdate(t *testing.T) {
	for _, tc := range []struct {
		name string
		fn   func(controller)
		want []record
	}{
		{
			name: "show and wait",
			fn:   func(c controller) { update(c, updateShow, true) },
			want: []record{
				{cmd: displayUpdateControl2, data: []byte{0xC4}},
				{cmd: masterActivation, wait: true},
			},
		},
		{
			name: "show without waiting",
			fn:   func(c controller) { update(c, updateShow, false) },
			want: []record{
				{cmd: displayUpdateControl2, data: []byte{0xC4}},
				{cmd: masterActivation},
			},
		},
		{
			name: "sleep",
			fn:   func(c controller) { update(c, updateSleep, true) },
			want: []record{
				{cmd: displayUpdateControl2, data: []byte{0x02}},
				{cmd: masterActivation, wait: true},
			},
		},
		{
			name: "deep sleep",
			fn:   deepSleep,
			want: []record{
				{cmd: displayUpdateControl2, data: []byte{0x03}},
				{cmd: masterActivation, wait: true},
				{cmd: deepSleepMode, data: []byte{0x01}},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got fakeController
			tc.fn(&got)
			if diff := diffRecords(got, tc.want); diff != "" {
				t.Errorf("difference (-got +want):\n%s", diff)
			}
		})
	}
}
