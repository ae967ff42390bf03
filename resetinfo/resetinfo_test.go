// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package resetinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		name string
		regs Registers
		want Cause
	}{
		{"none", Registers{}, Unknown},
		{"power on", Registers{RCC: CSRPowerOn | CSRPin}, PowerOn},
		{"power on wins over standby", Registers{RCC: CSRPowerOn, PWR: PWRStandby}, PowerOn},
		{"pin", Registers{RCC: CSRPin}, ExternalReset},
		{"watchdog", Registers{RCC: CSRWatchdog}, ExternalReset},
		{"software before standby", Registers{RCC: CSRSoftware, PWR: PWRStandby}, ExternalReset},
		{"standby", Registers{PWR: PWRStandby}, WakeFromStandby},
		{"unrelated bits", Registers{RCC: 0x00FFFFFF, PWR: 0x1}, Unknown},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := tc.regs
			assert.Equal(t, tc.want, Classify(&r))
			assert.Zero(t, r.RCC&csrResetGroup, "reset flags not cleared")
			assert.Zero(t, r.PWR&PWRStandby, "standby flag not cleared")
			assert.Equal(t, Unknown, Classify(&r), "second read")
		})
	}
}

func TestClassifyClearsOnce(t *testing.T) {
	f := &recorder{por: true, standby: true}
	assert.Equal(t, PowerOn, Classify(f))
	assert.Equal(t, []string{"por", "clear standby", "clear resets"}, f.calls)
}

func TestCauseString(t *testing.T) {
	assert.Equal(t, "WakeFromStandby", WakeFromStandby.String())
	assert.Equal(t, "Cause(9)", Cause(9).String())
}

type recorder struct {
	por     bool
	standby bool
	calls   []string
}

func (r *recorder) PowerOnReset() bool {
	r.calls = append(r.calls, "por")
	return r.por
}

func (r *recorder) ResetGroup() uint8 {
	r.calls = append(r.calls, "group")
	return 0
}

func (r *recorder) StandbyWake() bool {
	r.calls = append(r.calls, "standby")
	return r.standby
}

func (r *recorder) ClearStandby() {
	r.calls = append(r.calls, "clear standby")
}

func (r *recorder) ClearResets() {
	r.calls = append(r.calls, "clear resets")
}
