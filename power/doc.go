// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package power sequences the low-power states of the clock.
//
// Three sleep depths are supported. LightSleep and Stop keep the RAM and
// return to the caller once a wake source fires. Standby loses the RAM:
// the next wake up restarts the program and never returns from
// EnterStandby.
//
// Before any sleep, the registered peripherals are suspended in reverse
// registration order and every wake line is disarmed and cleared; only the
// sources valid for the requested state are then armed again. After a
// returning wake up the lines are cleared without running their handlers
// and the peripherals are resumed in registration order.
//
// The chip is reached through the Core, Line and Timer interfaces, which
// the board support code implements and powertest simulates.
package power
