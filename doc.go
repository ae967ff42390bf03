// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package epdclock is a container for the firmware core of a battery
// powered e-paper clock.
//
// The clock sleeps in Standby, wakes up on an RTC alarm or a button,
// refreshes its GDEH029A1 panel and goes back to sleep. See package firmware
// for the boot flow, power for the sleep states and i2cbus for the bus
// recovery used by the sensor and RTC drivers.
//
// cmd/epdclock runs one cycle on simulated hardware or on a board driven
// through periph.
package epdclock
