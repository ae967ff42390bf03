// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package i2cbus implements a two-wire bus master on top of a register-level
// peripheral, with every wait bounded by a tick.Guard and a recovery
// procedure for a slave left holding SDA low.
//
// Every transaction that issued a START ends with a STOP or with a full
// recovery cycle, on the success path, on NACK and on timeout.
//
// Bus implements periph's i2c.Bus, so regular periph device drivers work on
// top of it, and i2c.Pins.
//
// # Recovery
//
// A slave interrupted in the middle of a read keeps driving SDA low until it
// sees enough clock pulses to finish shifting out its byte. Recover takes the
// lines away from the peripheral, clocks SCL by hand until SDA is released,
// emits a STOP condition and hands the lines back.
package i2cbus
