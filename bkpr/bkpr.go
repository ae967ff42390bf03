// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bkpr accesses the RTC backup registers: five 32 bit registers
// kept across Standby and resets, lost on power loss.
//
// Bytes and half words are little endian inside their register. Every
// write is read back.
package bkpr

import (
	"errors"
	"fmt"

	"github.com/GermanBionicSystems/epdclock/internal/syncutil"
)

// Size is the number of 32 bit registers.
const Size = 5

// ErrVerify is returned when a register does not read back what was
// written.
var ErrVerify = errors.New("bkpr: read back mismatch")

// Backend is the register file.
type Backend interface {
	Load(i int) uint32
	// Store writes register i. Write access is enabled for the duration of
	// the call.
	Store(i int, v uint32)
	// ResetDomain resets the backup domain, clearing every register.
	ResetDomain()
}

// Dev is a view of the backup registers.
type Dev struct {
	b Backend
}

// New returns a view of b.
func New(b Backend) *Dev {
	return &Dev{b: b}
}

// ReadByte returns the byte at addr, 0 to 19.
func (d *Dev) ReadByte(addr int) (byte, error) {
	if addr < 0 || addr >= Size*4 {
		return 0, fmt.Errorf("bkpr: byte address %d out of range", addr)
	}
	return byte(d.b.Load(addr/4) >> (uint(addr%4) * 8)), nil
}

// WriteByte writes the byte at addr, 0 to 19.
func (d *Dev) WriteByte(addr int, v byte) error {
	if addr < 0 || addr >= Size*4 {
		return fmt.Errorf("bkpr: byte address %d out of range", addr)
	}
	d.update(addr/4, uint(addr%4)*8, 0xFF, uint32(v))
	if got, _ := d.ReadByte(addr); got != v {
		return fmt.Errorf("%w: byte %d is 0x%02x, wrote 0x%02x", ErrVerify, addr, got, v)
	}
	return nil
}

// ReadWord returns the half word at addr, 0 to 9.
func (d *Dev) ReadWord(addr int) (uint16, error) {
	if addr < 0 || addr >= Size*2 {
		return 0, fmt.Errorf("bkpr: word address %d out of range", addr)
	}
	return uint16(d.b.Load(addr/2) >> (uint(addr%2) * 16)), nil
}

// WriteWord writes the half word at addr, 0 to 9.
func (d *Dev) WriteWord(addr int, v uint16) error {
	if addr < 0 || addr >= Size*2 {
		return fmt.Errorf("bkpr: word address %d out of range", addr)
	}
	d.update(addr/2, uint(addr%2)*16, 0xFFFF, uint32(v))
	if got, _ := d.ReadWord(addr); got != v {
		return fmt.Errorf("%w: word %d is 0x%04x, wrote 0x%04x", ErrVerify, addr, got, v)
	}
	return nil
}

// ReadDWord returns register addr, 0 to 4.
func (d *Dev) ReadDWord(addr int) (uint32, error) {
	if addr < 0 || addr >= Size {
		return 0, fmt.Errorf("bkpr: register %d out of range", addr)
	}
	return d.b.Load(addr), nil
}

// WriteDWord writes register addr, 0 to 4.
func (d *Dev) WriteDWord(addr int, v uint32) error {
	if addr < 0 || addr >= Size {
		return fmt.Errorf("bkpr: register %d out of range", addr)
	}
	d.b.Store(addr, v)
	if got := d.b.Load(addr); got != v {
		return fmt.Errorf("%w: register %d is 0x%08x, wrote 0x%08x", ErrVerify, addr, got, v)
	}
	return nil
}

// ResetAll clears every register.
func (d *Dev) ResetAll() error {
	d.b.ResetDomain()
	for i := 0; i < Size; i++ {
		if v := d.b.Load(i); v != 0 {
			return fmt.Errorf("%w: register %d is 0x%08x after reset", ErrVerify, i, v)
		}
	}
	return nil
}

func (d *Dev) update(i int, shift uint, mask, v uint32) {
	cur := d.b.Load(i)
	cur &^= mask << shift
	cur |= v << shift
	d.b.Store(i, cur)
}

// Mem is a Backend in memory.
type Mem struct {
	mu   syncutil.Mutex
	regs [Size]uint32
	// ReadOnly drops every store, like a domain with write access locked.
	ReadOnly bool
}

// Load implements Backend.
func (m *Mem) Load(i int) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[i]
}

// Store implements Backend.
func (m *Mem) Store(i int, v uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ReadOnly {
		m.regs[i] = v
	}
}

// ResetDomain implements Backend.
func (m *Mem) ResetDomain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ReadOnly {
		m.regs = [Size]uint32{}
	}
}

var _ Backend = &Mem{}
