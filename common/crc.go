// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains functions used across multiple packages. For
// example, a CRC8 calculation
package common

import "fmt"

// CRC8 calculates the 8-bit CRC of the byte slice parameter and returns the
// calculated value. CRC bytes are used in sensors from TI and Sensirion.
//
// The polynomial is 0x31 with an initial value of 0xFF.
func CRC8(bytes []byte) byte {
	var crc byte = 0xff
	for _, val := range bytes {
		crc ^= val
		for i := 0; i < 8; i++ {
			if (crc & 0x80) == 0 {
				crc <<= 1
			} else {
				crc = (byte)((crc << 1) ^ 0x31)
			}
		}
	}
	return crc
}

// Words decodes a Sensirion response: big endian 16 bit words, each one
// followed by its CRC8.
func Words(b []byte) ([]uint16, error) {
	if len(b)%3 != 0 {
		return nil, fmt.Errorf("common: response of %d bytes is not made of words", len(b))
	}
	out := make([]uint16, 0, len(b)/3)
	for i := 0; i < len(b); i += 3 {
		if crc := CRC8(b[i : i+2]); crc != b[i+2] {
			return nil, fmt.Errorf("common: word %d crc 0x%02x != 0x%02x", i/3, b[i+2], crc)
		}
		out = append(out, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return out, nil
}

// AppendWord appends w and its CRC8 to b.
func AppendWord(b []byte, w uint16) []byte {
	v := []byte{byte(w >> 8), byte(w)}
	return append(b, v[0], v[1], CRC8(v))
}
