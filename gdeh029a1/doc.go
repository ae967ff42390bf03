// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gdeh029a1 controls the GDEH029A1 2.9" 296x128 black and white
// e-paper panel over SPI.
//
// The panel is addressed in landscape: X runs along the 296 columns, Y along
// the 128 rows which the controller groups in bands of 8. A window or line
// that touches a band makes the controller repaint the whole band.
//
// Three waveform tables are available. Full gives the cleanest image, Fast
// refreshes quicker at the cost of ghosting and Partial keeps the retained
// RAM and only drives changed pixels. The table is chosen by Init and stays
// until the next Init. The retained RAM does not survive a deep sleep or a
// power down; Partial is refused until the next Full or Fast Init.
//
// # Datasheet
//
// https://www.good-display.com/product/201.html
package gdeh029a1
