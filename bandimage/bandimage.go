// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bandimage implements the 1-bit image format of e-paper
// controllers that address their RAM in bands of 8 rows.
//
// Each byte holds 8 vertically adjacent pixels of one column, the most
// significant bit being the top row. Pixels are image1bit.Bit: a set bit,
// image1bit.On, is white. Columns are stored one after the other, each
// column being Stride bytes, top band first:
//
//	x=0: band 0, band 1, ... band Stride-1
//	x=1: band 0, band 1, ...
//
// This is the order in which the controller consumes bytes when its address
// counter advances along the short axis first.
package bandimage

import (
	"image"
	"image/color"

	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// VerticalMSB is a band packed 1-bit image.
type VerticalMSB struct {
	Pix    []byte          // Column major, Stride bytes per column
	Stride int             // Bands per column
	Rect   image.Rectangle // Rect.Min.Y and Rect.Max.Y are multiples of 8
}

// NewVerticalMSB returns an all-white image covering r, with r extended to
// whole bands.
func NewVerticalMSB(r image.Rectangle) *VerticalMSB {
	r = AlignBands(r)
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 {
		return &VerticalMSB{Rect: r}
	}
	stride := h / 8
	pix := make([]byte, w*stride)
	for i := range pix {
		pix[i] = 0xFF
	}
	return &VerticalMSB{Pix: pix, Stride: stride, Rect: r}
}

// AlignBands extends r vertically to the enclosing whole bands.
func AlignBands(r image.Rectangle) image.Rectangle {
	r.Min.Y = floor8(r.Min.Y)
	r.Max.Y = -floor8(-r.Max.Y)
	return r
}

func floor8(v int) int {
	if v >= 0 {
		return v &^ 7
	}
	return -((-v + 7) &^ 7)
}

// ColorModel implements image.Image.
func (i *VerticalMSB) ColorModel() color.Model {
	return image1bit.BitModel
}

// Bounds implements image.Image.
func (i *VerticalMSB) Bounds() image.Rectangle {
	return i.Rect
}

// At implements image.Image.
func (i *VerticalMSB) At(x, y int) color.Color {
	return i.BitAt(x, y)
}

// BitAt returns the pixel at (x, y). Pixels outside the image are white.
func (i *VerticalMSB) BitAt(x, y int) image1bit.Bit {
	if !(image.Point{X: x, Y: y}.In(i.Rect)) {
		return image1bit.On
	}
	off, mask := i.PixOffset(x, y)
	return image1bit.Bit(i.Pix[off]&mask != 0)
}

// Set implements draw.Image.
func (i *VerticalMSB) Set(x, y int, c color.Color) {
	i.SetBit(x, y, image1bit.BitModel.Convert(c).(image1bit.Bit))
}

// SetBit sets the pixel at (x, y).
func (i *VerticalMSB) SetBit(x, y int, b image1bit.Bit) {
	if !(image.Point{X: x, Y: y}.In(i.Rect)) {
		return
	}
	off, mask := i.PixOffset(x, y)
	if b {
		i.Pix[off] |= mask
	} else {
		i.Pix[off] &^= mask
	}
}

// PixOffset returns the index of the byte holding (x, y) and the mask of
// its bit.
func (i *VerticalMSB) PixOffset(x, y int) (int, byte) {
	dy := y - i.Rect.Min.Y
	return (x-i.Rect.Min.X)*i.Stride + dy/8, 0x80 >> uint(dy%8)
}

// Column returns the bytes of column x, top band first.
func (i *VerticalMSB) Column(x int) []byte {
	off := (x - i.Rect.Min.X) * i.Stride
	return i.Pix[off : off+i.Stride]
}

// Window returns the bytes of the band aligned rectangle r in controller
// order: column by column, top band first. r is clipped to the image.
func (i *VerticalMSB) Window(r image.Rectangle) []byte {
	r = AlignBands(r).Intersect(i.Rect)
	if r.Empty() {
		return nil
	}
	first := (r.Min.Y - i.Rect.Min.Y) / 8
	bands := r.Dy() / 8
	out := make([]byte, 0, r.Dx()*bands)
	for x := r.Min.X; x < r.Max.X; x++ {
		out = append(out, i.Column(x)[first:first+bands]...)
	}
	return out
}
