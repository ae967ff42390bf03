// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bandimage

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

func TestSetConverts(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   color.Color
		want image1bit.Bit
	}{
		{"white", color.White, image1bit.On},
		{"black", color.Black, image1bit.Off},
		{"light gray", color.Gray{Y: 0xC0}, image1bit.On},
		{"dark gray", color.Gray{Y: 0x40}, image1bit.Off},
		{"bit", image1bit.Off, image1bit.Off},
	} {
		t.Run(tc.name, func(t *testing.T) {
			img := NewVerticalMSB(image.Rect(0, 0, 1, 8))
			img.Set(0, 0, tc.in)
			if got := img.BitAt(0, 0); got != tc.want {
				t.Errorf("Set(%v) stored %v, want %v", tc.in, got, tc.want)
			}
			if got := img.At(0, 0); got != color.Color(tc.want) {
				t.Errorf("At() = %v", got)
			}
		})
	}
}

func TestAlignBands(t *testing.T) {
	for _, tc := range []struct {
		in, want image.Rectangle
	}{
		{image.Rect(0, 0, 10, 8), image.Rect(0, 0, 10, 8)},
		{image.Rect(0, 3, 10, 9), image.Rect(0, 0, 10, 16)},
		{image.Rect(5, 8, 6, 15), image.Rect(5, 8, 6, 16)},
		{image.Rect(0, -3, 1, 1), image.Rect(0, -8, 1, 8)},
	} {
		if diff := cmp.Diff(AlignBands(tc.in), tc.want); diff != "" {
			t.Errorf("AlignBands(%v) difference (-got +want):\n%s", tc.in, diff)
		}
	}
}

func TestVerticalMSB(t *testing.T) {
	img := NewVerticalMSB(image.Rect(0, 0, 3, 16))
	if img.Stride != 2 || len(img.Pix) != 6 {
		t.Fatalf("unexpected layout: stride %d, %d bytes", img.Stride, len(img.Pix))
	}
	for _, v := range img.Pix {
		if v != 0xFF {
			t.Fatalf("new image is not white: %x", img.Pix)
		}
	}

	img.SetBit(0, 0, image1bit.Off)
	img.SetBit(1, 9, image1bit.Off)
	img.Set(2, 15, color.Black)
	img.SetBit(10, 10, image1bit.Off) // Outside, ignored.

	want := []byte{0x7F, 0xFF, 0xFF, 0xBF, 0xFF, 0xFE}
	if diff := cmp.Diff(img.Pix, want); diff != "" {
		t.Errorf("Pix difference (-got +want):\n%s", diff)
	}
	if img.BitAt(1, 9) != image1bit.Off || img.BitAt(1, 8) != image1bit.On {
		t.Error("BitAt() mismatch")
	}
	if img.BitAt(-1, 0) != image1bit.On {
		t.Error("outside pixels must be white")
	}

	if diff := cmp.Diff(img.Window(image.Rect(1, 8, 3, 16)), []byte{0xBF, 0xFE}); diff != "" {
		t.Errorf("Window() difference (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(img.Window(image.Rect(1, 3, 2, 9)), []byte{0xFF, 0xBF}); diff != "" {
		t.Errorf("Window() unaligned difference (-got +want):\n%s", diff)
	}
	if got := img.Window(image.Rect(5, 0, 9, 8)); got != nil {
		t.Errorf("Window() outside = %x, want nil", got)
	}
}

func TestDraw(t *testing.T) {
	img := NewVerticalMSB(image.Rect(0, 0, 8, 8))
	draw.Draw(img, image.Rect(0, 0, 8, 4), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	for x := 0; x < 8; x++ {
		if got := img.Column(x)[0]; got != 0x0F {
			t.Fatalf("column %d = %#x, want 0x0f", x, got)
		}
	}
}
