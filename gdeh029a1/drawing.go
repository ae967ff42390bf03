// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gdeh029a1

import (
	"fmt"
	"image"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/GermanBionicSystems/epdclock/bandimage"
)

// Draw implements display.Drawer.
//
// The pixels of dstRect are written to the RAM, extended to the bands they
// touch. Call Show to refresh the panel.
func (d *Dev) Draw(dstRect image.Rectangle, src image.Image, srcPts image.Point) error {
	if err := d.ready("draw"); err != nil {
		return err
	}
	r := dstRect.Intersect(d.Bounds())
	if r.Empty() {
		return nil
	}
	draw.Src.Draw(d.buffer, r, src, srcPts)
	return d.sendRect("draw", r)
}

// DrawHLine draws a black horizontal line of length columns from (x, y),
// width rows thick.
//
// The controller repaints whole bands: the other rows of the bands the line
// touches are cleared to white.
func (d *Dev) DrawHLine(x, y, length, width int) error {
	if err := d.ready("hline"); err != nil {
		return err
	}
	line := image.Rect(x, y, x+length, y+width)
	if err := d.checkLine(line); err != nil {
		return err
	}
	return d.drawLine("hline", line)
}

// DrawVLine draws a black vertical line of length rows from (x, y), width
// columns thick.
//
// The other rows of the bands the line touches are cleared to white.
func (d *Dev) DrawVLine(x, y, length, width int) error {
	if err := d.ready("vline"); err != nil {
		return err
	}
	line := image.Rect(x, y, x+width, y+length)
	if err := d.checkLine(line); err != nil {
		return err
	}
	return d.drawLine("vline", line)
}

// DrawText renders s with face starting at column x, band y8, and returns
// the column after the last glyph. Each glyph occupies a white cell as tall
// as the face, rounded up to whole bands. gap columns are left between
// glyphs. Spaces only advance.
//
// Glyphs that would not fit on the panel are not drawn.
func (d *Dev) DrawText(x, y8, gap int, s string, face font.Face) (int, error) {
	if err := d.ready("text"); err != nil {
		return x, err
	}
	m := face.Metrics()
	h8 := (m.Height.Ceil() + 7) / 8
	if y8 < 0 || h8 <= 0 || y8+h8 > d.opts.Height/8 {
		return x, fmt.Errorf("gdeh029a1: text at band %d does not fit", y8)
	}
	for _, r := range s {
		adv, ok := face.GlyphAdvance(r)
		if !ok {
			adv, _ = face.GlyphAdvance('?')
		}
		w := adv.Ceil()
		if r == ' ' {
			x += w + gap
			continue
		}
		if w <= 0 || x < 0 || x+w > d.opts.Width {
			break
		}
		cell := image.Rect(x, y8*8, x+w, (y8+h8)*8)
		draw.Src.Draw(d.buffer, cell, &image.Uniform{C: image1bit.On}, image.Point{})
		dr := font.Drawer{
			Dst:  d.buffer,
			Src:  &image.Uniform{C: image1bit.Off},
			Face: face,
			Dot:  fixed.P(x, y8*8+m.Ascent.Ceil()),
		}
		dr.DrawString(string(r))
		if err := d.sendRect("text", cell); err != nil {
			return x, err
		}
		x += w + gap
	}
	return x, nil
}

func (d *Dev) checkLine(r image.Rectangle) error {
	if r.Empty() || !r.In(d.Bounds()) {
		return fmt.Errorf("gdeh029a1: line %v outside of the panel", r)
	}
	return nil
}

func (d *Dev) drawLine(op string, line image.Rectangle) error {
	bands := bandimage.AlignBands(line)
	draw.Src.Draw(d.buffer, bands, &image.Uniform{C: image1bit.On}, image.Point{})
	draw.Src.Draw(d.buffer, line, &image.Uniform{C: image1bit.Off}, image.Point{})
	return d.sendRect(op, bands)
}

// sendRect writes the bands of r from the frame buffer.
func (d *Dev) sendRect(op string, r image.Rectangle) error {
	r = bandimage.AlignBands(r)
	eh := errorHandler{d: d}
	setWindow(&eh, d.opts, r.Min.X, r.Min.Y/8, r.Dx(), r.Dy()/8)
	eh.sendCommand(writeRAM)
	eh.sendData(d.buffer.Window(r))
	return d.wrap(op, eh.err)
}
