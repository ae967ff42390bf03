// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package screen renders the clock face.
//
// The face is drawn in gray levels with anti-aliased text; the display
// driver thresholds it to black and white.
package screen

import (
	"fmt"
	"image"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"periph.io/x/conn/v3/physic"
)

// Reading is what the face shows.
type Reading struct {
	Time time.Time
	// Temperature and Humidity come from the humidity sensor. They are not
	// shown when SensorOK is false.
	Temperature physic.Temperature
	Humidity    physic.RelativeHumidity
	SensorOK    bool
}

// Face renders readings.
type Face struct {
	w, h  int
	large font.Face
	small font.Face
}

// New returns a Face for a display of size bounds.
func New(bounds image.Rectangle) (*Face, error) {
	if bounds.Dx() < 64 || bounds.Dy() < 32 {
		return nil, fmt.Errorf("screen: %v is too small", bounds)
	}
	bold, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("screen: %w", err)
	}
	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("screen: %w", err)
	}
	h := float64(bounds.Dy())
	return &Face{
		w:     bounds.Dx(),
		h:     bounds.Dy(),
		large: truetype.NewFace(bold, &truetype.Options{Size: h * 0.45}),
		small: truetype.NewFace(regular, &truetype.Options{Size: h * 0.13}),
	}, nil
}

// Render draws r.
func (f *Face) Render(r Reading) image.Image {
	w, h := float64(f.w), float64(f.h)
	dc := gg.NewContext(f.w, f.h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)

	dc.SetFontFace(f.large)
	dc.DrawStringAnchored(r.Time.Format("15:04"), w/2, h*0.42, 0.5, 0.5)

	dc.SetLineWidth(2)
	dc.DrawLine(4, h*0.72, w-4, h*0.72)
	dc.Stroke()

	dc.SetFontFace(f.small)
	dc.DrawStringAnchored(r.Time.Format("Mon 2006-01-02"), 6, h*0.86, 0, 0.5)
	dc.DrawStringAnchored(sensorText(r), w-6, h*0.86, 1, 0.5)
	return dc.Image()
}

func sensorText(r Reading) string {
	if !r.SensorOK {
		return "--.-°C --%"
	}
	return fmt.Sprintf("%.1f°C %.0f%%", r.Temperature.Celsius(), float64(r.Humidity)/float64(physic.PercentRH))
}
