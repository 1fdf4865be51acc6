// Package colorutil provides shared color utilities for frame analysis and debug overlays.
package colorutil

import (
	"image/color"
	"math"
)

// Overlay colors used on debug artifacts.
var (
	Green = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Marker is the salmon-pink used by the renderer for point markers.
var Marker = color.RGBA{R: 250, G: 128, B: 114, A: 255}

// HSVOf converts c to HSV on the OpenCV 8-bit scale (H 0-180, S 0-255,
// V 0-255), matching gocv.ColorBGRToHSV.
func HSVOf(c color.RGBA) (h, s, v float64) {
	r, g, b := float64(c.R), float64(c.G), float64(c.B)
	hi := math.Max(r, math.Max(g, b))
	lo := math.Min(r, math.Min(g, b))
	chroma := hi - lo

	v = hi
	if hi > 0 {
		s = 255 * chroma / hi
	}
	if chroma == 0 {
		return 0, s, v
	}

	var deg float64
	switch hi {
	case r:
		deg = 60 * (g - b) / chroma
	case g:
		deg = 120 + 60*(b-r)/chroma
	default:
		deg = 240 + 60*(r-g)/chroma
	}
	if deg < 0 {
		deg += 360
	}
	return deg / 2, s, v
}
