package detect

import (
	"image/color"

	"pointcloud-tally/pkg/colorutil"
)

// MarkerBand is an inclusive HSV range (OpenCV scale: H 0-180, S/V 0-255).
type MarkerBand struct {
	HueMin, HueMax float64
	SatMin, SatMax float64
	ValMin, ValMax float64
}

// Contains reports whether an HSV triple falls inside the band.
func (b MarkerBand) Contains(h, s, v float64) bool {
	return h >= b.HueMin && h <= b.HueMax &&
		s >= b.SatMin && s <= b.SatMax &&
		v >= b.ValMin && v <= b.ValMax
}

// Matches reports whether c falls inside at least one marker band.
func (p Params) Matches(c color.RGBA) bool {
	h, s, v := colorutil.HSVOf(c)
	for _, b := range p.Bands {
		if b.Contains(h, s, v) {
			return true
		}
	}
	return false
}

// Params holds canvas and point-marker detection parameters.
type Params struct {
	// Canvas detection
	CanvasThreshold float64 // Gray level above which a pixel belongs to the canvas
	CanvasDivisor   int     // Canvas box must exceed 1/CanvasDivisor of the section in both axes

	// Marker color: union of all bands
	Bands []MarkerBand

	// Opening kernel size; 1 keeps single-pixel markers intact
	OpenKernel int

	// Inclusive component area range counted as a point
	MinBlobArea int
	MaxBlobArea int
}

// DefaultParams returns parameters tuned for the salmon/pink markers on a white canvas.
func DefaultParams() Params {
	return Params{
		CanvasThreshold: 200,
		CanvasDivisor:   4,

		Bands: []MarkerBand{
			// Reddish-pink through orange
			{HueMin: 0, HueMax: 30, SatMin: 10, SatMax: 255, ValMin: 100, ValMax: 255},
			// Pink-purple wrap-around
			{HueMin: 150, HueMax: 180, SatMin: 10, SatMax: 255, ValMin: 100, ValMax: 255},
		},

		OpenKernel: 1,

		// Larger blobs are merged clusters or labels
		MinBlobArea: 1,
		MaxBlobArea: 25,
	}
}

// WithBlobArea returns a copy of params with a custom point area range.
func (p Params) WithBlobArea(minArea, maxArea int) Params {
	p.MinBlobArea = minArea
	p.MaxBlobArea = maxArea
	return p
}

// WithCanvasThreshold returns a copy of params with a custom canvas brightness threshold.
func (p Params) WithCanvasThreshold(t float64) Params {
	p.CanvasThreshold = t
	return p
}

// WithMarkerBands returns a copy of params with custom marker color bands.
func (p Params) WithMarkerBands(bands ...MarkerBand) Params {
	p.Bands = append([]MarkerBand(nil), bands...)
	return p
}
