// Package reference reads the printed reference point count from each view
// and reconciles the three readings into one trusted number.
package reference

import "pointcloud-tally/pkg/geometry"

// Params configures where the count label is cropped and how it is prepared
// for recognition.
type Params struct {
	// Crop rectangle relative to the section. Y is measured up from the
	// section's bottom edge to the crop's top edge.
	CropX          int
	CropFromBottom int
	CropWidth      int
	CropHeight     int

	// Binary threshold applied before recognition; 0 skips binarization
	Threshold float64

	// Upscale factor applied with cubic interpolation; <= 1 keeps the crop size
	Scale float64
}

// DefaultParams returns the crop used by the renderer's bottom-left label.
func DefaultParams() Params {
	return Params{
		CropX:          10,
		CropFromBottom: 30,
		CropWidth:      100,
		CropHeight:     25,
		Threshold:      128,
		Scale:          2,
	}
}

// WithCrop returns a copy of params with a custom label rectangle.
func (p Params) WithCrop(x, fromBottom, width, height int) Params {
	p.CropX = x
	p.CropFromBottom = fromBottom
	p.CropWidth = width
	p.CropHeight = height
	return p
}

// WithPreprocess returns a copy of params with custom binarization and scale.
func (p Params) WithPreprocess(threshold, scale float64) Params {
	p.Threshold = threshold
	p.Scale = scale
	return p
}

// CropRect returns the label rectangle for a section of the given size,
// clamped to the section bounds.
func (p Params) CropRect(w, h int) geometry.RectInt {
	r := geometry.RectInt{
		X:      p.CropX,
		Y:      h - p.CropFromBottom,
		Width:  p.CropWidth,
		Height: p.CropHeight,
	}
	return r.ClampTo(w, h)
}
