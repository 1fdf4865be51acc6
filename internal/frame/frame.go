// Package frame provides captured frame loading and the fixed three-view section split.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"pointcloud-tally/pkg/geometry"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnreadableFrame is returned when a frame file is missing or cannot be decoded.
	ErrUnreadableFrame = errors.New("unreadable frame")
	// ErrFrameTooSmall is returned when a frame cannot hold three sections.
	ErrFrameTooSmall = errors.New("frame too small to split")
)

// Frame is one captured screenshot plus its frame number.
// The image is owned by the frame and must be treated as read-only.
type Frame struct {
	Number int
	Image  gocv.Mat // BGR, 8-bit
}

// Load reads and decodes a frame file.
func Load(path string, number int) (Frame, error) {
	img, err := Decode(path)
	if err != nil {
		return Frame{}, err
	}
	return FromImage(img, number)
}

// Decode reads an image file. Any format registered with the image package
// is accepted (PNG, JPEG, GIF, BMP, TIFF, WebP).
func Decode(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrUnreadableFrame, path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %v", ErrUnreadableFrame, path, err)
	}
	return img, nil
}

// FromImage converts a decoded image into a Frame.
func FromImage(img image.Image, number int) (Frame, error) {
	mat, err := imageToMat(img)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrUnreadableFrame, err)
	}
	return Frame{Number: number, Image: mat}, nil
}

// Close releases the frame image.
func (f Frame) Close() error {
	return f.Image.Close()
}

// Width returns the frame width in pixels.
func (f Frame) Width() int { return f.Image.Cols() }

// Height returns the frame height in pixels.
func (f Frame) Height() int { return f.Image.Rows() }

// SectionView is one horizontal band of a frame.
type SectionView struct {
	Section Section
	Bounds  geometry.RectInt // Location within the frame
	Mat     gocv.Mat         // Region view into the frame image
}

// Close releases the region header. The underlying pixels belong to the frame.
func (v SectionView) Close() error {
	return v.Mat.Close()
}

// SectionHeight returns floor(h/3).
func SectionHeight(frameHeight int) int {
	return frameHeight / 3
}

// SectionBounds returns the band a section occupies in a w×h frame.
// Remainder rows below 3*(h/3) belong to no section.
func SectionBounds(s Section, w, h int) geometry.RectInt {
	sh := SectionHeight(h)
	return geometry.RectInt{X: 0, Y: s.Index() * sh, Width: w, Height: sh}
}

// Split divides the frame into the Overhead, Side, and Back bands.
// The caller must Close each returned view.
func Split(f Frame) ([3]SectionView, error) {
	var views [3]SectionView
	if f.Image.Empty() {
		return views, fmt.Errorf("%w: empty image", ErrUnreadableFrame)
	}
	if f.Height() < 3 {
		return views, fmt.Errorf("%w: height %d", ErrFrameTooSmall, f.Height())
	}

	w, h := f.Width(), f.Height()
	for i, s := range Sections {
		b := SectionBounds(s, w, h)
		views[i] = SectionView{
			Section: s,
			Bounds:  b,
			Mat:     f.Image.Region(b.ImageRect()),
		}
	}
	return views, nil
}

// imageToMat converts a Go image to a BGR Mat via an RGBA copy.
func imageToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty image")
	}

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) || rgba.Stride != 4*bounds.Dx() {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	mat, err := gocv.NewMatFromBytes(bounds.Dy(), bounds.Dx(), gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to wrap pixels: %w", err)
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}
