// Package detect locates the rendered canvas inside a view section and counts
// the colored point markers drawn on it.
package detect

import (
	"fmt"
	"image"

	"pointcloud-tally/internal/artifact"
	"pointcloud-tally/pkg/colorutil"
	"pointcloud-tally/pkg/geometry"

	"gocv.io/x/gocv"
)

// statArea is the area column of the ConnectedComponentsWithStats output.
const statArea = 4

// CanvasMask thresholds a BGR section into a binary mask of bright pixels.
func CanvasMask(section gocv.Mat, p Params) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(section, &gray, gocv.ColorBGRToGray)

	binary := gocv.NewMat()
	gocv.Threshold(gray, &binary, float32(p.CanvasThreshold), 255, gocv.ThresholdBinary)
	return binary
}

// DetectRegion finds the largest bright rectangle in a section. Boxes must be
// wider than W/CanvasDivisor and taller than H/CanvasDivisor. The boolean is
// false when no box qualifies.
func DetectRegion(section gocv.Mat, p Params) (geometry.RectInt, bool) {
	if section.Empty() {
		return geometry.RectInt{}, false
	}
	binary := CanvasMask(section, p)
	defer binary.Close()
	return largestBox(binary, p)
}

func largestBox(binary gocv.Mat, p Params) (geometry.RectInt, bool) {
	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	div := max(1, p.CanvasDivisor)
	minW := binary.Cols() / div
	minH := binary.Rows() / div

	var best geometry.RectInt
	found := false
	for i := 0; i < contours.Size(); i++ {
		rect := geometry.FromImageRect(gocv.BoundingRect(contours.At(i)))
		if rect.Width <= minW || rect.Height <= minH {
			continue
		}
		if !found || rect.Area() > best.Area() {
			best = rect
			found = true
		}
	}
	return best, found
}

// MarkerMask returns a binary mask of marker-colored pixels in a BGR ROI,
// after a minimal opening.
func MarkerMask(roi gocv.Mat, p Params) gocv.Mat {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(roi, &hsv, gocv.ColorBGRToHSV)

	combined := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), roi.Rows(), roi.Cols(), gocv.MatTypeCV8U)
	band := gocv.NewMat()
	defer band.Close()
	for _, b := range p.Bands {
		gocv.InRangeWithScalar(hsv,
			gocv.NewScalar(b.HueMin, b.SatMin, b.ValMin, 0),
			gocv.NewScalar(b.HueMax, b.SatMax, b.ValMax, 0),
			&band)
		gocv.BitwiseOr(combined, band, &combined)
	}

	k := max(1, p.OpenKernel)
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(k, k))
	defer kernel.Close()

	cleaned := gocv.NewMat()
	gocv.MorphologyEx(combined, &cleaned, gocv.MorphOpen, kernel)
	combined.Close()
	return cleaned
}

// CountBlobs counts 8-connected components of a binary mask whose pixel area
// lies in [MinBlobArea, MaxBlobArea]. The background label is skipped.
func CountBlobs(mask gocv.Mat, p Params) int {
	if mask.Empty() {
		return 0
	}
	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStats(mask, &labels, &stats, &centroids)

	count := 0
	for i := 1; i < n; i++ {
		area := int(stats.GetIntAt(i, statArea))
		if area >= p.MinBlobArea && area <= p.MaxBlobArea {
			count++
		}
	}
	return count
}

// CountPoints counts point markers in a canvas ROI.
func CountPoints(roi gocv.Mat, p Params) int {
	if roi.Empty() {
		return 0
	}
	mask := MarkerMask(roi, p)
	defer mask.Close()
	return CountBlobs(mask, p)
}

// SectionCount is the outcome of counting one section.
type SectionCount struct {
	Points int
	Region geometry.RectInt
	Found  bool // false when no canvas was detected
}

// CountSection runs canvas detection then point counting on one section,
// recording intermediate images into arts under the given view tag.
// A missing canvas yields a zero count.
func CountSection(section gocv.Mat, tag string, p Params, arts *artifact.List) SectionCount {
	if section.Empty() {
		return SectionCount{}
	}

	binary := CanvasMask(section, p)
	defer binary.Close()
	arts.Add(fmt.Sprintf("3_%s_binary", tag), binary)

	rect, ok := largestBox(binary, p)
	if !ok {
		return SectionCount{}
	}

	if arts != nil {
		rectDebug := section.Clone()
		gocv.Rectangle(&rectDebug, rect.ImageRect(), colorutil.Green, 1)
		arts.Add(fmt.Sprintf("4_%s_rect", tag), rectDebug)
		rectDebug.Close()
	}

	roi := section.Region(rect.ImageRect())
	defer roi.Close()
	arts.Add(fmt.Sprintf("5_%s_roi", tag), roi)

	mask := MarkerMask(roi, p)
	defer mask.Close()
	arts.Add(fmt.Sprintf("6_%s_mask", tag), mask)

	points := CountBlobs(mask, p)

	if arts != nil {
		vis := roi.Clone()
		green := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 255, 0, 0), roi.Rows(), roi.Cols(), gocv.MatTypeCV8UC3)
		green.CopyToWithMask(&vis, mask)
		green.Close()
		arts.Add(fmt.Sprintf("7_%s_points", tag), vis)

		gocv.PutText(&vis, fmt.Sprintf("Points: %d", points), image.Pt(10, 30),
			gocv.FontHersheySimplex, 0.8, colorutil.Green, 2)
		arts.Add(fmt.Sprintf("8_%s_count", tag), vis)
		vis.Close()
	}

	return SectionCount{Points: points, Region: rect, Found: true}
}
