package detect

import (
	"image"
	"image/color"
	"testing"

	"pointcloud-tally/internal/artifact"
	"pointcloud-tally/pkg/colorutil"

	"gocv.io/x/gocv"
)

// blackBGR returns a zeroed BGR mat of the given size.
func blackBGR(w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), h, w, gocv.MatTypeCV8UC3)
}

// fillRect paints a solid rectangle in BGR.
func fillRect(m *gocv.Mat, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.SetUCharAt(y, x*3+0, c.B)
			m.SetUCharAt(y, x*3+1, c.G)
			m.SetUCharAt(y, x*3+2, c.R)
		}
	}
}

// stampBlob sets `area` pixels of a single-channel mask in a row-major block
// `width` pixels wide starting at (x, y).
func stampBlob(m *gocv.Mat, x, y, width, area int) {
	for i := 0; i < area; i++ {
		m.SetUCharAt(y+i/width, x+i%width, 255)
	}
}

func TestDetectRegionPicksLargestQualifyingBox(t *testing.T) {
	section := blackBGR(200, 100)
	defer section.Close()

	// Too small in width to qualify (must exceed 50x25)
	fillRect(&section, image.Rect(5, 5, 45, 90), colorutil.White)
	// Qualifies
	fillRect(&section, image.Rect(60, 10, 130, 60), colorutil.White)
	// Larger, also qualifies
	fillRect(&section, image.Rect(135, 5, 195, 95), colorutil.White)

	rect, ok := DetectRegion(section, DefaultParams())
	if !ok {
		t.Fatal("expected a region")
	}
	if rect.X != 135 || rect.Y != 5 || rect.Width != 60 || rect.Height != 90 {
		t.Fatalf("region = %+v, want (135,5) 60x90", rect)
	}
}

func TestDetectRegionNoneQualifies(t *testing.T) {
	section := blackBGR(200, 100)
	defer section.Close()
	fillRect(&section, image.Rect(10, 10, 40, 20), colorutil.White)

	if _, ok := DetectRegion(section, DefaultParams()); ok {
		t.Fatal("expected no region for a small bright patch")
	}

	// Dim gray canvas stays below the 200 threshold
	dim := blackBGR(200, 100)
	defer dim.Close()
	fillRect(&dim, image.Rect(10, 10, 190, 90), color.RGBA{R: 150, G: 150, B: 150, A: 255})
	if _, ok := DetectRegion(dim, DefaultParams()); ok {
		t.Fatal("expected no region for a dim canvas")
	}
}

func TestCountBlobsFiltersByArea(t *testing.T) {
	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 40, 60, gocv.MatTypeCV8U)
	defer mask.Close()

	stampBlob(&mask, 2, 2, 5, 5)    // area 5
	stampBlob(&mask, 12, 2, 5, 10)  // area 10
	stampBlob(&mask, 22, 2, 6, 30)  // area 30, too large
	stampBlob(&mask, 40, 20, 5, 25) // area 25, upper bound inclusive

	if got := CountBlobs(mask, DefaultParams()); got != 3 {
		t.Fatalf("CountBlobs = %d, want 3", got)
	}
	if got := CountBlobs(mask, DefaultParams().WithBlobArea(1, 24)); got != 2 {
		t.Fatalf("CountBlobs with max 24 = %d, want 2", got)
	}
}

func TestCountBlobsFiveTenThirty(t *testing.T) {
	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 20, 40, gocv.MatTypeCV8U)
	defer mask.Close()

	stampBlob(&mask, 1, 1, 5, 5)
	stampBlob(&mask, 10, 1, 5, 10)
	stampBlob(&mask, 20, 1, 6, 30)

	if got := CountBlobs(mask, DefaultParams()); got != 2 {
		t.Fatalf("CountBlobs = %d, want 2", got)
	}
}

func TestCountPointsOnCanvas(t *testing.T) {
	roi := blackBGR(50, 50)
	defer roi.Close()
	fillRect(&roi, image.Rect(0, 0, 50, 50), colorutil.White)

	// Three 2x2 salmon markers, one magenta marker, one large salmon blob
	for _, p := range []image.Point{{5, 5}, {15, 5}, {25, 5}} {
		fillRect(&roi, image.Rect(p.X, p.Y, p.X+2, p.Y+2), colorutil.Marker)
	}
	fillRect(&roi, image.Rect(35, 5, 37, 7), color.RGBA{R: 255, G: 0, B: 200, A: 255})
	fillRect(&roi, image.Rect(5, 20, 15, 30), colorutil.Marker)
	// Blue is outside both bands
	fillRect(&roi, image.Rect(40, 40, 42, 42), color.RGBA{B: 255, A: 255})

	if got := CountPoints(roi, DefaultParams()); got != 4 {
		t.Fatalf("CountPoints = %d, want 4", got)
	}

	lowOnly := DefaultParams().WithMarkerBands(DefaultParams().Bands[0])
	if got := CountPoints(roi, lowOnly); got != 3 {
		t.Fatalf("CountPoints with low band only = %d, want 3", got)
	}
}

func TestCountSectionWithoutCanvasIsZero(t *testing.T) {
	section := blackBGR(120, 60)
	defer section.Close()
	fillRect(&section, image.Rect(10, 10, 14, 14), colorutil.Marker)

	var arts artifact.List
	defer arts.Close()
	got := CountSection(section, "side", DefaultParams(), &arts)
	if got.Found || got.Points != 0 {
		t.Fatalf("CountSection = %+v, want not found and 0 points", got)
	}
	if stages := arts.Stages(); len(stages) != 1 || stages[0] != "3_side_binary" {
		t.Fatalf("stages = %v", stages)
	}
}

func TestCountSectionRecordsArtifacts(t *testing.T) {
	section := blackBGR(120, 60)
	defer section.Close()
	fillRect(&section, image.Rect(20, 5, 110, 55), colorutil.White)
	fillRect(&section, image.Rect(30, 10, 32, 12), colorutil.Marker)
	fillRect(&section, image.Rect(50, 30, 51, 31), colorutil.Marker)

	var arts artifact.List
	defer arts.Close()
	got := CountSection(section, "overhead", DefaultParams(), &arts)
	if !got.Found || got.Points != 2 {
		t.Fatalf("CountSection = %+v, want 2 points", got)
	}
	want := []string{
		"3_overhead_binary", "4_overhead_rect", "5_overhead_roi",
		"6_overhead_mask", "7_overhead_points", "8_overhead_count",
	}
	stages := arts.Stages()
	if len(stages) != len(want) {
		t.Fatalf("stages = %v", stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stage %d = %q, want %q", i, stages[i], want[i])
		}
	}

	// Nil artifact list is allowed
	if again := CountSection(section, "overhead", DefaultParams(), nil); again != got {
		t.Errorf("count without artifacts = %+v, want %+v", again, got)
	}
}

func TestMarkerBandContains(t *testing.T) {
	b := DefaultParams().Bands[0]
	h, s, v := colorutil.HSVOf(colorutil.Marker)
	if !b.Contains(h, s, v) {
		t.Fatalf("marker HSV (%.1f,%.1f,%.1f) not in low band", h, s, v)
	}
	if b.Contains(0, 0, 255) {
		t.Fatal("white should not be in the band")
	}
}

func TestParamsMatches(t *testing.T) {
	p := DefaultParams()
	if !p.Matches(colorutil.Marker) {
		t.Error("default bands should match the marker color")
	}
	if !p.Matches(color.RGBA{R: 255, G: 0, B: 200, A: 255}) {
		t.Error("default bands should match pink-purple")
	}
	if p.Matches(colorutil.White) || p.Matches(colorutil.Green) {
		t.Error("default bands should not match canvas or overlay colors")
	}

	blue := p.WithMarkerBands(MarkerBand{HueMin: 100, HueMax: 130, SatMin: 50, SatMax: 255, ValMin: 50, ValMax: 255})
	if blue.Matches(colorutil.Marker) {
		t.Error("blue band should not match the marker color")
	}
}
