package tally

import (
	"context"
	"fmt"
	"image"
	"sync"

	"pointcloud-tally/internal/artifact"
	"pointcloud-tally/internal/detect"
	"pointcloud-tally/internal/frame"
	"pointcloud-tally/internal/logging"
	"pointcloud-tally/internal/reference"
	"pointcloud-tally/pkg/colorutil"
	"pointcloud-tally/pkg/geometry"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Result is the analysis outcome of one frame.
type Result struct {
	FrameNumber int  `json:"frame"`
	IsDummy     bool `json:"isDummy"`
	Points      int  `json:"points"`

	// The trusted reference, repeated for every view
	ViewReferenceCounts map[frame.Section]int `json:"viewReferenceCounts"`

	// Diagnostics
	ViewCounts  ViewCounts `json:"viewCounts"`
	RawReadings [3]int     `json:"rawReadings"`
	Counted     bool       `json:"counted"` // false when the reference was trusted without counting
	Reason      Reason     `json:"reason"`

	// Canvas found in each view, in frame coordinates; empty when none was
	// found or the views were not counted
	Canvases [3]geometry.RectInt `json:"canvases"`
}

// Reference returns the trusted reference number.
func (r Result) Reference() int {
	return r.ViewReferenceCounts[frame.Overhead]
}

// Analyzer runs the per-frame pipeline. It holds no per-frame state and may
// be shared between goroutines as long as its Reader's recognizer allows it.
// A nil Log discards output.
type Analyzer struct {
	Reader     *reference.Reader
	Detect     detect.Params
	Thresholds Thresholds
	Log        logrus.FieldLogger

	// Debug collects intermediate images
	Debug bool
}

// NewAnalyzer creates an analyzer with default detection parameters and thresholds.
func NewAnalyzer(reader *reference.Reader, log logrus.FieldLogger) *Analyzer {
	return &Analyzer{
		Reader:     reader,
		Detect:     detect.DefaultParams(),
		Thresholds: DefaultThresholds(),
		Log:        log,
	}
}

// Analyze classifies one frame. Reference labels are read first; the views
// are only counted when the trusted reference is at or below the detection
// threshold. The returned artifacts are empty unless Debug is set and must
// be closed by the caller.
func (a *Analyzer) Analyze(ctx context.Context, f frame.Frame) (Result, artifact.List, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, nil, err
	}
	log := a.logger().WithField("frame", f.Number)

	views, err := frame.Split(f)
	if err != nil {
		return Result{}, nil, fmt.Errorf("frame %d: %w", f.Number, err)
	}
	defer func() {
		for _, v := range views {
			v.Close()
		}
	}()

	var arts *artifact.List
	if a.Debug {
		arts = &artifact.List{}
		a.recordSections(f, views, arts)
	}

	var readArts [3]artifact.List
	raw := a.readReferences(ctx, views, a.slots(&readArts))
	appendAll(arts, readArts)

	if err := ctx.Err(); err != nil {
		discard(arts)
		return Result{}, nil, err
	}

	ref := reference.Consensus(raw)
	log.WithFields(logrus.Fields{"raw": raw, "reference": ref}).Debug("Reference consensus")

	res := Result{
		FrameNumber:         f.Number,
		RawReadings:         raw,
		ViewReferenceCounts: make(map[frame.Section]int, len(frame.Sections)),
	}
	for _, s := range frame.Sections {
		res.ViewReferenceCounts[s] = ref
	}

	var decision Decision
	if a.Thresholds.Trusts(ref) {
		decision = a.Thresholds.Classify(ref, ref, ViewCounts{})
	} else {
		if err := ctx.Err(); err != nil {
			discard(arts)
			return Result{}, nil, err
		}
		var countArts [3]artifact.List
		res.ViewCounts, res.Canvases = a.countViews(views, a.slots(&countArts))
		appendAll(arts, countArts)
		res.Counted = true

		points := AggregateCounts(res.ViewCounts)
		decision = a.Thresholds.Classify(points, ref, res.ViewCounts)
	}

	res.IsDummy = decision.IsDummy
	res.Points = decision.Points
	res.Reason = decision.Reason

	log.WithFields(logrus.Fields{
		"counts": res.ViewCounts,
		"points": res.Points,
		"dummy":  res.IsDummy,
		"reason": res.Reason.String(),
	}).Info("Frame analyzed")

	return res, listOf(arts), nil
}

func (a *Analyzer) logger() logrus.FieldLogger {
	if a.Log == nil {
		return logging.Discard()
	}
	return a.Log
}

// readReferences reads the three labels concurrently, one goroutine per view.
func (a *Analyzer) readReferences(ctx context.Context, views [3]frame.SectionView, arts [3]*artifact.List) [3]int {
	var readings [3]int
	var wg sync.WaitGroup
	for i := range views {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			readings[idx] = a.Reader.Read(ctx, views[idx].Mat, views[idx].Section, arts[idx])
		}(i)
	}
	wg.Wait()
	return readings
}

// countViews counts the three views concurrently, one goroutine per view.
func (a *Analyzer) countViews(views [3]frame.SectionView, arts [3]*artifact.List) (ViewCounts, [3]geometry.RectInt) {
	var (
		counts   ViewCounts
		canvases [3]geometry.RectInt
	)
	var wg sync.WaitGroup
	for i := range views {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v := views[idx]
			sc := detect.CountSection(v.Mat, v.Section.Tag(), a.Detect, arts[idx])
			if !sc.Found {
				a.logger().WithField("view", v.Section.String()).Debug("No canvas found")
			} else {
				canvases[idx] = sc.Region.Offset(v.Bounds.X, v.Bounds.Y)
			}
			counts[idx] = sc.Points
		}(i)
	}
	wg.Wait()
	return counts, canvases
}

// recordSections adds the split overview with label crops outlined, then each
// original section.
func (a *Analyzer) recordSections(f frame.Frame, views [3]frame.SectionView, arts *artifact.List) {
	overview := f.Image.Clone()
	h := frame.SectionHeight(f.Height())
	for _, y := range []int{h, 2 * h} {
		gocv.Line(&overview, image.Pt(0, y), image.Pt(f.Width(), y), colorutil.Green, 1)
	}
	for _, v := range views {
		label := a.Reader.Params.CropRect(v.Bounds.Width, v.Bounds.Height).Offset(v.Bounds.X, v.Bounds.Y)
		if !label.Empty() {
			gocv.Rectangle(&overview, label.ImageRect(), colorutil.White, 1)
		}
	}
	arts.Add("1_sections", overview)
	overview.Close()

	for _, v := range views {
		arts.Add(fmt.Sprintf("2_%s_original", v.Section.Tag()), v.Mat)
	}
}

// slots returns per-view artifact lists, or nils when debug is off.
func (a *Analyzer) slots(lists *[3]artifact.List) [3]*artifact.List {
	var out [3]*artifact.List
	if !a.Debug {
		return out
	}
	for i := range lists {
		out[i] = &lists[i]
	}
	return out
}

func appendAll(dst *artifact.List, parts [3]artifact.List) {
	if dst == nil {
		return
	}
	for _, p := range parts {
		*dst = append(*dst, p...)
	}
}

func discard(arts *artifact.List) {
	if arts != nil {
		arts.Close()
	}
}

func listOf(arts *artifact.List) artifact.List {
	if arts == nil {
		return nil
	}
	return *arts
}
