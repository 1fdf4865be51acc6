package tally

import (
	"fmt"
	"math"
)

// Reason records which rule decided a frame.
type Reason int

const (
	// ReasonHighReference: the trusted reference exceeds the detection
	// threshold, so the frame is real and counting is skipped.
	ReasonHighReference Reason = iota
	// ReasonInconsistentViews: the views disagree too much.
	ReasonInconsistentViews
	// ReasonNoReference: no reference could be read to validate against.
	ReasonNoReference
	// ReasonMismatch: the aggregated count is outside tolerance of the reference.
	ReasonMismatch
	// ReasonMatch: the aggregated count agrees with the reference.
	ReasonMatch
)

func (r Reason) String() string {
	switch r {
	case ReasonHighReference:
		return "high-reference"
	case ReasonInconsistentViews:
		return "inconsistent-views"
	case ReasonNoReference:
		return "no-reference"
	case ReasonMismatch:
		return "mismatch"
	case ReasonMatch:
		return "match"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// MarshalText encodes the reason by name.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Thresholds are the limits of the dummy decision.
type Thresholds struct {
	DetectionThreshold int     // References above this are trusted without counting
	MaxVariation       float64 // Largest coefficient of variation across views
	Tolerance          float64 // Largest relative difference between count and reference
}

// DefaultThresholds returns the standard decision limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DetectionThreshold: 20,
		MaxVariation:       0.3,
		Tolerance:          0.1,
	}
}

// Decision is the verdict for one frame.
type Decision struct {
	IsDummy bool
	Points  int
	Reason  Reason
}

// Trusts reports whether ref is high enough to skip point counting.
func (t Thresholds) Trusts(ref int) bool {
	return ref > t.DetectionThreshold
}

// Classify decides whether a frame holds placeholder geometry. points is the
// aggregated count, ref the trusted reference and counts the raw per-view
// counts behind points.
func (t Thresholds) Classify(points, ref int, counts ViewCounts) Decision {
	if t.Trusts(ref) {
		return Decision{IsDummy: false, Points: ref, Reason: ReasonHighReference}
	}
	if counts.Variation() > t.MaxVariation {
		return Decision{IsDummy: true, Points: points, Reason: ReasonInconsistentViews}
	}
	if ref <= 0 {
		return Decision{IsDummy: true, Points: points, Reason: ReasonNoReference}
	}

	diff := math.Abs(float64(points-ref)) / float64(ref)
	if diff > t.Tolerance {
		return Decision{IsDummy: true, Points: points, Reason: ReasonMismatch}
	}
	return Decision{IsDummy: false, Points: points, Reason: ReasonMatch}
}

// Classify applies DefaultThresholds.
func Classify(points, ref int, counts ViewCounts) Decision {
	return DefaultThresholds().Classify(points, ref, counts)
}
