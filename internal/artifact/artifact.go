// Package artifact carries intermediate debug images out of the analysis
// pipeline and persists them.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

// Artifact is one named intermediate image.
type Artifact struct {
	Stage string
	Image gocv.Mat
}

// List is an ordered set of artifacts produced while analyzing one frame.
type List []Artifact

// Add appends a clone of img under the given stage tag.
func (l *List) Add(stage string, img gocv.Mat) {
	if l == nil || img.Empty() {
		return
	}
	*l = append(*l, Artifact{Stage: stage, Image: img.Clone()})
}

// Stages returns the stage tags in order.
func (l List) Stages() []string {
	out := make([]string, len(l))
	for i, a := range l {
		out[i] = a.Stage
	}
	return out
}

// Close releases every image in the list.
func (l List) Close() {
	for _, a := range l {
		a.Image.Close()
	}
}

// FileName returns the conventional file name for a stage of a frame.
func FileName(frameNumber int, stage string) string {
	return fmt.Sprintf("frame_%03d_%s.png", frameNumber, stage)
}

// Sink consumes the artifacts of one frame. Sinks must not retain the images.
type Sink interface {
	Write(frameNumber int, arts List) error
}

// Discard drops all artifacts.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Write(int, List) error { return nil }

// DirSink writes each artifact as a PNG into Dir.
type DirSink struct {
	Dir string
}

// Write saves every artifact, stopping at the first failure.
func (s DirSink) Write(frameNumber int, arts List) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create debug dir: %w", err)
	}
	for _, a := range arts {
		path := filepath.Join(s.Dir, FileName(frameNumber, a.Stage))
		if !gocv.IMWrite(path, a.Image) {
			return fmt.Errorf("failed to write %s", path)
		}
	}
	return nil
}
