package tally

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"pointcloud-tally/internal/artifact"
	"pointcloud-tally/internal/frame"
	"pointcloud-tally/internal/logging"

	"github.com/sirupsen/logrus"
)

// DefaultGroupSize matches one logical sample of three views.
const DefaultGroupSize = 3

// FrameRef locates one frame image on disk.
type FrameRef struct {
	Number int
	Path   string
}

// FrameError is a failure confined to a single frame.
type FrameError struct {
	Frame int
	Path  string
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d (%s): %v", e.Frame, e.Path, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// ProgressFunc receives a status line and a completion percentage in [0, 100].
type ProgressFunc func(status string, pct float64)

// Batch analyzes many frames in fixed-size groups. Frames within a group run
// concurrently; groups run one after another in increasing frame order.
// A nil Sink or Log discards, and a non-positive GroupSize uses DefaultGroupSize.
type Batch struct {
	Analyzer  *Analyzer
	Sink      artifact.Sink
	GroupSize int
	Progress  ProgressFunc
	Log       logrus.FieldLogger
}

// NewBatch creates a batch runner that discards debug images.
func NewBatch(a *Analyzer, log logrus.FieldLogger) *Batch {
	return &Batch{Analyzer: a, Sink: artifact.Discard, GroupSize: DefaultGroupSize, Log: log}
}

type outcome struct {
	result Result
	arts   artifact.List
	err    error
}

// Run analyzes frames and returns results sorted by frame number. A failing
// frame is reported in the error slice and does not stop the batch.
// Cancellation is honored between groups and between frames; the returned
// error is non-nil only when ctx ended the run early.
func (b *Batch) Run(ctx context.Context, frames []FrameRef) ([]Result, []FrameError, error) {
	ordered := make([]FrameRef, len(frames))
	copy(ordered, frames)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	size := b.GroupSize
	if size <= 0 {
		size = DefaultGroupSize
	}

	var (
		results []Result
		failed  []FrameError
	)
	total := len(ordered)
	for start := 0; start < total; start += size {
		if err := ctx.Err(); err != nil {
			return results, failed, err
		}
		group := ordered[start:min(start+size, total)]
		b.report(fmt.Sprintf("Processing frames %d-%d...", group[0].Number, group[len(group)-1].Number),
			float64(start)*100/float64(total))

		outs := b.runGroup(ctx, group)

		for i, o := range outs {
			ref := group[i]
			if o.err != nil {
				if ctx.Err() != nil && errors.Is(o.err, ctx.Err()) {
					continue
				}
				b.logger().WithFields(logrus.Fields{"frame": ref.Number, "error": o.err}).Error("Frame failed")
				failed = append(failed, FrameError{Frame: ref.Number, Path: ref.Path, Err: o.err})
				continue
			}
			if len(o.arts) > 0 {
				if err := b.sink().Write(ref.Number, o.arts); err != nil {
					b.logger().WithFields(logrus.Fields{"frame": ref.Number, "error": err}).Warn("Failed to write debug images")
				}
				o.arts.Close()
			}
			results = append(results, o.result)
		}
		if err := ctx.Err(); err != nil {
			return results, failed, err
		}
	}

	b.report("Processing complete", 100)
	return results, failed, nil
}

func (b *Batch) logger() logrus.FieldLogger {
	if b.Log == nil {
		return logging.Discard()
	}
	return b.Log
}

// runGroup analyzes one group concurrently, one goroutine per frame.
func (b *Batch) runGroup(ctx context.Context, group []FrameRef) []outcome {
	outs := make([]outcome, len(group))
	var wg sync.WaitGroup
	for i := range group {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			outs[idx] = b.analyzeOne(ctx, group[idx])
		}(i)
	}
	wg.Wait()
	return outs
}

func (b *Batch) analyzeOne(ctx context.Context, ref FrameRef) outcome {
	if err := ctx.Err(); err != nil {
		return outcome{err: err}
	}
	f, err := frame.Load(ref.Path, ref.Number)
	if err != nil {
		return outcome{err: err}
	}
	defer f.Close()

	res, arts, err := b.Analyzer.Analyze(ctx, f)
	return outcome{result: res, arts: arts, err: err}
}

func (b *Batch) sink() artifact.Sink {
	if b.Sink == nil {
		return artifact.Discard
	}
	return b.Sink
}

func (b *Batch) report(status string, pct float64) {
	if b.Progress != nil {
		b.Progress(status, pct)
	}
}
