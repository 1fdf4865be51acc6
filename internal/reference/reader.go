package reference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"pointcloud-tally/internal/artifact"
	"pointcloud-tally/internal/frame"
	"pointcloud-tally/internal/logging"
	"pointcloud-tally/internal/ocr"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Reader extracts the printed reference count from a section.
// A nil Log discards output.
type Reader struct {
	Recognizer ocr.Recognizer
	Params     Params
	Log        logrus.FieldLogger
}

// NewReader creates a reader with default crop parameters.
func NewReader(rec ocr.Recognizer, log logrus.FieldLogger) *Reader {
	return &Reader{Recognizer: rec, Params: DefaultParams(), Log: log}
}

// Read crops the count label of one section and recognizes it. Any failure
// (empty crop, recognizer error, no digits) yields a reading of 0. The
// prepared crop is recorded into arts as ocr_<view>_bottom_left.
func (r *Reader) Read(ctx context.Context, section gocv.Mat, s frame.Section, arts *artifact.List) int {
	var log logrus.FieldLogger = logging.Discard()
	if r.Log != nil {
		log = r.Log
	}
	log = log.WithField("view", s.String())

	png, err := r.prepare(section, s, arts)
	if err != nil {
		log.WithField("error", err).Warn("Reference crop unavailable")
		return 0
	}

	text, err := r.Recognizer.Recognize(ctx, png)
	if err != nil {
		if errors.Is(err, ocr.ErrNoText) {
			log.Debug("No reference text recognized")
		} else {
			log.WithField("error", err).Warn("Reference recognition failed")
		}
		return 0
	}

	n := ParseDigits(text)
	log.WithFields(logrus.Fields{"text": text, "reading": n}).Debug("Reference read")
	return n
}

// prepare crops, binarizes and upscales the label then encodes it as PNG.
func (r *Reader) prepare(section gocv.Mat, s frame.Section, arts *artifact.List) ([]byte, error) {
	if section.Empty() {
		return nil, fmt.Errorf("empty section")
	}
	rect := r.Params.CropRect(section.Cols(), section.Rows())
	if rect.Empty() {
		return nil, fmt.Errorf("label crop outside %dx%d section", section.Cols(), section.Rows())
	}

	roi := section.Region(rect.ImageRect())
	defer roi.Close()

	prepared := gocv.NewMat()
	defer func() { prepared.Close() }()
	gocv.CvtColor(roi, &prepared, gocv.ColorBGRToGray)

	if r.Params.Threshold > 0 {
		binary := gocv.NewMat()
		gocv.Threshold(prepared, &binary, float32(r.Params.Threshold), 255, gocv.ThresholdBinary)
		prepared.Close()
		prepared = binary
	}
	if r.Params.Scale > 1 {
		scaled := gocv.NewMat()
		gocv.Resize(prepared, &scaled, image.Point{}, r.Params.Scale, r.Params.Scale, gocv.InterpolationCubic)
		prepared.Close()
		prepared = scaled
	}

	arts.Add(fmt.Sprintf("ocr_%s_bottom_left", s.Tag()), prepared)

	buf, err := gocv.IMEncode(gocv.PNGFileExt, prepared)
	if err != nil {
		return nil, fmt.Errorf("failed to encode label: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases native memory
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// ParseDigits keeps only the decimal digits of text and parses them as a
// base-10 integer. It returns 0 when text has no digits or the value does
// not fit in an int.
func ParseDigits(text string) int {
	n := 0
	seen := false
	for _, c := range text {
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if n > (math.MaxInt-d)/10 {
			return 0
		}
		n = n*10 + d
		seen = true
	}
	if !seen {
		return 0
	}
	return n
}
