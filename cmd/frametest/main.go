// Command frametest analyzes a single frame image and prints per-view
// diagnostics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"pointcloud-tally/internal/artifact"
	"pointcloud-tally/internal/config"
	"pointcloud-tally/internal/frame"
	"pointcloud-tally/internal/logging"
	"pointcloud-tally/internal/ocr"
	"pointcloud-tally/internal/reference"
	"pointcloud-tally/internal/tally"
)

func main() {
	imagePath := flag.String("image", "", "Path to frame image (PNG, JPEG, BMP, TIFF or WebP)")
	number := flag.Int("frame", 1, "Frame number used to label outputs")
	configPath := flag.String("config", "tally.yaml", "Configuration file")
	debugDir := flag.String("debug", "", "Write intermediate images to this folder")
	noOCR := flag.Bool("no-ocr", false, "Skip reference recognition (all readings 0)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: frametest -image <path> [-frame 1] [-config tally.yaml] [-debug dir] [-no-ocr]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath, ".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logOpts := cfg.LogOptions()
	if *verbose {
		logOpts.Level = "debug"
	}
	log, err := logging.New(logOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	f, err := frame.Load(*imagePath, *number)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load frame: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	fmt.Printf("Loaded frame %d: %dx%d pixels (section height %d)\n",
		f.Number, f.Width(), f.Height(), frame.SectionHeight(f.Height()))

	ctx := context.Background()

	var rec ocr.Recognizer = ocr.RecognizerFunc(func(context.Context, []byte) (string, error) {
		return "", ocr.ErrNoText
	})
	if !*noOCR {
		engine, err := ocr.Open(ctx, cfg.OCROptions(), log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start recognizer: %v\n", err)
			os.Exit(1)
		}
		defer engine.Close()
		rec = engine
	}

	reader := reference.NewReader(rec, log)
	reader.Params = cfg.ReferenceParams()

	analyzer := tally.NewAnalyzer(reader, log)
	analyzer.Detect = cfg.DetectParams()
	analyzer.Thresholds = cfg.Thresholds()
	analyzer.Debug = *debugDir != ""

	p := analyzer.Detect
	fmt.Printf("\nDetection parameters:\n")
	fmt.Printf("  Canvas threshold: %.0f (box > 1/%d of section)\n", p.CanvasThreshold, p.CanvasDivisor)
	for i, b := range p.Bands {
		fmt.Printf("  Band %d: H(%.0f-%.0f) S(%.0f-%.0f) V(%.0f-%.0f)\n",
			i, b.HueMin, b.HueMax, b.SatMin, b.SatMax, b.ValMin, b.ValMax)
	}
	fmt.Printf("  Blob area: %d-%d px\n", p.MinBlobArea, p.MaxBlobArea)

	res, arts, err := analyzer.Analyze(ctx, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Analysis failed: %v\n", err)
		os.Exit(1)
	}
	defer arts.Close()

	fmt.Printf("\n%-10s %10s %10s   %s\n", "View", "Reading", "Points", "Canvas (frame px)")
	for _, s := range frame.Sections {
		points, canvas := "-", "-"
		if res.Counted {
			points = fmt.Sprint(res.ViewCounts.Get(s))
			if c := res.Canvases[s.Index()]; !c.Empty() {
				canvas = fmt.Sprintf("(%d,%d) %dx%d", c.X, c.Y, c.Width, c.Height)
			} else {
				canvas = "none"
			}
		}
		fmt.Printf("%-10s %10d %10s   %s\n", s, res.RawReadings[s.Index()], points, canvas)
	}

	fmt.Printf("\nReference: %d\n", res.Reference())
	fmt.Printf("Points:    %d\n", res.Points)
	fmt.Printf("Dummy:     %v (%s)\n", res.IsDummy, res.Reason)

	if *debugDir != "" {
		if err := (artifact.DirSink{Dir: *debugDir}).Write(res.FrameNumber, arts); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write debug images: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote %d debug images to %s: %s\n", len(arts), *debugDir, strings.Join(arts.Stages(), ", "))
	}
}
