// Command tally analyzes every frame of a capture session, classifies each as
// dummy or real and writes the results as CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pointcloud-tally/internal/artifact"
	"pointcloud-tally/internal/config"
	"pointcloud-tally/internal/export"
	"pointcloud-tally/internal/frame"
	"pointcloud-tally/internal/logging"
	"pointcloud-tally/internal/ocr"
	"pointcloud-tally/internal/reference"
	"pointcloud-tally/internal/session"
	"pointcloud-tally/internal/store"
	"pointcloud-tally/internal/tally"
	"pointcloud-tally/internal/version"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

func main() {
	sessionDir := flag.String("session", "", "Session folder containing frame_NNN.png files")
	newRoot := flag.String("new", "", "Create a new timestamped session under this folder")
	addFiles := flag.String("add", "", "Comma-separated images to import as the next frames before processing")
	stored := flag.Bool("stored", false, "Print the results stored for the session and exit")
	configPath := flag.String("config", "tally.yaml", "Configuration file (missing file uses defaults)")
	envFile := flag.String("env", ".env", "Dotenv file with secrets")
	debug := flag.Bool("debug", false, "Write intermediate images to <session>/debug")
	jsonOut := flag.Bool("json", false, "Print results as JSON instead of the summary")
	csvPath := flag.String("csv", "", "CSV output path (default <session>/results.csv)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("tally"))
		return
	}
	if (*sessionDir == "") == (*newRoot == "") {
		fmt.Println("Usage: tally (-session <dir> | -new <root>) [-add a.png,b.png] [-config tally.yaml] [-debug] [-json] [-csv out.csv] [-stored]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Output.Debug = true
	}

	log, err := logging.New(cfg.LogOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(*sessionDir, *newRoot)
	if err == nil && *addFiles != "" {
		err = importFrames(sess, strings.Split(*addFiles, ","), log)
	}
	if err == nil {
		if *stored {
			err = printStored(ctx, cfg.Store.DatabaseURL, sess.ID(), log)
		} else {
			err = run(ctx, cfg, log, sess, *csvPath, *jsonOut)
		}
	}
	if err != nil {
		log.WithField("error", err).Error("Processing failed")
		stop()
		os.Exit(1)
	}
}

func openSession(dir, root string) (*session.Session, error) {
	if root != "" {
		return session.New(root, time.Now())
	}
	return session.Open(dir)
}

func importFrames(sess *session.Session, paths []string, log *logrus.Logger) error {
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		img, err := frame.Decode(p)
		if err != nil {
			return err
		}
		n, err := sess.AddFrame(img)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"frame": n, "source": p}).Info("Frame imported")
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger, sess *session.Session, csvPath string, jsonOut bool) error {
	files, err := sess.Frames()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no frames found in %s", sess.Dir)
	}
	log.WithFields(logrus.Fields{"session": sess.ID(), "frames": len(files)}).Info("Session opened")

	engine, err := ocr.Open(ctx, cfg.OCROptions(), log)
	if err != nil {
		return fmt.Errorf("failed to start recognizer: %w", err)
	}
	defer engine.Close()

	reader := reference.NewReader(engine, log)
	reader.Params = cfg.ReferenceParams()

	analyzer := tally.NewAnalyzer(reader, log)
	analyzer.Detect = cfg.DetectParams()
	analyzer.Thresholds = cfg.Thresholds()
	analyzer.Debug = cfg.Output.Debug

	batch := tally.NewBatch(analyzer, log)
	batch.GroupSize = cfg.Batch.GroupSize
	if cfg.Output.Debug {
		batch.Sink = artifact.DirSink{Dir: sess.DebugDir()}
	}
	batch.Progress = func(status string, pct float64) {
		log.WithField("progress", fmt.Sprintf("%.0f%%", pct)).Info(status)
	}

	refs := make([]tally.FrameRef, len(files))
	for i, f := range files {
		refs[i] = tally.FrameRef{Number: f.Number, Path: f.Path}
	}

	results, failed, runErr := batch.Run(ctx, refs)
	for _, fe := range failed {
		log.WithFields(logrus.Fields{"frame": fe.Frame, "error": fe.Err}).Warn("Frame skipped")
	}

	if csvPath == "" {
		csvPath = sess.ResultsPath()
	}
	if err := export.SaveCSV(csvPath, results); err != nil {
		return err
	}
	log.WithField("path", csvPath).Info("Results exported")

	if cfg.Store.DatabaseURL != "" && runErr == nil {
		if err := persist(ctx, cfg.Store.DatabaseURL, sess.ID(), results, log); err != nil {
			return err
		}
	}

	if jsonOut {
		out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		fmt.Printf("Results exported to: %s\n\n", csvPath)
		fmt.Print(export.Summary(results))
	}

	return runErr
}

func persist(ctx context.Context, dsn, sessionID string, results []tally.Result, log *logrus.Logger) error {
	db, err := store.Open(ctx, dsn, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	return db.SaveResults(ctx, sessionID, results)
}

func printStored(ctx context.Context, dsn, sessionID string, log *logrus.Logger) error {
	if dsn == "" {
		return fmt.Errorf("no database configured, set %s", config.EnvDatabaseURL)
	}
	db, err := store.Open(ctx, dsn, log)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.SessionResults(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Printf("%-6s %-6s %8s %8s   %s\n", "Frame", "Dummy", "Points", "Ref", "Reason")
	for _, r := range rows {
		fmt.Printf("%-6d %-6v %8d %8d   %s\n", r.FrameNumber, r.IsDummy, r.Points, r.Reference, r.Reason)
	}
	return nil
}
