// Package session manages a capture session: a timestamped folder of
// numbered frame images plus a small manifest.
package session

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

const (
	// FolderLayout names session folders, e.g. 2024-03-01_14-05-09.
	FolderLayout = "2006-01-02_15-04-05"

	ManifestName = "session.json"
	ResultsName  = "results.csv"
	DebugDirName = "debug"

	framePrefix = "frame_"
	frameExt    = ".png"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Manifest is persisted in each session folder.
type Manifest struct {
	Version  int       `json:"version"`
	ID       string    `json:"id"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// Session is one capture folder.
type Session struct {
	Dir      string
	Manifest Manifest
}

// New creates a fresh session folder under root named after now.
func New(root string, now time.Time) (*Session, error) {
	dir := filepath.Join(root, now.Format(FolderLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session folder: %w", err)
	}

	s := &Session{
		Dir: dir,
		Manifest: Manifest{
			Version:  1,
			ID:       uuid.NewString(),
			Created:  now,
			Modified: now,
		},
	}
	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open loads an existing session folder. Folders without a manifest (for
// example ones filled by hand) get a new one, dated from the folder name when
// it parses.
func Open(dir string) (*Session, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("session %s is not a directory", dir)
	}

	s := &Session{Dir: dir}
	data, err := os.ReadFile(s.ManifestPath())
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s.Manifest); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", s.ManifestPath(), err)
		}
		return s, nil
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	created := info.ModTime()
	if t, err := time.ParseInLocation(FolderLayout, filepath.Base(dir), time.Local); err == nil {
		created = t
	}
	s.Manifest = Manifest{Version: 1, ID: uuid.NewString(), Created: created, Modified: created}
	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.Manifest.ID }

// Save writes the manifest.
func (s *Session) Save() error {
	s.Manifest.Modified = time.Now()
	data, err := json.MarshalIndent(s.Manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.ManifestPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}

// ManifestPath returns the manifest location.
func (s *Session) ManifestPath() string { return filepath.Join(s.Dir, ManifestName) }

// ResultsPath returns where the CSV export is written.
func (s *Session) ResultsPath() string { return filepath.Join(s.Dir, ResultsName) }

// DebugDir returns the folder for debug images.
func (s *Session) DebugDir() string { return filepath.Join(s.Dir, DebugDirName) }

// FramePath returns the path of frame n, e.g. frame_007.png.
func (s *Session) FramePath(n int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s%03d%s", framePrefix, n, frameExt))
}

// FrameFile is a frame image present in the session.
type FrameFile struct {
	Number int
	Path   string
}

// Frames lists the frame images sorted by number. Files whose suffix is not
// a number are ignored.
func (s *Session) Frames() ([]FrameFile, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}

	var frames []FrameFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, ok := ParseFrameNumber(e.Name())
		if !ok {
			continue
		}
		frames = append(frames, FrameFile{Number: n, Path: filepath.Join(s.Dir, e.Name())})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Number < frames[j].Number })
	return frames, nil
}

// NextFrameNumber returns one past the highest existing frame, or 1.
func (s *Session) NextFrameNumber() (int, error) {
	frames, err := s.Frames()
	if err != nil {
		return 0, err
	}
	if len(frames) == 0 {
		return 1, nil
	}
	return frames[len(frames)-1].Number + 1, nil
}

// AddFrame stores img as the next frame and returns its number.
func (s *Session) AddFrame(img image.Image) (int, error) {
	n, err := s.NextFrameNumber()
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(s.FramePath(n), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create frame %d: %w", n, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return 0, fmt.Errorf("failed to encode frame %d: %w", n, err)
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

// ParseFrameNumber extracts n from a name like frame_012.png.
func ParseFrameNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, framePrefix) || !strings.EqualFold(filepath.Ext(name), frameExt) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, framePrefix), filepath.Ext(name))
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
