package session

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewCreatesTimestampedFolder(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2024, 3, 1, 14, 5, 9, 0, time.Local)

	s, err := New(root, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if want := filepath.Join(root, "2024-03-01_14-05-09"); s.Dir != want {
		t.Errorf("Dir = %s, want %s", s.Dir, want)
	}
	if s.ID() == "" {
		t.Error("missing session id")
	}
	if _, err := os.Stat(s.ManifestPath()); err != nil {
		t.Errorf("manifest not written: %v", err)
	}

	reopened, err := Open(s.Dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.ID() != s.ID() || !reopened.Manifest.Created.Equal(now) {
		t.Errorf("reopened manifest = %+v", reopened.Manifest)
	}
}

func TestOpenWithoutManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "2023-12-31_23-59-58")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := time.Date(2023, 12, 31, 23, 59, 58, 0, time.Local)
	if !s.Manifest.Created.Equal(want) {
		t.Errorf("Created = %v, want %v", s.Manifest.Created, want)
	}
	if s.ID() == "" {
		t.Error("missing session id")
	}
}

func TestOpenMissing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error")
	}
}

func TestFramesSortedAndNumbered(t *testing.T) {
	s, err := New(t.TempDir(), time.Now())
	if err != nil {
		t.Fatal(err)
	}

	if n, _ := s.NextFrameNumber(); n != 1 {
		t.Errorf("empty session next frame = %d, want 1", n)
	}

	for _, name := range []string{"frame_010.png", "frame_002.png", "frame_abc.png", "notes.txt", "frame_001.PNG"} {
		if err := os.WriteFile(filepath.Join(s.Dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	frames, err := s.Frames()
	if err != nil {
		t.Fatal(err)
	}
	var got []int
	for _, f := range frames {
		got = append(got, f.Number)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 10 {
		t.Errorf("frame numbers = %v", got)
	}
	if n, _ := s.NextFrameNumber(); n != 11 {
		t.Errorf("next frame = %d, want 11", n)
	}
}

func TestAddFrame(t *testing.T) {
	s, err := New(t.TempDir(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 6))

	for want := 1; want <= 2; want++ {
		n, err := s.AddFrame(img)
		if err != nil {
			t.Fatalf("AddFrame: %v", err)
		}
		if n != want {
			t.Errorf("frame number = %d, want %d", n, want)
		}
	}
	if _, err := os.Stat(s.FramePath(2)); err != nil {
		t.Errorf("frame_002.png missing: %v", err)
	}
	if filepath.Base(s.FramePath(7)) != "frame_007.png" {
		t.Errorf("FramePath(7) = %s", s.FramePath(7))
	}
}

func TestParseFrameNumber(t *testing.T) {
	tests := []struct {
		name string
		n    int
		ok   bool
	}{
		{"frame_001.png", 1, true},
		{"frame_1234.png", 1234, true},
		{"frame_.png", 0, false},
		{"frame_001.jpg", 0, false},
		{"shot_001.png", 0, false},
	}
	for _, tt := range tests {
		n, ok := ParseFrameNumber(tt.name)
		if n != tt.n || ok != tt.ok {
			t.Errorf("ParseFrameNumber(%q) = %d, %v", tt.name, n, ok)
		}
	}
}
