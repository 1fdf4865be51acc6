package ocr

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pointcloud-tally/internal/logging"
)

type fakeGenerator struct {
	replies []string
	errs    []error
	calls   int
	closed  bool
}

func (g *fakeGenerator) generate(ctx context.Context, prompt string, png []byte) (string, error) {
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i < len(g.replies) {
		return g.replies[i], nil
	}
	return "", errors.New("no reply scripted")
}

func (g *fakeGenerator) close() error {
	g.closed = true
	return nil
}

func fastOptions() Options {
	return Options{MaxRetries: 3, RetryDelay: time.Millisecond}
}

func TestVisionEngineRetriesTransientFailures(t *testing.T) {
	gen := &fakeGenerator{
		errs:    []error{errors.New("503"), nil},
		replies: []string{"", " ×1368 \n"},
	}
	e := newVisionEngine(gen, fastOptions(), logging.Discard())

	text, err := e.Recognize(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if text != "×1368" {
		t.Errorf("text = %q", text)
	}
	if gen.calls != 2 {
		t.Errorf("calls = %d, want 2", gen.calls)
	}
	if err := e.Close(); err != nil || !gen.closed {
		t.Errorf("Close: err=%v closed=%v", err, gen.closed)
	}
}

func TestVisionEngineNoText(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"NO_TEXT_FOUND"}}
	e := newVisionEngine(gen, fastOptions(), logging.Discard())
	if _, err := e.Recognize(context.Background(), []byte{1}); !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
}

func TestVisionEngineGivesUp(t *testing.T) {
	boom := errors.New("boom")
	gen := &fakeGenerator{errs: []error{boom, boom, boom}}
	e := newVisionEngine(gen, fastOptions(), logging.Discard())
	if _, err := e.Recognize(context.Background(), []byte{1}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if gen.calls != 3 {
		t.Errorf("calls = %d, want 3", gen.calls)
	}
}

func TestVisionEngineHonorsCancellation(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"12"}}
	e := newVisionEngine(gen, fastOptions(), logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Recognize(ctx, []byte{1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type countingEngine struct {
	calls atomic.Int32
	text  string
	err   error
}

func (c *countingEngine) Recognize(context.Context, []byte) (string, error) {
	c.calls.Add(1)
	return c.text, c.err
}

func (c *countingEngine) Close() error { return nil }

func TestCachedRecognizerServesRepeats(t *testing.T) {
	inner := &countingEngine{text: "×42"}
	cache := NewMemoryCache()
	c := NewCachedRecognizer(inner, cache, "tesseract", logging.Discard())

	for i := 0; i < 3; i++ {
		text, err := c.Recognize(context.Background(), []byte("crop-a"))
		if err != nil || text != "×42" {
			t.Fatalf("Recognize #%d = %q, %v", i, text, err)
		}
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls.Load())
	}
	if _, err := c.Recognize(context.Background(), []byte("crop-b")); err != nil {
		t.Fatal(err)
	}
	if len(cache.entries) != 2 {
		t.Errorf("cache entries = %d, want 2", len(cache.entries))
	}
	if c.Key([]byte("crop-a")) == c.Key([]byte("crop-b")) {
		t.Error("distinct crops share a cache key")
	}
}

func TestCachedRecognizerDoesNotCacheFailures(t *testing.T) {
	inner := &countingEngine{err: ErrNoText}
	cache := NewMemoryCache()
	c := NewCachedRecognizer(inner, cache, "vision", logging.Discard())

	for i := 0; i < 2; i++ {
		if _, err := c.Recognize(context.Background(), []byte("crop")); !errors.Is(err, ErrNoText) {
			t.Fatalf("expected ErrNoText, got %v", err)
		}
	}
	if inner.calls.Load() != 2 || len(cache.entries) != 0 {
		t.Errorf("calls=%d entries=%d", inner.calls.Load(), len(cache.entries))
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Options{Backend: "abacus"}, logging.Discard()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := Open(context.Background(), Options{Backend: BackendVision}, logging.Discard()); err == nil {
		t.Fatal("expected error for vision backend without API key")
	}
}

func TestOptionsResolved(t *testing.T) {
	if got := (Options{}).Resolved(); got != BackendTesseract {
		t.Errorf("empty backend resolved to %q", got)
	}
	if got := (Options{Backend: BackendVision}).Resolved(); got != BackendVision {
		t.Errorf("vision resolved to %q", got)
	}
}

func TestWithCacheDefaultsToMemory(t *testing.T) {
	inner := &countingEngine{text: "×7"}
	c, err := withCache(context.Background(), inner, Options{}, logging.Discard())
	if err != nil {
		t.Fatalf("withCache: %v", err)
	}
	if _, ok := c.cache.(*MemoryCache); !ok {
		t.Fatalf("cache = %T, want *MemoryCache", c.cache)
	}
	if key := c.Key([]byte("crop")); !strings.HasPrefix(key, "tally:ocr:tesseract:") {
		t.Errorf("key = %q", key)
	}
	for i := 0; i < 2; i++ {
		if text, err := c.Recognize(context.Background(), []byte("crop")); err != nil || text != "×7" {
			t.Fatalf("Recognize = %q, %v", text, err)
		}
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls.Load())
	}
}

func TestWithCacheRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	inner := &countingEngine{}
	if _, err := withCache(ctx, inner, Options{RedisAddr: "127.0.0.1:1"}, logging.Discard()); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func TestRecognizerFunc(t *testing.T) {
	var r Recognizer = RecognizerFunc(func(context.Context, []byte) (string, error) { return "7", nil })
	if text, _ := r.Recognize(context.Background(), nil); text != "7" {
		t.Fatalf("text = %q", text)
	}
}

func TestTesseractEngineRejectsEmptyInput(t *testing.T) {
	e, err := NewTesseractEngine("", "")
	if err != nil {
		t.Skipf("tesseract unavailable: %v", err)
	}
	defer e.Close()
	if _, err := e.Recognize(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}
