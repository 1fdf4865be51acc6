// Package ocr provides the text-recognition backends used to read the
// printed reference count from each view.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNoText is returned by backends that recognized nothing.
var ErrNoText = errors.New("no text recognized")

// Recognizer turns a PNG-encoded image crop into text. Implementations may
// block for a long time (model loading, network) and must honor ctx.
type Recognizer interface {
	Recognize(ctx context.Context, png []byte) (string, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, png []byte) (string, error)

// Recognize calls f.
func (f RecognizerFunc) Recognize(ctx context.Context, png []byte) (string, error) {
	return f(ctx, png)
}

// Engine is a Recognizer holding resources that must be released.
type Engine interface {
	Recognizer
	io.Closer
}

// Backend names a recognition engine.
type Backend string

const (
	BackendTesseract Backend = "tesseract"
	BackendVision    Backend = "vision"
)

// Options selects and configures a backend.
type Options struct {
	Backend Backend

	// Tesseract
	Language  string
	Whitelist string

	// Vision model
	APIKey       string
	Model        string
	RequestsPerS float64
	MaxRetries   int
	RetryDelay   time.Duration

	// Optional result cache
	RedisAddr string
	CacheTTL  time.Duration
}

// Resolved returns the backend to use; empty means Tesseract.
func (o Options) Resolved() Backend {
	if o.Backend == "" {
		return BackendTesseract
	}
	return o.Backend
}

// Open constructs the configured backend wrapped in a result cache: Redis
// when RedisAddr is set, an in-process cache otherwise.
func Open(ctx context.Context, opts Options, log logrus.FieldLogger) (Engine, error) {
	var (
		engine Engine
		err    error
	)
	backend := opts.Resolved()
	switch backend {
	case BackendTesseract:
		engine, err = NewTesseractEngine(opts.Language, opts.Whitelist)
	case BackendVision:
		engine, err = NewVisionEngine(ctx, opts, log)
	default:
		return nil, fmt.Errorf("unknown recognizer backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	cached, err := withCache(ctx, engine, opts, log)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

func withCache(ctx context.Context, engine Engine, opts Options, log logrus.FieldLogger) (*CachedRecognizer, error) {
	var cache Cache = NewMemoryCache()
	if opts.RedisAddr != "" {
		rc, err := NewRedisCache(ctx, opts.RedisAddr, opts.CacheTTL)
		if err != nil {
			engine.Close()
			return nil, err
		}
		cache = rc
	}
	return NewCachedRecognizer(engine, cache, string(opts.Resolved()), log), nil
}
