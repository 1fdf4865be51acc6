package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

const (
	defaultVisionModel = "gemini-1.5-flash"
	defaultMaxRetries  = 3
	defaultRetryDelay  = time.Second

	visionPrompt = "Read the number printed in this image. " +
		"Return ONLY the digits with no other text. " +
		"If no number is visible, return NO_TEXT_FOUND"
)

// generator sends one prompt plus image to a vision model.
type generator interface {
	generate(ctx context.Context, prompt string, png []byte) (string, error)
	close() error
}

// VisionEngine recognizes text with a vision-language model.
type VisionEngine struct {
	gen        generator
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	log        logrus.FieldLogger
}

// NewVisionEngine creates a Gemini-backed engine.
func NewVisionEngine(ctx context.Context, opts Options, log logrus.FieldLogger) (*VisionEngine, error) {
	if opts.APIKey == "" {
		return nil, errors.New("vision recognizer: API key is required")
	}
	model := opts.Model
	if model == "" {
		model = defaultVisionModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}

	return newVisionEngine(&geminiGenerator{client: client, model: model}, opts, log), nil
}

func newVisionEngine(gen generator, opts Options, log logrus.FieldLogger) *VisionEngine {
	limit := rate.Inf
	if opts.RequestsPerS > 0 {
		limit = rate.Limit(opts.RequestsPerS)
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	return &VisionEngine{
		gen:        gen,
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: retries,
		retryDelay: delay,
		log:        log,
	}
}

// Recognize asks the model for the digits in a PNG crop, retrying transient
// failures with a growing delay.
func (e *VisionEngine) Recognize(ctx context.Context, png []byte) (string, error) {
	if len(png) == 0 {
		return "", fmt.Errorf("empty image")
	}

	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(e.retryDelay) * 1.5 * float64(attempt))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return "", err
		}

		text, err := e.gen.generate(ctx, visionPrompt, png)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			e.log.WithFields(logrus.Fields{"attempt": attempt + 1, "error": err}).Warn("Vision request failed")
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" || text == "NO_TEXT_FOUND" {
			return "", ErrNoText
		}
		return text, nil
	}

	return "", fmt.Errorf("vision recognizer failed after %d attempts: %w", e.maxRetries, lastErr)
}

// Close releases the model client.
func (e *VisionEngine) Close() error {
	return e.gen.close()
}

type geminiGenerator struct {
	client *genai.Client
	model  string
}

func (g *geminiGenerator) generate(ctx context.Context, prompt string, png []byte) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0)

	res, err := model.GenerateContent(ctx, genai.Text(prompt), genai.ImageData("png", png))
	if err != nil {
		return "", err
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", errors.New("no candidates in vision response")
	}

	var sb strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

func (g *geminiGenerator) close() error {
	return g.client.Close()
}
