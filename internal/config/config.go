// Package config loads tool configuration from a YAML file, a .env file and
// the environment, in that order of increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pointcloud-tally/internal/detect"
	"pointcloud-tally/internal/logging"
	"pointcloud-tally/internal/ocr"
	"pointcloud-tally/internal/reference"
	"pointcloud-tally/internal/tally"
	"pointcloud-tally/pkg/colorutil"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvAPIKey      = "GEMINI_API_KEY"
	EnvDatabaseURL = "TALLY_DATABASE_URL"
	EnvRedisAddr   = "TALLY_REDIS_ADDR"
	EnvBackend     = "TALLY_OCR_BACKEND"
	EnvLogLevel    = "TALLY_LOG_LEVEL"
)

// Band is one HSV marker color range (OpenCV scale).
type Band struct {
	Hue [2]float64 `yaml:"hue"`
	Sat [2]float64 `yaml:"sat"`
	Val [2]float64 `yaml:"val"`
}

// Config is the full tool configuration.
type Config struct {
	Detection struct {
		CanvasThreshold float64 `yaml:"canvasThreshold" validate:"gte=0,lte=255"`
		CanvasDivisor   int     `yaml:"canvasDivisor" validate:"gte=1"`
		Bands           []Band  `yaml:"bands" validate:"min=1"`
		OpenKernel      int     `yaml:"openKernel" validate:"gte=1"`
		MinBlobArea     int     `yaml:"minBlobArea" validate:"gte=1"`
		MaxBlobArea     int     `yaml:"maxBlobArea" validate:"gtefield=MinBlobArea"`
	} `yaml:"detection"`

	Reference struct {
		CropX          int     `yaml:"cropX" validate:"gte=0"`
		CropFromBottom int     `yaml:"cropFromBottom" validate:"gte=1"`
		CropWidth      int     `yaml:"cropWidth" validate:"gte=1"`
		CropHeight     int     `yaml:"cropHeight" validate:"gte=1"`
		Threshold      float64 `yaml:"threshold" validate:"gte=0,lte=255"`
		Scale          float64 `yaml:"scale" validate:"gte=0,lte=8"`
	} `yaml:"reference"`

	Classification struct {
		DetectionThreshold int     `yaml:"detectionThreshold" validate:"gte=0"`
		MaxVariation       float64 `yaml:"maxVariation" validate:"gte=0"`
		Tolerance          float64 `yaml:"tolerance" validate:"gte=0"`
	} `yaml:"classification"`

	Recognizer struct {
		Backend      string        `yaml:"backend" validate:"oneof=tesseract vision"`
		Language     string        `yaml:"language"`
		Whitelist    string        `yaml:"whitelist"`
		Model        string        `yaml:"model"`
		APIKey       string        `yaml:"-"`
		RequestsPerS float64       `yaml:"requestsPerSecond" validate:"gte=0"`
		MaxRetries   int           `yaml:"maxRetries" validate:"gte=1"`
		RetryDelay   time.Duration `yaml:"retryDelay"`
		RedisAddr    string        `yaml:"redisAddr"`
		CacheTTL     time.Duration `yaml:"cacheTTL"`
	} `yaml:"recognizer"`

	Output struct {
		Debug    bool   `yaml:"debug"`
		LogLevel string `yaml:"logLevel" validate:"oneof=trace debug info warn warning error"`
		LogFile  string `yaml:"logFile"`
	} `yaml:"output"`

	Store struct {
		DatabaseURL string `yaml:"-"`
	} `yaml:"-"`

	Batch struct {
		GroupSize int `yaml:"groupSize" validate:"gte=1"`
	} `yaml:"batch"`
}

// Default returns the standard configuration.
func Default() *Config {
	cfg := &Config{}

	dp := detect.DefaultParams()
	cfg.Detection.CanvasThreshold = dp.CanvasThreshold
	cfg.Detection.CanvasDivisor = dp.CanvasDivisor
	for _, b := range dp.Bands {
		cfg.Detection.Bands = append(cfg.Detection.Bands, Band{
			Hue: [2]float64{b.HueMin, b.HueMax},
			Sat: [2]float64{b.SatMin, b.SatMax},
			Val: [2]float64{b.ValMin, b.ValMax},
		})
	}
	cfg.Detection.OpenKernel = dp.OpenKernel
	cfg.Detection.MinBlobArea = dp.MinBlobArea
	cfg.Detection.MaxBlobArea = dp.MaxBlobArea

	rp := reference.DefaultParams()
	cfg.Reference.CropX = rp.CropX
	cfg.Reference.CropFromBottom = rp.CropFromBottom
	cfg.Reference.CropWidth = rp.CropWidth
	cfg.Reference.CropHeight = rp.CropHeight
	cfg.Reference.Threshold = rp.Threshold
	cfg.Reference.Scale = rp.Scale

	th := tally.DefaultThresholds()
	cfg.Classification.DetectionThreshold = th.DetectionThreshold
	cfg.Classification.MaxVariation = th.MaxVariation
	cfg.Classification.Tolerance = th.Tolerance

	cfg.Recognizer.Backend = string(ocr.BackendTesseract)
	cfg.Recognizer.Language = "eng"
	cfg.Recognizer.Whitelist = ocr.DigitChars
	cfg.Recognizer.MaxRetries = 3
	cfg.Recognizer.RetryDelay = time.Second
	cfg.Recognizer.CacheTTL = 24 * time.Hour

	cfg.Output.LogLevel = "info"

	cfg.Batch.GroupSize = tally.DefaultGroupSize

	return cfg
}

// Load reads path (a missing file yields defaults), loads envFile into the
// environment when it exists, applies environment overrides and validates.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error loading %s: %w", envFile, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Recognizer.APIKey = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Store.DatabaseURL = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Recognizer.RedisAddr = v
	}
	if v := os.Getenv(EnvBackend); v != "" {
		c.Recognizer.Backend = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Output.LogLevel = v
	}
}

// Validate checks field ranges and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Recognizer.Backend == string(ocr.BackendVision) && c.Recognizer.APIKey == "" {
		return fmt.Errorf("invalid config: vision backend needs %s", EnvAPIKey)
	}
	for i, b := range c.Detection.Bands {
		if b.Hue[0] > b.Hue[1] || b.Sat[0] > b.Sat[1] || b.Val[0] > b.Val[1] {
			return fmt.Errorf("invalid config: band %d has min above max", i)
		}
	}
	if !c.DetectParams().Matches(colorutil.Marker) {
		return fmt.Errorf("invalid config: no marker band covers the marker color")
	}
	return nil
}

// Save writes the file-backed part of the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// DetectParams returns the canvas and marker detection parameters.
func (c *Config) DetectParams() detect.Params {
	bands := make([]detect.MarkerBand, len(c.Detection.Bands))
	for i, b := range c.Detection.Bands {
		bands[i] = detect.MarkerBand{
			HueMin: b.Hue[0], HueMax: b.Hue[1],
			SatMin: b.Sat[0], SatMax: b.Sat[1],
			ValMin: b.Val[0], ValMax: b.Val[1],
		}
	}
	p := detect.DefaultParams().
		WithCanvasThreshold(c.Detection.CanvasThreshold).
		WithMarkerBands(bands...).
		WithBlobArea(c.Detection.MinBlobArea, c.Detection.MaxBlobArea)
	p.CanvasDivisor = c.Detection.CanvasDivisor
	p.OpenKernel = c.Detection.OpenKernel
	return p
}

// ReferenceParams returns the label crop parameters.
func (c *Config) ReferenceParams() reference.Params {
	r := c.Reference
	return reference.DefaultParams().
		WithCrop(r.CropX, r.CropFromBottom, r.CropWidth, r.CropHeight).
		WithPreprocess(r.Threshold, r.Scale)
}

// Thresholds returns the classification limits.
func (c *Config) Thresholds() tally.Thresholds {
	return tally.Thresholds{
		DetectionThreshold: c.Classification.DetectionThreshold,
		MaxVariation:       c.Classification.MaxVariation,
		Tolerance:          c.Classification.Tolerance,
	}
}

// OCROptions returns the recognizer backend options.
func (c *Config) OCROptions() ocr.Options {
	r := c.Recognizer
	return ocr.Options{
		Backend:      ocr.Backend(r.Backend),
		Language:     r.Language,
		Whitelist:    r.Whitelist,
		APIKey:       r.APIKey,
		Model:        r.Model,
		RequestsPerS: r.RequestsPerS,
		MaxRetries:   r.MaxRetries,
		RetryDelay:   r.RetryDelay,
		RedisAddr:    r.RedisAddr,
		CacheTTL:     r.CacheTTL,
	}
}

// LogOptions returns the logger settings.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{Level: c.Output.LogLevel, File: c.Output.LogFile}
}
