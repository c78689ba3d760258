package jpegbridge

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/stage"
)

const (
	defaultMaxQueueBytes  = 4 << 20
	defaultSinkMaxBuffers = 2

	minDimension = 16
	maxWidth     = 7680
	maxHeight    = 4320
	maxFPS       = 120
)

// Config contains the construction-time parameters of a Pipeline.
//
// Start from DefaultConfig: Create validates every field and only fills
// Name, Logger, MaxQueueBytes and SinkMaxBuffers when they are zero.
type Config struct {
	// Name labels logs and metrics (default: random UUID)
	Name string `yaml:"name"`
	// Resolution selects a preset output size; ResCustom uses Width/Height
	Resolution Resolution `yaml:"resolution"`
	// Width and Height of the output JPEG (even, 16..7680 x 16..4320)
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	// FrameRate is the nominal input rate used to stamp access units (1..120 fps)
	FrameRate Fraction `yaml:"frame_rate"`
	// Aspect selects stretch or letterbox scaling
	Aspect Aspect `yaml:"aspect"`
	// ScaleMethod is the scaler interpolation
	ScaleMethod ScaleMethod `yaml:"scale_method"`
	// JPEGQuality is the encoder quality (1-100)
	JPEGQuality int `yaml:"jpeg_quality"`
	// Acceleration selects the decoder implementation
	Acceleration HardwareAccel `yaml:"acceleration"`
	// DecoderMaxErrors is how many consecutive decode errors are tolerated
	// before they become fatal; -1 never escalates
	DecoderMaxErrors int `yaml:"decoder_max_errors"`
	// MaxQueueBytes bounds the ingest queue; beyond it PushBuffer returns
	// ErrBackpressure (default: 4 MiB)
	MaxQueueBytes uint64 `yaml:"max_queue_bytes"`
	// SinkMaxBuffers is how many finished frames the sink holds before it
	// starts dropping (default: 2)
	SinkMaxBuffers uint `yaml:"sink_max_buffers"`
	// WaitForKeyframe skips units until the first IDR or SPS unit
	WaitForKeyframe bool `yaml:"wait_for_keyframe"`
	// Logger receives pipeline logs (default: slog.Default())
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns 1080p at 30/1 fps, stretch scaling, bilinear
// interpolation, JPEG quality 85 and automatic decoder selection.
func DefaultConfig() Config {
	return Config{
		Resolution:       ResCustom,
		Width:            1920,
		Height:           1080,
		FrameRate:        Fraction{Num: 30, Den: 1},
		Aspect:           AspectStretch,
		ScaleMethod:      ScaleBilinear,
		JPEGQuality:      85,
		Acceleration:     AccelAuto,
		DecoderMaxErrors: -1,
		MaxQueueBytes:    defaultMaxQueueBytes,
		SinkMaxBuffers:   defaultSinkMaxBuffers,
		WaitForKeyframe:  true,
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("jpeg-bridge: read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Dimensions resolves the output size from Resolution or Width/Height.
func (c Config) Dimensions() (width, height int) {
	if c.Resolution != ResCustom {
		return c.Resolution.Dimensions()
	}
	return c.Width, c.Height
}

// Validate rejects unsupported values.
func (c Config) Validate() error {
	if c.Resolution < ResCustom || c.Resolution > Res2160p {
		return fmt.Errorf("%w: invalid resolution %d", ErrInvalidConfig, c.Resolution)
	}

	w, h := c.Dimensions()
	if w < minDimension || w > maxWidth || h < minDimension || h > maxHeight {
		return fmt.Errorf("%w: invalid resolution %dx%d (must be %d-%d x %d-%d)",
			ErrInvalidConfig, w, h, minDimension, maxWidth, minDimension, maxHeight)
	}
	if w%2 != 0 || h%2 != 0 {
		return fmt.Errorf("%w: resolution %dx%d must be even", ErrInvalidConfig, w, h)
	}

	if c.FrameRate.Num <= 0 || c.FrameRate.Den <= 0 {
		return fmt.Errorf("%w: invalid frame rate %s", ErrInvalidConfig, c.FrameRate)
	}
	if fps := c.FrameRate.FPS(); fps < 1 || fps > maxFPS {
		return fmt.Errorf("%w: invalid frame rate %s (must be 1-%d fps)", ErrInvalidConfig, c.FrameRate, maxFPS)
	}

	if c.Aspect != AspectStretch && c.Aspect != AspectLetterbox {
		return fmt.Errorf("%w: invalid aspect mode %d", ErrInvalidConfig, c.Aspect)
	}
	if c.ScaleMethod.String() == "unknown" {
		return fmt.Errorf("%w: invalid scale method %d", ErrInvalidConfig, c.ScaleMethod)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("%w: invalid JPEG quality %d (must be 1-100)", ErrInvalidConfig, c.JPEGQuality)
	}
	if c.Acceleration.String() == "unknown" {
		return fmt.Errorf("%w: invalid acceleration %d", ErrInvalidConfig, c.Acceleration)
	}
	if c.DecoderMaxErrors < -1 {
		return fmt.Errorf("%w: invalid decoder max errors %d (must be >= -1)", ErrInvalidConfig, c.DecoderMaxErrors)
	}
	return nil
}

// withDefaults fills the optional fields.
func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = uuid.New().String()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxQueueBytes == 0 {
		c.MaxQueueBytes = defaultMaxQueueBytes
	}
	if c.SinkMaxBuffers == 0 {
		c.SinkMaxBuffers = defaultSinkMaxBuffers
	}
	return c
}

// stageParams maps the configuration onto stage descriptor parameters.
func (c Config) stageParams() stage.Params {
	w, h := c.Dimensions()
	return stage.Params{
		Width:            w,
		Height:           h,
		AddBorders:       c.Aspect == AspectLetterbox,
		ScaleMethod:      int(c.ScaleMethod),
		JPEGQuality:      c.JPEGQuality,
		Decoders:         c.Acceleration.decoders(),
		DecoderMaxErrors: c.DecoderMaxErrors,
		MaxQueueBytes:    c.MaxQueueBytes,
		SinkMaxBuffers:   c.SinkMaxBuffers,
	}
}
