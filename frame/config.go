package frame

import (
	"fmt"
	"log"
	"time"
)

// BlurMethod selects the kind of blur the orchestrator applies.
type BlurMethod string

const (
	BlurPixelation BlurMethod = "pixelation"
	BlurGaussian   BlurMethod = "gaussian"
)

// Config is the single struct carrying every pipeline tunable. It is
// constructed once and passed into the Session at construction time;
// components never read the environment themselves.
type Config struct {
	// Blur
	BlurMethodKind BlurMethod
	PixelSize      int
	GaussianSigma  float64
	BlurDilationPx int

	// Batch Collector (Lane 2 accumulation)
	BatchMaxWait      time.Duration
	BatchMaxSize      int
	MaxPendingBatches int

	// Inference Client
	DetectTimeout          time.Duration
	DetectMaxRetries       int
	CircuitBreakerWindow   uint32
	CircuitBreakerCooldown time.Duration

	// Tracker Set & Confidence Store
	ConfidenceDecayRate    float64
	MinConfidenceFloor     float64
	IoUAssocThreshold      float64
	MaxMissedFrames        int
	MaxTrackAge            time.Duration
	KalmanProcessNoise     float64
	KalmanMeasurementNoise float64

	// Lane Orchestrator
	PublishTimeout       time.Duration
	IdleTimeout          time.Duration
	Lane1Budget          time.Duration
	OverloadWindowFrames int
	OverloadFractionTrip float64

	// Logger is used by every component; Log returns log.Default() if nil.
	// Components tag their own messages with a bracketed prefix.
	Logger *log.Logger
}

// DefaultConfig returns a Config populated with production defaults.
func DefaultConfig() *Config {
	return &Config{
		BlurMethodKind: BlurPixelation,
		PixelSize:      20,
		GaussianSigma:  25,
		BlurDilationPx: 8,

		BatchMaxWait:      30 * time.Millisecond,
		BatchMaxSize:      8,
		MaxPendingBatches: 2,

		DetectTimeout:          2 * time.Second,
		DetectMaxRetries:       3,
		CircuitBreakerWindow:   5,
		CircuitBreakerCooldown: 60 * time.Second,

		ConfidenceDecayRate:    0.85,
		MinConfidenceFloor:     0.3,
		IoUAssocThreshold:      0.3,
		MaxMissedFrames:        15,
		MaxTrackAge:            2 * time.Second,
		KalmanProcessNoise:     1e-2,
		KalmanMeasurementNoise: 1e-1,

		PublishTimeout:       50 * time.Millisecond,
		IdleTimeout:          time.Second,
		Lane1Budget:          30 * time.Millisecond,
		OverloadWindowFrames: 100,
		OverloadFractionTrip: 0.10,
	}
}

// Validate enforces the construction-time invariants every component relies on.
func (c *Config) Validate() error {
	if c.MaxPendingBatches <= 0 {
		return fmt.Errorf("max_pending_batches must be > 0, got %d", c.MaxPendingBatches)
	}
	if c.ConfidenceDecayRate <= 0 || c.ConfidenceDecayRate >= 1 {
		return fmt.Errorf("confidence_decay_rate must be in (0,1), got %v", c.ConfidenceDecayRate)
	}
	if c.MinConfidenceFloor <= 0 || c.MinConfidenceFloor >= 1 {
		return fmt.Errorf("min_confidence_floor must be in (0,1), got %v", c.MinConfidenceFloor)
	}
	if c.BatchMaxSize <= 0 {
		return fmt.Errorf("batch_max_size must be > 0, got %d", c.BatchMaxSize)
	}
	if c.IoUAssocThreshold < 0 || c.IoUAssocThreshold > 1 {
		return fmt.Errorf("iou_assoc_threshold must be in [0,1], got %v", c.IoUAssocThreshold)
	}
	if c.BlurMethodKind != BlurPixelation && c.BlurMethodKind != BlurGaussian {
		return fmt.Errorf("blur_method must be %q or %q, got %q", BlurPixelation, BlurGaussian, c.BlurMethodKind)
	}
	return nil
}

// Log returns the configured logger, or the default logger if none was set.
func (c *Config) Log() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}
